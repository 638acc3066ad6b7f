package codec

import (
	"fmt"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/pkg/spr"
)

// sprHandler turns a sprite sheet into an RGBA8 array texture, one layer
// per frame. Frames are centered on a canvas the size of the largest frame.
type sprHandler struct {
	opts   Options
	layers [][]byte
}

// NewSPR returns a handler for SPR sprite sheets.
func NewSPR(opts Options) Handler {
	return &sprHandler{opts: opts}
}

func (h *sprHandler) LoadData(data []byte, info *InputInfo) error {
	sheet, err := spr.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(sheet.Frames) == 0 {
		return fmt.Errorf("%w: sprite sheet has no frames", ErrCorrupt)
	}

	width, height := sheet.Bounds()
	if width > gpu.MaxExtent || height > gpu.MaxExtent || len(sheet.Frames) > maxArrayLayers {
		return fmt.Errorf("%w: %d frames of %dx%d", ErrCorrupt, len(sheet.Frames), width, height)
	}
	rowBytes := width * 4
	if total := len(sheet.Frames) * rowBytes * height; total > maxDecodedBytes {
		return fmt.Errorf("%w: sprite sheet expands to %d bytes", ErrCorrupt, total)
	}
	h.layers = make([][]byte, len(sheet.Frames))
	for i, f := range sheet.Frames {
		canvas := make([]byte, rowBytes*height)
		ox, oy := (width-f.Width)/2, (height-f.Height)/2
		for y := 0; y < f.Height; y++ {
			dst := (oy+y)*rowBytes + ox*4
			copy(canvas[dst:dst+f.Width*4], f.Pix[y*f.Width*4:])
		}
		if h.opts.FlipVertically {
			flipRows(canvas, rowBytes, height)
		}
		h.layers[i] = canvas
	}

	*info = InputInfo{
		Width:   uint32(width),
		Height:  uint32(height),
		Format:  gpu.FormatRGBA8Unorm,
		Layers:  uint32(len(h.layers)),
		Mipmaps: 1,
	}
	return nil
}

func (h *sprHandler) Data(layer, mip uint32) ([]byte, error) {
	if h.layers == nil {
		return nil, ErrNotLoaded
	}
	if mip != 0 || int(layer) >= len(h.layers) {
		return nil, fmt.Errorf("codec: sprite sheet has no surface %d/%d", layer, mip)
	}
	return h.layers[layer], nil
}
