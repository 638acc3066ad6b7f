package codec

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// imageHandler decodes anything the image package has a decoder for.
type imageHandler struct {
	opts Options
	pix  []byte
}

// NewImage returns a handler for PNG, JPEG, GIF, BMP, TIFF and WebP files.
func NewImage(opts Options) Handler {
	return &imageHandler{opts: opts}
}

func (h *imageHandler) LoadData(data []byte, info *InputInfo) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if cfg.Width > gpu.MaxExtent || cfg.Height > gpu.MaxExtent {
		return fmt.Errorf("%w: image extent %dx%d", ErrCorrupt, cfg.Width, cfg.Height)
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: empty %s image", ErrCorrupt, name)
	}

	*info = InputInfo{
		Width:   uint32(b.Dx()),
		Height:  uint32(b.Dy()),
		Layers:  1,
		Mipmaps: 1,
	}

	switch src := img.(type) {
	case *image.Gray:
		gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
		h.pix = gray.Pix
		info.Format = gpu.FormatR8Unorm
		info.Swizzle = [4]Swizzle{SwizzleR, SwizzleR, SwizzleR, SwizzleOne}
	default:
		h.pix = ToNRGBA(img).Pix
		info.Format = gpu.FormatRGBA8Unorm
	}

	if h.opts.FlipVertically {
		flipRows(h.pix, int(info.Width)*info.Format.BlockBytes(), int(info.Height))
	}
	return nil
}

func (h *imageHandler) Data(layer, mip uint32) ([]byte, error) {
	if h.pix == nil {
		return nil, ErrNotLoaded
	}
	if layer != 0 || mip != 0 {
		return nil, fmt.Errorf("codec: image has no surface %d/%d", layer, mip)
	}
	return h.pix, nil
}

// ToNRGBA converts any image to a tightly packed *image.NRGBA at the origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// flipRows reverses the row order of a tightly packed surface in place.
func flipRows(pix []byte, rowBytes, rows int) {
	tmp := make([]byte, rowBytes)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pix[top*rowBytes : (top+1)*rowBytes]
		b := pix[bottom*rowBytes : (bottom+1)*rowBytes]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
