package codec

import (
	"bytes"
	"fmt"

	"github.com/ftrvxmtrx/tga"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// TGA image type constants.
const (
	TGATypeUncompressed = 2  // Uncompressed true-color
	TGATypeRLE          = 10 // RLE compressed true-color
)

const tgaHeaderSize = 18

// tgaHandler decodes true-color TGA files straight into BGR(A) surfaces.
// Color-mapped and grayscale files go through the generic tga decoder.
type tgaHandler struct {
	opts Options
	pix  []byte
}

// NewTGA returns a handler for TGA files.
func NewTGA(opts Options) Handler {
	return &tgaHandler{opts: opts}
}

func (h *tgaHandler) LoadData(data []byte, info *InputInfo) error {
	if len(data) < tgaHeaderSize {
		return fmt.Errorf("%w: TGA data too short", ErrCorrupt)
	}

	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16])
	descriptor := data[17]

	if width == 0 || height == 0 {
		return fmt.Errorf("%w: TGA has zero extent", ErrCorrupt)
	}
	if width > gpu.MaxExtent || height > gpu.MaxExtent {
		return fmt.Errorf("%w: TGA extent %dx%d", ErrCorrupt, width, height)
	}
	if colorMapType != 0 || (imageType != TGATypeUncompressed && imageType != TGATypeRLE) {
		return h.loadGeneric(data, info)
	}
	if bpp != 24 && bpp != 32 {
		return fmt.Errorf("%w: TGA bit depth %d", ErrUnsupported, bpp)
	}

	offset := tgaHeaderSize + idLength
	if offset > len(data) {
		return fmt.Errorf("%w: TGA data truncated", ErrCorrupt)
	}
	pixelData := data[offset:]
	bytesPerPixel := bpp / 8

	var pix []byte
	if imageType == TGATypeUncompressed {
		expectedSize := width * height * bytesPerPixel
		if len(pixelData) < expectedSize {
			return fmt.Errorf("%w: TGA pixel data truncated", ErrCorrupt)
		}
		pix = append([]byte(nil), pixelData[:expectedSize]...)
	} else {
		var err error
		if pix, err = decodeTGARLE(pixelData, width*height, bytesPerPixel); err != nil {
			return err
		}
	}

	// Bit 5 of the descriptor marks top-to-bottom row order.
	topToBottom := descriptor&0x20 != 0
	if topToBottom == h.opts.FlipVertically {
		flipRows(pix, width*bytesPerPixel, height)
	}

	*info = InputInfo{
		Width:   uint32(width),
		Height:  uint32(height),
		Layers:  1,
		Mipmaps: 1,
	}
	if bytesPerPixel == 3 {
		info.Format = gpu.FormatBGR8Unorm
		info.ConversionFormat = gpu.FormatBGRA8Unorm
	} else {
		info.Format = gpu.FormatBGRA8Unorm
	}
	h.pix = pix
	return nil
}

func (h *tgaHandler) loadGeneric(data []byte, info *InputInfo) error {
	img, err := tga.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rgba := ToNRGBA(img)
	b := rgba.Bounds()
	*info = InputInfo{
		Width:   uint32(b.Dx()),
		Height:  uint32(b.Dy()),
		Format:  gpu.FormatRGBA8Unorm,
		Layers:  1,
		Mipmaps: 1,
	}
	if h.opts.FlipVertically {
		flipRows(rgba.Pix, rgba.Stride, b.Dy())
	}
	h.pix = rgba.Pix
	return nil
}

func (h *tgaHandler) Data(layer, mip uint32) ([]byte, error) {
	if h.pix == nil {
		return nil, ErrNotLoaded
	}
	if layer != 0 || mip != 0 {
		return nil, fmt.Errorf("codec: TGA has no surface %d/%d", layer, mip)
	}
	return h.pix, nil
}

// tgaMaxRun is the most pixels one RLE packet can produce.
const tgaMaxRun = 128

// decodeTGARLE expands RLE packets into pixelCount raw pixels in file order.
func decodeTGARLE(pixelData []byte, pixelCount, bytesPerPixel int) ([]byte, error) {
	// Every packet costs at least one byte plus one pixel.
	if pixelCount > (len(pixelData)/(1+bytesPerPixel)+1)*tgaMaxRun {
		return nil, fmt.Errorf("%w: TGA RLE stream too short for %d pixels", ErrCorrupt, pixelCount)
	}
	total := pixelCount * bytesPerPixel
	out := make([]byte, 0, total)
	dataIdx := 0

	for len(out) < total {
		if dataIdx >= len(pixelData) {
			return nil, fmt.Errorf("%w: TGA RLE stream truncated", ErrCorrupt)
		}
		packet := pixelData[dataIdx]
		dataIdx++
		count := int(packet&0x7F) + 1
		remaining := (total - len(out)) / bytesPerPixel
		if count > remaining {
			count = remaining
		}

		if packet&0x80 != 0 {
			// Run packet: one pixel repeated.
			if dataIdx+bytesPerPixel > len(pixelData) {
				return nil, fmt.Errorf("%w: TGA RLE stream truncated", ErrCorrupt)
			}
			px := pixelData[dataIdx : dataIdx+bytesPerPixel]
			dataIdx += bytesPerPixel
			for i := 0; i < count; i++ {
				out = append(out, px...)
			}
		} else {
			// Raw packet: count literal pixels.
			n := count * bytesPerPixel
			if dataIdx+n > len(pixelData) {
				return nil, fmt.Errorf("%w: TGA RLE stream truncated", ErrCorrupt)
			}
			out = append(out, pixelData[dataIdx:dataIdx+n]...)
			dataIdx += n
		}
	}
	return out, nil
}
