package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/HugoSmits86/nativewebp"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
)

func cmdDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	layer := fs.Uint("layer", 0, "Layer (or cube face) to export")
	mip := fs.Uint("mip", 0, "Mip level to export")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return errors.New("usage: textool dump [-layer n] [-mip n] <input> <out.webp>")
	}

	in, out := fs.Arg(0), fs.Arg(1)
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}

	img, err := surfaceImage(codec.NewDefaultRegistry(), filepath.Ext(in), data, uint32(*layer), uint32(*mip))
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := nativewebp.Encode(f, img, nil); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	b := img.Bounds()
	fmt.Printf("Dumped: %s layer %d mip %d -> %s (%dx%d)\n", in, *layer, *mip, out, b.Dx(), b.Dy())
	return nil
}

// surfaceImage decodes one surface of an uncompressed texture into an
// NRGBA image.
func surfaceImage(reg *codec.Registry, ext string, data []byte, layer, mip uint32) (*image.NRGBA, error) {
	h, info, err := decode(reg, ext, data)
	if err != nil {
		return nil, err
	}
	if layer >= info.Layers || mip >= info.Mipmaps {
		return nil, fmt.Errorf("no surface %d/%d (texture has %d layers, %d mips)", layer, mip, info.Layers, info.Mipmaps)
	}
	if info.Format.Compressed() {
		return nil, fmt.Errorf("%w: cannot export block-compressed %s", codec.ErrUnsupported, info.Format)
	}

	pix, err := h.Data(layer, mip)
	if err != nil {
		return nil, err
	}
	w, ht := gpu.MipExtent(info.Width, info.Height, mip)
	return toNRGBA(info.Format, pix, int(w), int(ht))
}

// toNRGBA expands a tightly packed 8-bit surface to NRGBA.
func toNRGBA(f gpu.Format, pix []byte, w, h int) (*image.NRGBA, error) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	n := w * h
	bpp := f.BlockBytes()
	if len(pix) < n*bpp {
		return nil, fmt.Errorf("%w: surface is %d bytes, want %d", codec.ErrCorrupt, len(pix), n*bpp)
	}

	for i := 0; i < n; i++ {
		s := pix[i*bpp:]
		d := img.Pix[i*4 : i*4+4]
		switch f {
		case gpu.FormatR8Unorm:
			d[0], d[1], d[2], d[3] = s[0], s[0], s[0], 0xff
		case gpu.FormatRG8Unorm:
			d[0], d[1], d[2], d[3] = s[0], s[1], 0, 0xff
		case gpu.FormatRGB8Unorm:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xff
		case gpu.FormatBGR8Unorm:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
		case gpu.FormatRGBA8Unorm:
			copy(d, s[:4])
		case gpu.FormatBGRA8Unorm:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		default:
			return nil, fmt.Errorf("%w: cannot export %s", codec.ErrUnsupported, f)
		}
	}
	return img, nil
}
