package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
	"github.com/Faultbox/texpipe/pkg/ktex"
)

type packOptions struct {
	mips        bool
	srgb        bool
	compression ktex.Compression
}

func cmdPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	mips := fs.Bool("mips", false, "Generate the full mip chain on the CPU")
	srgb := fs.Bool("srgb", false, "Mark the texture as sRGB encoded")
	comp := fs.String("c", "lz4", "Surface compression: none, lz4 or snappy")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return errors.New("usage: textool pack [-mips] [-srgb] [-c lz4] <input> <out.ktex>")
	}

	c, err := ktex.ParseCompression(*comp)
	if err != nil {
		return err
	}

	in, out := fs.Arg(0), fs.Arg(1)
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	h, err := packKTEX(codec.NewDefaultRegistry(), filepath.Ext(in), data, &buf, packOptions{
		mips:        *mips,
		srgb:        *srgb,
		compression: c,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return err
	}

	fmt.Printf("Packed: %s -> %s (%dx%d, %d layers, %d mips, %s, %d bytes)\n",
		in, out, h.Width, h.Height, h.Layers, h.Mipmaps, h.Compression, buf.Len())
	return nil
}

// decode runs the registry handler for ext over data.
func decode(reg *codec.Registry, ext string, data []byte) (codec.Handler, codec.InputInfo, error) {
	var info codec.InputInfo
	h, ok := reg.CreateHandler(ext)
	if !ok {
		return nil, info, fmt.Errorf("%w: %q", codec.ErrUnsupported, ext)
	}
	if err := h.LoadData(data, &info); err != nil {
		return nil, info, err
	}
	return h, info, nil
}

// packKTEX decodes data and writes it as a KTEX container to w. With
// opts.mips, single-level RGBA8 inputs get a CPU-built mip chain.
func packKTEX(reg *codec.Registry, ext string, data []byte, w io.Writer, opts packOptions) (ktex.Header, error) {
	h, info, err := decode(reg, ext, data)
	if err != nil {
		return ktex.Header{}, err
	}
	format, ok := codec.KTEXFormat(info.Format)
	if !ok {
		return ktex.Header{}, fmt.Errorf("%w: %s has no KTEX equivalent", codec.ErrUnsupported, info.Format)
	}

	generate := opts.mips && info.Mipmaps == 1
	if generate && info.Format != gpu.FormatRGBA8Unorm {
		return ktex.Header{}, fmt.Errorf("mip generation needs rgba8 input, got %s", info.Format)
	}

	hdr := ktex.Header{
		Format:      format,
		Width:       info.Width,
		Height:      info.Height,
		Layers:      info.Layers,
		Mipmaps:     info.Mipmaps,
		Cubemap:     info.Cubemap(),
		SRGB:        info.SRGB() || opts.srgb,
		Compression: opts.compression,
	}
	if generate {
		hdr.Mipmaps = gpu.MipmapCount(info.Width, info.Height)
	}

	surfaces := make([][]byte, 0, hdr.Layers*hdr.Mipmaps)
	for layer := uint32(0); layer < info.Layers; layer++ {
		if generate {
			base, err := h.Data(layer, 0)
			if err != nil {
				return ktex.Header{}, err
			}
			for _, level := range mipChain(base, int(info.Width), int(info.Height)) {
				surfaces = append(surfaces, level.Pix)
			}
			continue
		}
		for mip := uint32(0); mip < info.Mipmaps; mip++ {
			s, err := h.Data(layer, mip)
			if err != nil {
				return ktex.Header{}, err
			}
			surfaces = append(surfaces, s)
		}
	}

	if err := ktex.Write(w, hdr, surfaces); err != nil {
		return ktex.Header{}, err
	}
	return hdr, nil
}

// mipChain builds every level of a tightly packed RGBA8 surface, level 0
// included, halving each axis with bilinear filtering.
func mipChain(pix []byte, width, height int) []*image.NRGBA {
	base := &image.NRGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	levels := []*image.NRGBA{base}
	for prev := base; width > 1 || height > 1; {
		width, height = max(width/2, 1), max(height/2, 1)
		next := image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		levels = append(levels, next)
		prev = next
	}
	return levels
}
