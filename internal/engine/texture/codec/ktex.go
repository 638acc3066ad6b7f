package codec

import (
	"errors"
	"fmt"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/pkg/ktex"
)

var ktexFormats = map[ktex.Format]gpu.Format{
	ktex.FormatR8:      gpu.FormatR8Unorm,
	ktex.FormatRG8:     gpu.FormatRG8Unorm,
	ktex.FormatRGB8:    gpu.FormatRGB8Unorm,
	ktex.FormatRGBA8:   gpu.FormatRGBA8Unorm,
	ktex.FormatBGRA8:   gpu.FormatBGRA8Unorm,
	ktex.FormatRGBA16F: gpu.FormatRGBA16Float,
	ktex.FormatRGBA32F: gpu.FormatRGBA32Float,
	ktex.FormatBC1:     gpu.FormatBC1,
	ktex.FormatBC2:     gpu.FormatBC2,
	ktex.FormatBC3:     gpu.FormatBC3,
	ktex.FormatBC4:     gpu.FormatBC4,
	ktex.FormatBC5:     gpu.FormatBC5,
	ktex.FormatBC7:     gpu.FormatBC7,
}

// KTEXFormat maps a device format to its container format.
func KTEXFormat(f gpu.Format) (ktex.Format, bool) {
	for k, v := range ktexFormats {
		if v == f {
			return k, true
		}
	}
	return 0, false
}

// ktexHandler serves surfaces from a KTEX container, inflating each one the
// first time it is requested.
type ktexHandler struct {
	opts    Options
	file    *ktex.File
	format  gpu.Format
	inflate map[[2]uint32][]byte
}

// NewKTEX returns a handler for engine-native KTEX containers.
func NewKTEX(opts Options) Handler {
	return &ktexHandler{opts: opts}
}

func (h *ktexHandler) LoadData(data []byte, info *InputInfo) error {
	f, err := ktex.Parse(data)
	if err != nil {
		if errors.Is(err, ktex.ErrFormat) {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return err
	}
	format, ok := ktexFormats[f.Format]
	if !ok {
		return fmt.Errorf("%w: KTEX format %d", ErrUnsupported, f.Format)
	}

	*info = InputInfo{
		Width:   f.Width,
		Height:  f.Height,
		Format:  format,
		Layers:  f.Layers,
		Mipmaps: f.Mipmaps,
	}
	if f.Cubemap {
		info.Flags |= FlagCubemap
	}
	if f.SRGB {
		info.Flags |= FlagSRGB
	}
	if exp := format.Expanded(); exp != gpu.FormatUndefined {
		info.ConversionFormat = exp
	}

	h.file = f
	h.format = format
	h.inflate = make(map[[2]uint32][]byte)
	return nil
}

func (h *ktexHandler) Data(layer, mip uint32) ([]byte, error) {
	if h.file == nil {
		return nil, ErrNotLoaded
	}
	key := [2]uint32{layer, mip}
	if s, ok := h.inflate[key]; ok {
		return s, nil
	}
	w, ht := gpu.MipExtent(h.file.Width, h.file.Height, mip)
	want := h.format.SurfaceSize(w, ht)
	raw, err := h.file.RawSize(layer, mip)
	if err != nil {
		return nil, err
	}
	if raw != want {
		return nil, fmt.Errorf("%w: KTEX surface %d/%d is %d bytes, want %d", ErrCorrupt, layer, mip, raw, want)
	}
	s, err := h.file.Surface(layer, mip)
	if err != nil {
		return nil, err
	}
	if len(s) != want {
		return nil, fmt.Errorf("%w: KTEX surface %d/%d is %d bytes, want %d", ErrCorrupt, layer, mip, len(s), want)
	}
	if h.opts.FlipVertically && !h.format.Compressed() {
		s = append([]byte(nil), s...)
		flipRows(s, int(w)*h.format.BlockBytes(), int(ht))
	}
	h.inflate[key] = s
	return s, nil
}
