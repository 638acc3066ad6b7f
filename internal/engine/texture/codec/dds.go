package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

const (
	ddsMagic      = "DDS "
	ddsHeaderSize = 128 // magic + DDS_HEADER
	dx10Size      = 20

	ddpfAlphaPixels = 0x1
	ddpfFourCC      = 0x4
	ddpfRGB         = 0x40
	ddpfLuminance   = 0x20000

	ddsCaps2Cubemap    = 0x200
	dx10MiscCubemap    = 0x4
	ddsMaxMipmapLevels = 16
)

var fourCCFormats = map[string]gpu.Format{
	"DXT1": gpu.FormatBC1,
	"DXT2": gpu.FormatBC2,
	"DXT3": gpu.FormatBC2,
	"DXT4": gpu.FormatBC3,
	"DXT5": gpu.FormatBC3,
	"ATI1": gpu.FormatBC4,
	"BC4U": gpu.FormatBC4,
	"ATI2": gpu.FormatBC5,
	"BC5U": gpu.FormatBC5,
}

type dxgiFormat struct {
	format gpu.Format
	srgb   bool
}

var dxgiFormats = map[uint32]dxgiFormat{
	2:  {gpu.FormatRGBA32Float, false},
	10: {gpu.FormatRGBA16Float, false},
	28: {gpu.FormatRGBA8Unorm, false},
	29: {gpu.FormatRGBA8Unorm, true},
	49: {gpu.FormatRG8Unorm, false},
	61: {gpu.FormatR8Unorm, false},
	71: {gpu.FormatBC1, false},
	72: {gpu.FormatBC1, true},
	74: {gpu.FormatBC2, false},
	75: {gpu.FormatBC2, true},
	77: {gpu.FormatBC3, false},
	78: {gpu.FormatBC3, true},
	80: {gpu.FormatBC4, false},
	83: {gpu.FormatBC5, false},
	87: {gpu.FormatBGRA8Unorm, false},
	91: {gpu.FormatBGRA8Unorm, true},
	98: {gpu.FormatBC7, false},
	99: {gpu.FormatBC7, true},
}

// ddsHandler reads DirectDraw Surface files, including the DX10 extension
// header. Block-compressed surfaces are never flipped.
type ddsHandler struct {
	opts     Options
	mipmaps  uint32
	surfaces [][]byte
}

// NewDDS returns a handler for DDS files.
func NewDDS(opts Options) Handler {
	return &ddsHandler{opts: opts}
}

func (h *ddsHandler) LoadData(data []byte, info *InputInfo) error {
	if len(data) < ddsHeaderSize || string(data[:4]) != ddsMagic {
		return fmt.Errorf("%w: not a DDS file", ErrCorrupt)
	}
	le := binary.LittleEndian
	if le.Uint32(data[4:]) != 124 {
		return fmt.Errorf("%w: DDS header size", ErrCorrupt)
	}

	*info = InputInfo{
		Height:  le.Uint32(data[12:]),
		Width:   le.Uint32(data[16:]),
		Mipmaps: max(le.Uint32(data[28:]), 1),
		Layers:  1,
	}
	if info.Width == 0 || info.Height == 0 {
		return fmt.Errorf("%w: DDS has zero extent", ErrCorrupt)
	}
	if info.Width > gpu.MaxExtent || info.Height > gpu.MaxExtent {
		return fmt.Errorf("%w: DDS extent %dx%d", ErrCorrupt, info.Width, info.Height)
	}
	if info.Mipmaps > ddsMaxMipmapLevels {
		return fmt.Errorf("%w: DDS claims %d mipmaps", ErrCorrupt, info.Mipmaps)
	}

	pfFlags := le.Uint32(data[80:])
	fourCC := string(data[84:88])
	caps2 := le.Uint32(data[112:])
	offset := ddsHeaderSize

	switch {
	case pfFlags&ddpfFourCC != 0 && fourCC == "DX10":
		if len(data) < ddsHeaderSize+dx10Size {
			return fmt.Errorf("%w: DDS DX10 header truncated", ErrCorrupt)
		}
		dxgi := le.Uint32(data[128:])
		f, ok := dxgiFormats[dxgi]
		if !ok {
			return fmt.Errorf("%w: DXGI format %d", ErrUnsupported, dxgi)
		}
		info.Format = f.format
		if f.srgb {
			info.Flags |= FlagSRGB
		}
		if le.Uint32(data[136:])&dx10MiscCubemap != 0 {
			info.Flags |= FlagCubemap
		}
		info.Layers = max(le.Uint32(data[140:]), 1)
		if info.Layers > maxArrayLayers {
			return fmt.Errorf("%w: DDS claims %d array layers", ErrCorrupt, info.Layers)
		}
		offset += dx10Size
	case pfFlags&ddpfFourCC != 0:
		f, ok := fourCCFormats[fourCC]
		if !ok {
			return fmt.Errorf("%w: DDS fourCC %q", ErrUnsupported, fourCC)
		}
		info.Format = f
	default:
		if err := ddsPixelFormat(data, pfFlags, info); err != nil {
			return err
		}
	}

	if caps2&ddsCaps2Cubemap != 0 {
		info.Flags |= FlagCubemap
	}
	if info.Cubemap() {
		info.Layers *= 6
	}

	var layerSize uint64
	for mip := uint32(0); mip < info.Mipmaps; mip++ {
		w, ht := gpu.MipExtent(info.Width, info.Height, mip)
		layerSize += uint64(info.Format.SurfaceSize(w, ht))
	}
	if layerSize*uint64(info.Layers) > uint64(len(data)-offset) {
		return fmt.Errorf("%w: DDS payload is %d bytes, header needs %d", ErrCorrupt, len(data)-offset, layerSize*uint64(info.Layers))
	}

	h.mipmaps = info.Mipmaps
	h.surfaces = make([][]byte, 0, info.Layers*info.Mipmaps)
	for layer := uint32(0); layer < info.Layers; layer++ {
		for mip := uint32(0); mip < info.Mipmaps; mip++ {
			w, ht := gpu.MipExtent(info.Width, info.Height, mip)
			size := info.Format.SurfaceSize(w, ht)
			if offset+size > len(data) {
				return fmt.Errorf("%w: DDS surface %d/%d truncated", ErrCorrupt, layer, mip)
			}
			surface := data[offset : offset+size : offset+size]
			if h.opts.FlipVertically && !info.Format.Compressed() {
				surface = append([]byte(nil), surface...)
				flipRows(surface, int(w)*info.Format.BlockBytes(), int(ht))
			}
			h.surfaces = append(h.surfaces, surface)
			offset += size
		}
	}
	return nil
}

// ddsPixelFormat maps a legacy uncompressed pixel format description.
func ddsPixelFormat(data []byte, pfFlags uint32, info *InputInfo) error {
	le := binary.LittleEndian
	bits := le.Uint32(data[88:])
	rMask := le.Uint32(data[92:])

	switch {
	case pfFlags&ddpfRGB != 0 && bits == 32 && rMask == 0x00ff0000:
		info.Format = gpu.FormatBGRA8Unorm
	case pfFlags&ddpfRGB != 0 && bits == 32 && rMask == 0x000000ff:
		info.Format = gpu.FormatRGBA8Unorm
	case pfFlags&ddpfRGB != 0 && bits == 24 && rMask == 0x00ff0000:
		info.Format = gpu.FormatBGR8Unorm
		info.ConversionFormat = gpu.FormatBGRA8Unorm
	case pfFlags&ddpfRGB != 0 && bits == 24 && rMask == 0x000000ff:
		info.Format = gpu.FormatRGB8Unorm
		info.ConversionFormat = gpu.FormatRGBA8Unorm
	case pfFlags&ddpfLuminance != 0 && pfFlags&ddpfAlphaPixels == 0 && bits == 8:
		info.Format = gpu.FormatR8Unorm
		info.Swizzle = [4]Swizzle{SwizzleR, SwizzleR, SwizzleR, SwizzleOne}
	default:
		return fmt.Errorf("%w: DDS pixel format flags=0x%x bits=%d", ErrUnsupported, pfFlags, bits)
	}
	return nil
}

func (h *ddsHandler) Data(layer, mip uint32) ([]byte, error) {
	if h.surfaces == nil {
		return nil, ErrNotLoaded
	}
	i := int(layer*h.mipmaps + mip)
	if mip >= h.mipmaps || i >= len(h.surfaces) {
		return nil, fmt.Errorf("codec: DDS has no surface %d/%d", layer, mip)
	}
	return h.surfaces[i], nil
}
