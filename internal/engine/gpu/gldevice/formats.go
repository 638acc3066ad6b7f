package gldevice

import (
	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// Compressed internal formats from EXT_texture_compression_s3tc,
// EXT_texture_sRGB and ARB_texture_compression_bptc.
const (
	compressedRGBAS3TCDXT1      = 0x83F1
	compressedRGBAS3TCDXT3      = 0x83F2
	compressedRGBAS3TCDXT5      = 0x83F3
	compressedSRGBAlphaS3TCDXT1 = 0x8C4D
	compressedSRGBAlphaS3TCDXT3 = 0x8C4E
	compressedSRGBAlphaS3TCDXT5 = 0x8C4F
	compressedRGBABPTCUnorm     = 0x8E8C
	compressedSRGBAlphaBPTC     = 0x8E8D
)

const (
	extS3TC = "GL_EXT_texture_compression_s3tc"
	extBPTC = "GL_ARB_texture_compression_bptc"
)

// glFormat maps a gpu.Format to its GL enums. pixelFormat and pixelType are
// zero for compressed formats.
type glFormat struct {
	internal     uint32
	internalSRGB uint32
	pixelFormat  uint32
	pixelType    uint32
	extension    string
}

var glFormats = map[gpu.Format]glFormat{
	gpu.FormatR8Unorm:     {internal: gl.R8, pixelFormat: gl.RED, pixelType: gl.UNSIGNED_BYTE},
	gpu.FormatRG8Unorm:    {internal: gl.RG8, pixelFormat: gl.RG, pixelType: gl.UNSIGNED_BYTE},
	gpu.FormatRGB8Unorm:   {internal: gl.RGB8, internalSRGB: gl.SRGB8, pixelFormat: gl.RGB, pixelType: gl.UNSIGNED_BYTE},
	gpu.FormatBGR8Unorm:   {internal: gl.RGB8, internalSRGB: gl.SRGB8, pixelFormat: gl.BGR, pixelType: gl.UNSIGNED_BYTE},
	gpu.FormatRGBA8Unorm:  {internal: gl.RGBA8, internalSRGB: gl.SRGB8_ALPHA8, pixelFormat: gl.RGBA, pixelType: gl.UNSIGNED_BYTE},
	gpu.FormatBGRA8Unorm:  {internal: gl.RGBA8, internalSRGB: gl.SRGB8_ALPHA8, pixelFormat: gl.BGRA, pixelType: gl.UNSIGNED_BYTE},
	gpu.FormatRGBA16Float: {internal: gl.RGBA16F, pixelFormat: gl.RGBA, pixelType: gl.HALF_FLOAT},
	gpu.FormatRGBA32Float: {internal: gl.RGBA32F, pixelFormat: gl.RGBA, pixelType: gl.FLOAT},
	gpu.FormatBC1:         {internal: compressedRGBAS3TCDXT1, internalSRGB: compressedSRGBAlphaS3TCDXT1, extension: extS3TC},
	gpu.FormatBC2:         {internal: compressedRGBAS3TCDXT3, internalSRGB: compressedSRGBAlphaS3TCDXT3, extension: extS3TC},
	gpu.FormatBC3:         {internal: compressedRGBAS3TCDXT5, internalSRGB: compressedSRGBAlphaS3TCDXT5, extension: extS3TC},
	gpu.FormatBC4:         {internal: gl.COMPRESSED_RED_RGTC1},
	gpu.FormatBC5:         {internal: gl.COMPRESSED_RG_RGTC2},
	gpu.FormatBC7:         {internal: compressedRGBABPTCUnorm, internalSRGB: compressedSRGBAlphaBPTC, extension: extBPTC},
}

func (f glFormat) internalFormat(srgb bool) uint32 {
	if srgb && f.internalSRGB != 0 {
		return f.internalSRGB
	}
	return f.internal
}

// features derives the capability table from the context's extensions.
// Uncompressed formats are color-renderable in a 4.1 core context, so they
// can take part in framebuffer blits. Compressed formats can only be
// sampled.
func features(exts map[string]bool) map[gpu.Format]gpu.FormatFeature {
	out := make(map[gpu.Format]gpu.FormatFeature, len(glFormats))
	for f, gf := range glFormats {
		if gf.extension != "" && !exts[gf.extension] {
			continue
		}
		if f.Compressed() {
			out[f] = gpu.FeatureSampled
			continue
		}
		out[f] = gpu.FeatureSampled | gpu.FeatureBlitSrc | gpu.FeatureBlitDst
	}
	return out
}

var swizzleEnums = [...]int32{
	gpu.SwizzleR:    gl.RED,
	gpu.SwizzleG:    gl.GREEN,
	gpu.SwizzleB:    gl.BLUE,
	gpu.SwizzleA:    gl.ALPHA,
	gpu.SwizzleZero: gl.ZERO,
	gpu.SwizzleOne:  gl.ONE,
}

// swizzleMask returns the TEXTURE_SWIZZLE_RGBA value for s, or false if s
// is the identity.
func swizzleMask(s [4]gpu.Swizzle) ([4]int32, bool) {
	identity := [4]int32{gl.RED, gl.GREEN, gl.BLUE, gl.ALPHA}
	if s == [4]gpu.Swizzle{} {
		return identity, false
	}
	mask := identity
	for i, c := range s {
		if c != gpu.SwizzleIdentity && int(c) < len(swizzleEnums) {
			mask[i] = swizzleEnums[c]
		}
	}
	return mask, mask != identity
}
