package gpu

import "fmt"

// Format is a device pixel format.
type Format uint32

// Supported pixel formats. Block-compressed formats use 4x4 texel blocks.
const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGB8Unorm
	FormatBGR8Unorm
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatRGBA16Float
	FormatRGBA32Float
	FormatBC1
	FormatBC2
	FormatBC3
	FormatBC4
	FormatBC5
	FormatBC7
)

var formatNames = [...]string{
	FormatUndefined:   "undefined",
	FormatR8Unorm:     "r8unorm",
	FormatRG8Unorm:    "rg8unorm",
	FormatRGB8Unorm:   "rgb8unorm",
	FormatBGR8Unorm:   "bgr8unorm",
	FormatRGBA8Unorm:  "rgba8unorm",
	FormatBGRA8Unorm:  "bgra8unorm",
	FormatRGBA16Float: "rgba16float",
	FormatRGBA32Float: "rgba32float",
	FormatBC1:         "bc1",
	FormatBC2:         "bc2",
	FormatBC3:         "bc3",
	FormatBC4:         "bc4",
	FormatBC5:         "bc5",
	FormatBC7:         "bc7",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("format(%d)", uint32(f))
}

// Valid reports whether f is a known, defined format.
func (f Format) Valid() bool {
	return f != FormatUndefined && int(f) < len(formatNames)
}

// Compressed reports whether f is a block-compressed format.
func (f Format) Compressed() bool {
	return f >= FormatBC1 && f <= FormatBC7
}

// BlockBytes returns the size of one 4x4 block for compressed formats and
// the size of one texel otherwise.
func (f Format) BlockBytes() int {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRG8Unorm:
		return 2
	case FormatRGB8Unorm, FormatBGR8Unorm:
		return 3
	case FormatRGBA8Unorm, FormatBGRA8Unorm:
		return 4
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	case FormatBC1, FormatBC4:
		return 8
	case FormatBC2, FormatBC3, FormatBC5, FormatBC7:
		return 16
	}
	return 0
}

// MaxExtent is the largest width or height any image may have.
const MaxExtent = 16384

// SurfaceSize returns the byte size of a single width x height surface.
// The product is formed in 64 bits so header-supplied extents cannot wrap.
func (f Format) SurfaceSize(width, height uint32) int {
	w, h := uint64(max(width, 1)), uint64(max(height, 1))
	if f.Compressed() {
		w, h = (w+3)/4, (h+3)/4
	}
	return int(w * h * uint64(f.BlockBytes()))
}

// Expanded returns the four-channel equivalent of a packed three-channel
// format, or FormatUndefined if f is not one.
func (f Format) Expanded() Format {
	switch f {
	case FormatRGB8Unorm:
		return FormatRGBA8Unorm
	case FormatBGR8Unorm:
		return FormatBGRA8Unorm
	}
	return FormatUndefined
}

// MipmapCount returns the length of a full mip chain for the given extent.
func MipmapCount(width, height uint32) uint32 {
	size := max(width, height)
	if size == 0 {
		return 1
	}
	var levels uint32
	for size > 0 {
		levels++
		size >>= 1
	}
	return levels
}

// MipExtent returns the extent of mip level `level` of a base extent.
func MipExtent(width, height, level uint32) (uint32, uint32) {
	return max(width>>level, 1), max(height>>level, 1)
}
