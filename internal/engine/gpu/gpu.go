// Package gpu defines the graphics device surface the texture pipeline
// records its uploads against.
//
// A Device is owned by one thread (the thread holding the GL context or the
// command-buffer pool). Only FormatFeatures may be called from other
// goroutines; everything else must run on the owning thread unless the
// concrete device documents otherwise.
package gpu

// FormatFeature is a set of capabilities a device has for a format.
type FormatFeature uint32

const (
	// FeatureSampled means images of the format can be sampled in shaders.
	FeatureSampled FormatFeature = 1 << iota
	// FeatureBlitSrc means the format can be the source of a blit.
	FeatureBlitSrc
	// FeatureBlitDst means the format can be the destination of a blit.
	FeatureBlitDst
)

// Has reports whether all features in want are present.
func (f FormatFeature) Has(want FormatFeature) bool {
	return f&want == want
}

// Usage describes how an image will be used.
type Usage uint32

const (
	UsageSampled Usage = 1 << iota
	UsageTransferSrc
	UsageTransferDst
)

// Layout is the access layout of an image.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutTransferDst
	LayoutTransferSrc
	LayoutShaderRead
)

func (l Layout) String() string {
	switch l {
	case LayoutTransferDst:
		return "transfer-dst"
	case LayoutTransferSrc:
		return "transfer-src"
	case LayoutShaderRead:
		return "shader-read"
	default:
		return "undefined"
	}
}

// Swizzle selects the source of one sampled channel.
type Swizzle uint8

const (
	SwizzleIdentity Swizzle = iota
	SwizzleR
	SwizzleG
	SwizzleB
	SwizzleA
	SwizzleZero
	SwizzleOne
)

// ImageDesc describes an image to create.
type ImageDesc struct {
	Label   string
	Width   uint32
	Height  uint32
	Layers  uint32
	Levels  uint32
	Format  Format
	Cubemap bool
	SRGB    bool
	Usage   Usage
	// Swizzle remaps sampled channels. The zero value samples as stored.
	Swizzle [4]Swizzle
}

// Image is a device-resident texture.
type Image interface {
	Desc() ImageDesc
	Destroy()
}

// Buffer is a host-visible staging buffer.
type Buffer interface {
	Size() int
	Destroy()
}

// CommandBuffer records setup commands. Recorded commands execute at the
// next Device.FlushSetupCommands.
type CommandBuffer interface {
	// CopyBufferToImage copies the whole buffer into one surface of img.
	CopyBufferToImage(src Buffer, dst Image, layer, level uint32)
	// Barrier transitions all subresources of img between layouts.
	Barrier(img Image, from, to Layout)
	// Blit copies level 0 of every layer of src into dst, converting
	// format and scaling as needed.
	Blit(src, dst Image)
	// GenerateMipmaps fills levels 1..n of img from level 0 and leaves the
	// whole image in LayoutShaderRead. img must be in LayoutTransferDst.
	GenerateMipmaps(img Image)
}

// Device is the capability surface the pipeline needs.
type Device interface {
	FormatFeatures(f Format) FormatFeature
	CreateImage(desc ImageDesc) (Image, error)
	CreateStagingBuffer(data []byte) (Buffer, error)
	// Commands returns the setup command buffer of the owning thread.
	Commands() CommandBuffer
	// FlushSetupCommands submits recorded setup commands and waits for them.
	FlushSetupCommands() error
	// DiscardSetupCommands drops recorded setup commands without running them.
	DiscardSetupCommands()
}
