package gldevice

import (
	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// Image is a GL texture object.
type Image struct {
	id       uint32
	target   uint32
	internal uint32
	format   glFormat
	desc     gpu.ImageDesc
	layout   gpu.Layout
}

// Desc implements gpu.Image.
func (img *Image) Desc() gpu.ImageDesc { return img.desc }

// ID returns the texture name for binding.
func (img *Image) ID() uint32 { return img.id }

// Target returns the texture target (2D, 2D array, cube map, cube array).
func (img *Image) Target() uint32 { return img.target }

// Layout returns the layout of the last recorded transition.
func (img *Image) Layout() gpu.Layout { return img.layout }

// Destroy deletes the texture. Calling it twice is a no-op.
func (img *Image) Destroy() {
	if img.id != 0 {
		gl.DeleteTextures(1, &img.id)
		img.id = 0
	}
}

func textureTarget(desc gpu.ImageDesc) uint32 {
	switch {
	case desc.Cubemap && desc.Layers > 6:
		return gl.TEXTURE_CUBE_MAP_ARRAY
	case desc.Cubemap:
		return gl.TEXTURE_CUBE_MAP
	case desc.Layers > 1:
		return gl.TEXTURE_2D_ARRAY
	}
	return gl.TEXTURE_2D
}

// faceTarget returns the 2D target addressing one layer of a plain 2D or
// cube map texture.
func (img *Image) faceTarget(layer uint32) uint32 {
	if img.target == gl.TEXTURE_CUBE_MAP {
		return gl.TEXTURE_CUBE_MAP_POSITIVE_X + layer
	}
	return gl.TEXTURE_2D
}

func (img *Image) layered() bool {
	return img.target == gl.TEXTURE_2D_ARRAY || img.target == gl.TEXTURE_CUBE_MAP_ARRAY
}

// allocateLevel defines storage for one level. The texture must be bound.
func (img *Image) allocateLevel(level uint32) {
	w, h := gpu.MipExtent(img.desc.Width, img.desc.Height, level)
	compressed := img.desc.Format.Compressed()
	size := int32(img.desc.Format.SurfaceSize(w, h))

	if img.layered() {
		depth := int32(img.desc.Layers)
		if compressed {
			gl.CompressedTexImage3D(img.target, int32(level), img.internal,
				int32(w), int32(h), depth, 0, size*depth, nil)
		} else {
			gl.TexImage3D(img.target, int32(level), int32(img.internal),
				int32(w), int32(h), depth, 0, img.format.pixelFormat, img.format.pixelType, nil)
		}
		return
	}

	faces := uint32(1)
	if img.target == gl.TEXTURE_CUBE_MAP {
		faces = 6
	}
	for face := uint32(0); face < faces; face++ {
		target := img.faceTarget(face)
		if compressed {
			gl.CompressedTexImage2D(target, int32(level), img.internal,
				int32(w), int32(h), 0, size, nil)
		} else {
			gl.TexImage2D(target, int32(level), int32(img.internal),
				int32(w), int32(h), 0, img.format.pixelFormat, img.format.pixelType, nil)
		}
	}
}

// Buffer is a pixel unpack buffer object.
type Buffer struct {
	id   uint32
	size int
}

// Size implements gpu.Buffer.
func (b *Buffer) Size() int { return b.size }

// Destroy deletes the buffer. Calling it twice is a no-op.
func (b *Buffer) Destroy() {
	if b.id != 0 {
		gl.DeleteBuffers(1, &b.id)
		b.id = 0
	}
}
