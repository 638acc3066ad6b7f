package gldevice

import (
	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// commandBuffer records closures replayed by FlushSetupCommands. GL has no
// image layouts, so barriers only update the tracked layout.
type commandBuffer struct {
	dev      *Device
	recorded []func()
}

func (c *commandBuffer) record(fn func()) {
	c.recorded = append(c.recorded, fn)
}

func (c *commandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layer, level uint32) {
	buf, img := src.(*Buffer), dst.(*Image)
	c.record(func() {
		w, h := gpu.MipExtent(img.desc.Width, img.desc.Height, level)
		gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, buf.id)
		gl.BindTexture(img.target, img.id)
		defer gl.BindTexture(img.target, 0)

		if img.layered() {
			if img.desc.Format.Compressed() {
				gl.CompressedTexSubImage3D(img.target, int32(level), 0, 0, int32(layer),
					int32(w), int32(h), 1, img.internal, int32(buf.size), gl.PtrOffset(0))
			} else {
				gl.TexSubImage3D(img.target, int32(level), 0, 0, int32(layer),
					int32(w), int32(h), 1, img.format.pixelFormat, img.format.pixelType, gl.PtrOffset(0))
			}
			return
		}
		target := img.faceTarget(layer)
		if img.desc.Format.Compressed() {
			gl.CompressedTexSubImage2D(target, int32(level), 0, 0,
				int32(w), int32(h), img.internal, int32(buf.size), gl.PtrOffset(0))
		} else {
			gl.TexSubImage2D(target, int32(level), 0, 0,
				int32(w), int32(h), img.format.pixelFormat, img.format.pixelType, gl.PtrOffset(0))
		}
	})
}

func (c *commandBuffer) Barrier(dst gpu.Image, from, to gpu.Layout) {
	img := dst.(*Image)
	c.record(func() {
		if img.layout != from && img.layout != gpu.LayoutUndefined && from != gpu.LayoutUndefined {
			c.dev.log.Warn("unexpected layout in barrier",
				zap.String("image", img.desc.Label),
				zap.Stringer("have", img.layout),
				zap.Stringer("from", from))
		}
		img.layout = to
	})
}

func (c *commandBuffer) Blit(src, dst gpu.Image) {
	s, d := src.(*Image), dst.(*Image)
	c.record(func() {
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, c.dev.readFBO)
		gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, c.dev.drawFBO)
		for layer := uint32(0); layer < s.desc.Layers; layer++ {
			attach(gl.READ_FRAMEBUFFER, s, layer)
			attach(gl.DRAW_FRAMEBUFFER, d, layer)
			gl.BlitFramebuffer(
				0, 0, int32(s.desc.Width), int32(s.desc.Height),
				0, 0, int32(d.desc.Width), int32(d.desc.Height),
				gl.COLOR_BUFFER_BIT, gl.LINEAR)
		}
	})
}

// attach binds level 0 of one layer of img as color attachment 0.
func attach(target uint32, img *Image, layer uint32) {
	if img.layered() {
		gl.FramebufferTextureLayer(target, gl.COLOR_ATTACHMENT0, img.id, 0, int32(layer))
		return
	}
	gl.FramebufferTexture2D(target, gl.COLOR_ATTACHMENT0, img.faceTarget(layer), img.id, 0)
}

func (c *commandBuffer) GenerateMipmaps(dst gpu.Image) {
	img := dst.(*Image)
	c.record(func() {
		gl.BindTexture(img.target, img.id)
		gl.GenerateMipmap(img.target)
		gl.BindTexture(img.target, 0)
		img.layout = gpu.LayoutShaderRead
	})
}
