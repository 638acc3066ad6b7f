// Package gldevice implements gpu.Device on an OpenGL 4.1 core context.
//
// Every method except FormatFeatures must be called on the goroutine that
// holds the context. The device is therefore not suitable for
// texture.Config.MultithreadedUpload.
package gldevice

import (
	"errors"
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/logger"
)

// ErrOutOfMemory is returned when GL reports GL_OUT_OF_MEMORY.
var ErrOutOfMemory = errors.New("gldevice: out of memory")

// Device is a gpu.Device backed by the current GL context.
type Device struct {
	log      *zap.Logger
	features map[gpu.Format]gpu.FormatFeature
	cmds     commandBuffer
	readFBO  uint32
	drawFBO  uint32
}

// New creates a device for the current context. gl.Init must have been
// called on this thread.
func New() (*Device, error) {
	exts := extensions()
	d := &Device{log: logger.Named("gl"), features: features(exts)}
	d.cmds.dev = d

	gl.GenFramebuffers(1, &d.readFBO)
	gl.GenFramebuffers(1, &d.drawFBO)
	if err := glError("create framebuffers"); err != nil {
		return nil, err
	}

	d.log.Info("device ready",
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.Bool("s3tc", exts[extS3TC]),
		zap.Bool("bptc", exts[extBPTC]))
	return d, nil
}

// Release deletes the device's own GL objects. Images and buffers created
// from it must be destroyed separately.
func (d *Device) Release() {
	gl.DeleteFramebuffers(1, &d.readFBO)
	gl.DeleteFramebuffers(1, &d.drawFBO)
}

func extensions() map[string]bool {
	var n int32
	gl.GetIntegerv(gl.NUM_EXTENSIONS, &n)
	exts := make(map[string]bool, n)
	for i := int32(0); i < n; i++ {
		exts[gl.GoStr(gl.GetStringi(gl.EXTENSIONS, uint32(i)))] = true
	}
	return exts
}

// FormatFeatures implements gpu.Device. The table is fixed at New, so this
// is safe from any goroutine.
func (d *Device) FormatFeatures(f gpu.Format) gpu.FormatFeature {
	return d.features[f]
}

// CreateImage allocates storage for every level of desc.
func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	gf, ok := glFormats[desc.Format]
	if !ok || d.features[desc.Format] == 0 {
		return nil, fmt.Errorf("gldevice: format %s not supported", desc.Format)
	}
	if desc.Cubemap && desc.Layers%6 != 0 {
		return nil, fmt.Errorf("gldevice: cubemap %q has %d layers", desc.Label, desc.Layers)
	}

	img := &Image{
		desc:     desc,
		target:   textureTarget(desc),
		internal: gf.internalFormat(desc.SRGB),
		format:   gf,
	}
	gl.GenTextures(1, &img.id)
	gl.BindTexture(img.target, img.id)
	defer gl.BindTexture(img.target, 0)

	for level := uint32(0); level < desc.Levels; level++ {
		img.allocateLevel(level)
	}

	gl.TexParameteri(img.target, gl.TEXTURE_BASE_LEVEL, 0)
	gl.TexParameteri(img.target, gl.TEXTURE_MAX_LEVEL, int32(desc.Levels-1))
	gl.TexParameteri(img.target, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	if desc.Levels > 1 {
		gl.TexParameteri(img.target, gl.TEXTURE_MIN_FILTER, gl.LINEAR_MIPMAP_LINEAR)
	} else {
		gl.TexParameteri(img.target, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	}
	if mask, ok := swizzleMask(desc.Swizzle); ok {
		gl.TexParameteriv(img.target, gl.TEXTURE_SWIZZLE_RGBA, &mask[0])
	}

	if err := glError("create image " + desc.Label); err != nil {
		gl.DeleteTextures(1, &img.id)
		return nil, err
	}
	return img, nil
}

// CreateStagingBuffer copies data into a pixel unpack buffer.
func (d *Device) CreateStagingBuffer(data []byte) (gpu.Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("gldevice: empty staging buffer")
	}
	b := &Buffer{size: len(data)}
	gl.GenBuffers(1, &b.id)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, b.id)
	gl.BufferData(gl.PIXEL_UNPACK_BUFFER, len(data), gl.Ptr(data), gl.STREAM_DRAW)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, 0)

	if err := glError("create staging buffer"); err != nil {
		gl.DeleteBuffers(1, &b.id)
		return nil, err
	}
	return b, nil
}

// Commands implements gpu.Device.
func (d *Device) Commands() gpu.CommandBuffer {
	return &d.cmds
}

// FlushSetupCommands replays the recorded commands and waits for the GL
// queue to drain.
func (d *Device) FlushSetupCommands() error {
	cmds := d.cmds.recorded
	d.cmds.recorded = nil

	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	for _, cmd := range cmds {
		cmd()
	}
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, 0)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	gl.Finish()

	return glError("flush setup commands")
}

// DiscardSetupCommands implements gpu.Device.
func (d *Device) DiscardSetupCommands() {
	d.cmds.recorded = nil
}

// glError drains the GL error queue and reports the first error.
func glError(op string) error {
	var first uint32
	for code := gl.GetError(); code != gl.NO_ERROR; code = gl.GetError() {
		if first == 0 {
			first = code
		}
	}
	switch first {
	case 0:
		return nil
	case gl.OUT_OF_MEMORY:
		return fmt.Errorf("%s: %w", op, ErrOutOfMemory)
	default:
		return fmt.Errorf("gldevice: %s: %s", op, errorName(first))
	}
}

func errorName(code uint32) string {
	switch code {
	case gl.INVALID_ENUM:
		return "invalid enum"
	case gl.INVALID_VALUE:
		return "invalid value"
	case gl.INVALID_OPERATION:
		return "invalid operation"
	case gl.INVALID_FRAMEBUFFER_OPERATION:
		return "invalid framebuffer operation"
	}
	return fmt.Sprintf("error 0x%x", code)
}

var _ gpu.Device = (*Device)(nil)
