// Package renderer draws texture previews with OpenGL.
package renderer

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/gpu/gldevice"
	"github.com/Faultbox/texpipe/internal/engine/renderer/shaders"
	"github.com/Faultbox/texpipe/internal/engine/shader"
	"github.com/Faultbox/texpipe/internal/logger"
)

// Config holds renderer configuration.
type Config struct {
	Width  int
	Height int
}

// Preview uniforms. uLayer only exists in the array program.
var (
	requiredUniforms = []string{"uScale"}
	optionalUniforms = []string{"uTexture", "uLod", "uLayer"}
)

func newProgram(fragment string) (*shader.Program, error) {
	return shader.Link(shaders.PreviewVertex, fragment, requiredUniforms, optionalUniforms)
}

// Renderer draws one texture, letterboxed to the viewport.
type Renderer struct {
	config Config

	flat    *shader.Program
	layered *shader.Program

	quadVAO uint32
	quadVBO uint32
}

// New creates a new renderer.
// IMPORTANT: Must be called AFTER OpenGL context is created!
func New(cfg Config) (*Renderer, error) {
	r := &Renderer{
		config: cfg,
	}

	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}

	logger.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)

	gl.Enable(gl.BLEND)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	gl.ClearColor(0.1, 0.1, 0.15, 1.0)
	gl.Viewport(0, 0, int32(cfg.Width), int32(cfg.Height))

	var err error
	if r.flat, err = newProgram(shaders.Preview2DFragment); err != nil {
		return nil, fmt.Errorf("2D preview program: %w", err)
	}
	if r.layered, err = newProgram(shaders.PreviewArrayFragment); err != nil {
		r.flat.Delete()
		return nil, fmt.Errorf("array preview program: %w", err)
	}

	r.createQuad()
	return r, nil
}

// Close cleans up renderer resources.
func (r *Renderer) Close() {
	logger.Info("closing renderer")
	if r.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &r.quadVAO)
	}
	if r.quadVBO != 0 {
		gl.DeleteBuffers(1, &r.quadVBO)
	}
	r.flat.Delete()
	r.layered.Delete()
}

// Resize handles window resize.
func (r *Renderer) Resize(width, height int) {
	r.config.Width = width
	r.config.Height = height
	gl.Viewport(0, 0, int32(width), int32(height))
	logger.Debug("renderer resized",
		zap.Int("width", width),
		zap.Int("height", height),
	)
}

// Begin starts a new frame.
func (r *Renderer) Begin() {
	gl.Clear(gl.COLOR_BUFFER_BIT)
}

// DrawImage draws one layer and mip level of img. It reports false for
// images it cannot preview: cube maps and images from other devices.
func (r *Renderer) DrawImage(img gpu.Image, layer uint32, lod float32) bool {
	gi, ok := img.(*gldevice.Image)
	if !ok || gi.ID() == 0 {
		return false
	}

	var p *shader.Program
	switch gi.Target() {
	case gl.TEXTURE_2D:
		p = r.flat
	case gl.TEXTURE_2D_ARRAY:
		p = r.layered
	default:
		return false
	}

	desc := img.Desc()
	sx, sy := FitScale(float32(desc.Width), float32(desc.Height), float32(r.config.Width), float32(r.config.Height))

	gl.UseProgram(p.ID)
	gl.Uniform2f(p.Uniform("uScale"), sx, sy)
	gl.Uniform1i(p.Uniform("uTexture"), 0)
	gl.Uniform1f(p.Uniform("uLod"), lod)
	if loc := p.Uniform("uLayer"); loc >= 0 {
		gl.Uniform1f(loc, float32(layer))
	}

	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gi.Target(), gi.ID())
	gl.BindVertexArray(r.quadVAO)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
	gl.BindVertexArray(0)
	gl.BindTexture(gi.Target(), 0)
	return true
}

// ReadPixels reads back the default framebuffer as bottom-up RGBA rows.
func (r *Renderer) ReadPixels() ([]byte, int, int) {
	w, h := r.config.Width, r.config.Height
	pixels := make([]byte, w*h*4)
	if len(pixels) == 0 {
		return pixels, w, h
	}
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	return pixels, w, h
}

// FitScale returns the quad scale that letterboxes a texW x texH image
// into a viewW x viewH viewport, keeping aspect ratio and never
// magnifying past 90% of the viewport.
func FitScale(texW, texH, viewW, viewH float32) (float32, float32) {
	if texW <= 0 || texH <= 0 || viewW <= 0 || viewH <= 0 {
		return 0, 0
	}
	const margin = 0.9
	texAspect := texW / texH
	viewAspect := viewW / viewH
	if texAspect > viewAspect {
		return margin, margin * viewAspect / texAspect
	}
	return margin * texAspect / viewAspect, margin
}

// createQuad creates the unit quad geometry.
func (r *Renderer) createQuad() {
	// Position (x, y) + UV (u, v). UV v=0 is the top row of the image.
	vertices := []float32{
		-1, -1, 0, 1,
		1, -1, 1, 1,
		-1, 1, 0, 0,
		1, 1, 1, 0,
	}

	gl.GenVertexArrays(1, &r.quadVAO)
	gl.BindVertexArray(r.quadVAO)

	gl.GenBuffers(1, &r.quadVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*4, unsafe.Pointer(&vertices[0]), gl.STATIC_DRAW)

	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 4*4, nil)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(1, 2, gl.FLOAT, false, 4*4, unsafe.Pointer(uintptr(2*4)))
	gl.EnableVertexAttribArray(1)

	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	gl.BindVertexArray(0)

	logger.Debug("preview quad created",
		zap.Uint32("vao", r.quadVAO),
		zap.Uint32("vbo", r.quadVBO),
	)
}
