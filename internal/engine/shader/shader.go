// Package shader links the GLSL programs used to preview textures and
// caches their uniform locations. Every call touching GL must run on the
// thread that owns the context.
package shader

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// Program is a linked GL program.
type Program struct {
	ID       uint32
	uniforms map[string]int32
}

// Link compiles a vertex and a fragment stage and links them. Each name in
// required must be an active uniform of the result; optional names are
// looked up too and resolve to -1 when the stage compiler dropped them.
func Link(vertex, fragment string, required, optional []string) (*Program, error) {
	vs, err := compile(gl.VERTEX_SHADER, "vertex", vertex)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compile(gl.FRAGMENT_SHADER, "fragment", fragment)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)

	var ok int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &ok)
	if ok == gl.FALSE {
		var n int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &n)
		log := readLog(n, func(buf *uint8) { gl.GetProgramInfoLog(id, n, nil, buf) })
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("link: %s", log)
	}

	p := &Program{ID: id, uniforms: make(map[string]int32, len(required)+len(optional))}
	var missing []string
	for _, name := range required {
		if p.lookup(name) < 0 {
			missing = append(missing, name)
		}
	}
	for _, name := range optional {
		p.lookup(name)
	}
	if len(missing) > 0 {
		p.Delete()
		return nil, fmt.Errorf("link: inactive uniforms %s", strings.Join(missing, ", "))
	}
	return p, nil
}

func (p *Program) lookup(name string) int32 {
	loc := gl.GetUniformLocation(p.ID, gl.Str(cString(name)))
	p.uniforms[name] = loc
	return loc
}

// Uniform returns the cached location of a uniform named at Link time, or
// -1 for any other name.
func (p *Program) Uniform(name string) int32 {
	if loc, ok := p.uniforms[name]; ok {
		return loc
	}
	return -1
}

// Delete releases the program. It is safe on a nil or deleted Program.
func (p *Program) Delete() {
	if p == nil || p.ID == 0 {
		return
	}
	gl.DeleteProgram(p.ID)
	p.ID = 0
}

func compile(kind uint32, stage, source string) (uint32, error) {
	id := gl.CreateShader(kind)
	src, free := gl.Strs(cString(source))
	gl.ShaderSource(id, 1, src, nil)
	free()
	gl.CompileShader(id)

	var ok int32
	gl.GetShaderiv(id, gl.COMPILE_STATUS, &ok)
	if ok == gl.FALSE {
		var n int32
		gl.GetShaderiv(id, gl.INFO_LOG_LENGTH, &n)
		log := readLog(n, func(buf *uint8) { gl.GetShaderInfoLog(id, n, nil, buf) })
		gl.DeleteShader(id)
		return 0, fmt.Errorf("%s stage: %s", stage, log)
	}
	return id, nil
}

// cString NUL-terminates s once, as the gl string helpers require.
func cString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func readLog(n int32, read func(*uint8)) string {
	if n <= 0 {
		return "(no log)"
	}
	buf := make([]byte, n)
	read(&buf[0])
	return trimLog(buf)
}

// trimLog drops the terminator and trailing blank lines drivers append.
func trimLog(buf []byte) string {
	s := strings.TrimRight(string(buf), "\x00\r\n ")
	if s == "" {
		return "(no log)"
	}
	return s
}
