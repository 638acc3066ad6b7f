package texture

import (
	"fmt"
	"sync"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
)

const (
	errorTextureName = "$error"
	errorTextureSize = 8
	errorTextureCell = 4
)

// checkerHandler serves the magenta/black checkerboard bound in place of
// textures that are missing or failed to load.
type checkerHandler struct {
	pix []byte
}

func newCheckerHandler() *checkerHandler {
	pix := make([]byte, errorTextureSize*errorTextureSize*4)
	for y := 0; y < errorTextureSize; y++ {
		for x := 0; x < errorTextureSize; x++ {
			i := (y*errorTextureSize + x) * 4
			if (x/errorTextureCell+y/errorTextureCell)%2 == 0 {
				pix[i+0] = 0xff
				pix[i+2] = 0xff
			}
			pix[i+3] = 0xff
		}
	}
	return &checkerHandler{pix: pix}
}

func (c *checkerHandler) LoadData(_ []byte, info *codec.InputInfo) error {
	*info = codec.InputInfo{
		Width:   errorTextureSize,
		Height:  errorTextureSize,
		Format:  gpu.FormatRGBA8Unorm,
		Layers:  1,
		Mipmaps: 1,
	}
	return nil
}

func (c *checkerHandler) Data(layer, mip uint32) ([]byte, error) {
	if layer != 0 || mip != 0 {
		return nil, fmt.Errorf("error texture has no surface %d/%d", layer, mip)
	}
	return c.pix, nil
}

// errorSlot is shared by every handle of a manager and names the texture
// bound in place of missing images. Replacing or reloading the error
// texture is therefore seen by all handles on their next Image call.
type errorSlot struct {
	mu      sync.Mutex
	current *Handle
	builtin *Handle
}

func (s *errorSlot) get() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *errorSlot) set(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		h = s.builtin
	}
	s.current = h
}

// image returns the current error texture's image, or the checkerboard
// while the current one has none.
func (s *errorSlot) image() gpu.Image {
	s.mu.Lock()
	cur, builtin := s.current, s.builtin
	s.mu.Unlock()
	if cur != nil {
		if img := cur.ownImage(); img != nil {
			return img
		}
	}
	if builtin == nil {
		return nil
	}
	return builtin.ownImage()
}

func (m *Manager) buildErrorTexture() (*Handle, error) {
	src := newCheckerHandler()
	var info codec.InputInfo
	if err := src.LoadData(nil, &info); err != nil {
		return nil, err
	}
	img, err := m.proc.Upload(src, info, upload.Options{
		Mipmaps: upload.MipmapIgnore,
		Label:   errorTextureName,
	})
	if err != nil {
		return nil, err
	}
	h := newHandle(errorTextureName, errorTextureName, nil)
	h.setImage(img, 0)
	return h, nil
}
