// Package codec defines the format handler contract and the registry that
// maps file extensions to handler factories.
//
// A handler is constructed per load, fed the whole file once through
// LoadData, asked for surfaces through Data and then dropped. Handlers never
// touch the GPU.
package codec

import (
	"errors"
	"strings"
	"sync"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

var (
	// ErrUnsupported is returned for containers or pixel layouts a handler
	// recognizes but cannot decode.
	ErrUnsupported = errors.New("codec: unsupported texture data")
	// ErrCorrupt is returned for structurally invalid or truncated files.
	ErrCorrupt = errors.New("codec: corrupt texture data")
	// ErrNotLoaded is returned by Data before a successful LoadData.
	ErrNotLoaded = errors.New("codec: no data loaded")
)

const (
	// maxArrayLayers bounds the layer count a container may claim.
	maxArrayLayers = 2048
	// maxDecodedBytes bounds the memory a handler builds from a small file.
	maxDecodedBytes = 1 << 30
)

// InfoFlags qualify an InputInfo.
type InfoFlags uint32

const (
	FlagCubemap InfoFlags = 1 << iota
	FlagSRGB
)

// Swizzle selects the source of one sampled channel.
type Swizzle = gpu.Swizzle

const (
	SwizzleIdentity = gpu.SwizzleIdentity
	SwizzleR        = gpu.SwizzleR
	SwizzleG        = gpu.SwizzleG
	SwizzleB        = gpu.SwizzleB
	SwizzleA        = gpu.SwizzleA
	SwizzleZero     = gpu.SwizzleZero
	SwizzleOne      = gpu.SwizzleOne
)

// InputInfo describes decoded texture data.
type InputInfo struct {
	Width   uint32
	Height  uint32
	Format  gpu.Format
	Layers  uint32
	Mipmaps uint32
	Flags   InfoFlags
	Swizzle [4]Swizzle
	// ConversionFormat is the format the data must be converted to when the
	// device cannot sample Format directly; FormatUndefined when none.
	ConversionFormat gpu.Format
}

// Cubemap reports whether the layers form cube faces.
func (i InputInfo) Cubemap() bool { return i.Flags&FlagCubemap != 0 }

// SRGB reports whether the data is sRGB encoded.
func (i InputInfo) SRGB() bool { return i.Flags&FlagSRGB != 0 }

// Handler decodes one texture container.
type Handler interface {
	// LoadData parses the container and fills info. It returns an error
	// wrapping ErrCorrupt or ErrUnsupported when the data cannot be used.
	LoadData(data []byte, info *InputInfo) error
	// Data returns the bytes of one surface. It is only called after a
	// successful LoadData and the slice stays valid for the handler's life.
	Data(layer, mip uint32) ([]byte, error)
}

// Options are passed to every handler a registry constructs.
type Options struct {
	FlipVertically bool
}

// Factory constructs a fresh handler.
type Factory func(opts Options) Handler

// Registry maps extensions to handler factories.
type Registry struct {
	// FlipVertically makes handlers flip uncompressed images so the first
	// row in memory is the bottom of the image.
	FlipVertically bool

	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with every built-in handler. The
// registration order is the probe order used for identifiers without an
// extension.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterFormatHandler(NewKTEX, "ktex")
	r.RegisterFormatHandler(NewDDS, "dds")
	r.RegisterFormatHandler(NewTGA, "tga")
	r.RegisterFormatHandler(NewSPR, "spr")
	r.RegisterFormatHandler(NewImage, "png", "jpg", "jpeg", "bmp", "gif", "tif", "tiff", "webp")
	return r
}

// NormalizeExt lower-cases an extension and strips the leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// RegisterFormatHandler maps each extension to factory. Re-registering an
// extension replaces its factory but keeps its probe position.
func (r *Registry) RegisterFormatHandler(factory Factory, extensions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range extensions {
		ext = NormalizeExt(ext)
		if ext == "" {
			continue
		}
		if _, ok := r.factories[ext]; !ok {
			r.order = append(r.order, ext)
		}
		r.factories[ext] = factory
	}
}

// CreateHandler returns a new handler for ext, or false if no handler is
// registered. A missing handler means the format is unsupported.
func (r *Registry) CreateHandler(ext string) (Handler, bool) {
	r.mu.RLock()
	factory, ok := r.factories[NormalizeExt(ext)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(Options{FlipVertically: r.FlipVertically}), true
}

// Supports reports whether ext has a registered handler.
func (r *Registry) Supports(ext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[NormalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions in registration order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
