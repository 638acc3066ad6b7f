package texture

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// State is the bit set describing a handle.
type State uint32

const (
	// StateIndexed is set while the handle has (or is getting) its own
	// resource: between submission and eviction.
	StateIndexed State = 1 << iota
	// StateLoaded is set once a load attempt finished, successfully or not.
	StateLoaded
	// StateError is set when the last load attempt failed.
	StateError
	StateSRGB
	StateNormalMap
)

func (s State) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  State
		name string
	}{
		{StateIndexed, "indexed"},
		{StateLoaded, "loaded"},
		{StateError, "error"},
		{StateSRGB, "srgb"},
		{StateNormalMap, "normalmap"},
	} {
		if s&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// SubscriptionID identifies a persistent callback.
type SubscriptionID uint64

var nextSubscription atomic.Uint64

// Handle is the shared unit of texture ownership. Renderers may bind
// Image() at any time: until the own resource exists it returns the image
// of the manager's current error texture.
type Handle struct {
	name  string
	ident string

	mu       sync.Mutex
	path     string
	ext      string
	image    gpu.Image
	fallback *errorSlot
	state    State
	updates  uint64
	refs     int
	lastErr  error

	onLoaded  []func(*Handle)
	onChanged map[SubscriptionID]func(*Handle)
	onRemove  map[SubscriptionID]func(*Handle)
}

func newHandle(name, ident string, fallback *errorSlot) *Handle {
	return &Handle{
		name:      name,
		ident:     ident,
		fallback:  fallback,
		onChanged: make(map[SubscriptionID]func(*Handle)),
		onRemove:  make(map[SubscriptionID]func(*Handle)),
	}
}

// Name returns the cache key.
func (h *Handle) Name() string { return h.name }

// Path returns the resolved source file, empty if none was found.
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

// Ext returns the detected container extension.
func (h *Handle) Ext() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ext
}

// State returns the current state flags.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Loaded reports whether a load attempt has completed.
func (h *Handle) Loaded() bool { return h.State()&StateLoaded != 0 }

// Failed reports whether the last load attempt failed.
func (h *Handle) Failed() bool { return h.State()&StateError != 0 }

// Err returns the error of the last failed load attempt.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Image returns the handle's own image, or the error texture's image while
// it has none. The fallback is resolved on every call.
func (h *Handle) Image() gpu.Image {
	h.mu.Lock()
	img, fb := h.image, h.fallback
	h.mu.Unlock()
	if img != nil || fb == nil {
		return img
	}
	return fb.image()
}

// ownImage returns the handle's own image without falling back.
func (h *Handle) ownImage() gpu.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.image
}

// HasValidTexture reports whether the handle owns a GPU image.
func (h *Handle) HasValidTexture() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.image != nil
}

// MipmapCount returns the level count of the bound image, 0 if none.
func (h *Handle) MipmapCount() uint32 {
	img := h.Image()
	if img == nil {
		return 0
	}
	return img.Desc().Levels
}

// UpdateCount returns how often the resource was replaced.
func (h *Handle) UpdateCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates
}

// Acquire registers an external holder.
func (h *Handle) Acquire() *Handle {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
	return h
}

// Release drops an external holder. Unheld handles become eligible for
// Manager.ClearUnused.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	h.mu.Unlock()
}

// Refs returns the number of external holders.
func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// CallOnLoaded runs fn now if the handle is loaded, otherwise once the
// current load attempt finishes. fn runs exactly once either way.
func (h *Handle) CallOnLoaded(fn func(*Handle)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	if h.state&StateLoaded != 0 {
		h.mu.Unlock()
		fn(h)
		return
	}
	h.onLoaded = append(h.onLoaded, fn)
	h.mu.Unlock()
}

// OnTextureChanged subscribes fn to every resource replacement.
func (h *Handle) OnTextureChanged(fn func(*Handle)) SubscriptionID {
	id := SubscriptionID(nextSubscription.Add(1))
	h.mu.Lock()
	h.onChanged[id] = fn
	h.mu.Unlock()
	return id
}

// OnRemove subscribes fn to the handle's removal from its manager.
func (h *Handle) OnRemove(fn func(*Handle)) SubscriptionID {
	id := SubscriptionID(nextSubscription.Add(1))
	h.mu.Lock()
	h.onRemove[id] = fn
	h.mu.Unlock()
	return id
}

// Unsubscribe removes a persistent callback.
func (h *Handle) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	delete(h.onChanged, id)
	delete(h.onRemove, id)
	h.mu.Unlock()
}

// runOnLoaded fires and clears the queued on-loaded callbacks.
func (h *Handle) runOnLoaded() {
	h.mu.Lock()
	fns := h.onLoaded
	h.onLoaded = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(h)
	}
}

func (h *Handle) runChanged() {
	for _, fn := range h.subscribers(h.onChanged) {
		fn(h)
	}
}

func (h *Handle) runRemove() {
	for _, fn := range h.subscribers(h.onRemove) {
		fn(h)
	}
}

func (h *Handle) subscribers(m map[SubscriptionID]func(*Handle)) []func(*Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(*Handle), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	return fns
}

// markPending clears Loaded and Error for a new attempt. The current image
// stays bound until the result replaces it.
func (h *Handle) markPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = (h.state | StateIndexed) &^ (StateLoaded | StateError)
}

func (h *Handle) setSource(path, ext string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
	h.ext = ext
}

// setImage swaps in a new own image, clears Error and marks the handle
// loaded. It returns the replaced image for the caller to destroy.
func (h *Handle) setImage(img gpu.Image, extra State) gpu.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.image
	h.image = img
	h.lastErr = nil
	h.state = (h.state | StateIndexed | StateLoaded | extra) &^ StateError
	h.updates++
	return old
}

// fail marks the handle as loaded with an error and drops its own image,
// which is returned for the caller to destroy.
func (h *Handle) fail(err error) gpu.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.image
	h.image = nil
	h.lastErr = err
	h.state |= StateLoaded | StateError
	h.updates++
	return old
}

// clear drops the own image and returns it. Indexed and Loaded are reset.
func (h *Handle) clear() gpu.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clearLocked()
}

func (h *Handle) clearLocked() gpu.Image {
	old := h.image
	h.image = nil
	h.state &^= StateIndexed | StateLoaded
	h.updates++
	return old
}

// demote clears an unheld handle that owns an image and returns that image.
// Holders and the image are checked under the same lock as the clear, so a
// concurrent Acquire either wins or sees the demoted state.
func (h *Handle) demote() gpu.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 || h.image == nil {
		return nil
	}
	return h.clearLocked()
}
