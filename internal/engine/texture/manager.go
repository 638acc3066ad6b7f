// Package texture loads textures asynchronously and keeps them in a cache
// of shared handles.
//
// A Manager is driven by one owning thread, the one holding the device.
// Load returns immediately with a handle that binds the error texture until
// its own image arrives. Files are read and decoded on a single worker
// goroutine; GPU work happens when the owning thread calls Poll.
package texture

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/assets"
	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
	"github.com/Faultbox/texpipe/internal/logger"
)

var (
	// ErrNotFound is recorded on handles whose identifier matched no file.
	ErrNotFound = errors.New("texture: file not found")
	// ErrUnsupportedExtension is recorded when no handler serves an extension.
	ErrUnsupportedExtension = errors.New("texture: unsupported extension")
	// ErrClosed is recorded on handles requested after Close.
	ErrClosed = errors.New("texture: manager closed")
	// ErrRemoved is recorded when a handle was removed while loading.
	ErrRemoved = errors.New("texture: removed while loading")
)

// LoadFlags modify a load request.
type LoadFlags uint32

const (
	// LoadInstantly decodes and uploads on the calling thread.
	LoadInstantly LoadFlags = 1 << iota
	// Reload re-decodes even if the texture is cached and loaded.
	Reload
	// DontCache keeps the result out of the cache. Only honored together
	// with LoadInstantly.
	DontCache
)

// LoadInfo is a full load request.
type LoadInfo struct {
	Flags       LoadFlags
	Priority    int // lower is more urgent
	Mipmaps     upload.MipmapMode
	FinalFormat gpu.Format
	SRGB        bool
	NormalMap   bool
}

// Config configures a Manager.
type Config struct {
	FlipVertically bool
	// MultithreadedUpload lets the worker run Finalize too. The device must
	// then accept resource creation from the worker goroutine.
	MultithreadedUpload bool
	// Mipmaps is the policy used by Load.
	Mipmaps upload.MipmapMode
	// ProbeExtensions overrides the registry order when resolving
	// identifiers.
	ProbeExtensions []string
	// Registry defaults to codec.NewDefaultRegistry().
	Registry *codec.Registry
}

// Stats are cumulative manager counters.
type Stats struct {
	Cached       int
	InFlight     int
	Hits         uint64
	Misses       uint64
	Deduplicated uint64
	Submitted    uint64
	Completed    uint64
	Failed       uint64
	Evicted      uint64
}

type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	dedup     atomic.Uint64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	evicted   atomic.Uint64
}

// Manager owns the texture cache, the worker and the error texture.
type Manager struct {
	dev      gpu.Device
	src      assets.Source
	cfg      Config
	registry *codec.Registry
	proc     *upload.Processor
	probe    []string

	mu       sync.Mutex
	cache    map[string]*Handle
	inflight map[string]*Job
	reloads  []string
	closed   bool

	errTex errorSlot

	decode     *decodeQueue
	init       initQueue
	workerOnce sync.Once
	workerUp   atomic.Bool
	wg         sync.WaitGroup
	nextJob    atomic.Uint64
	stats      counters
}

// New creates a manager and builds the default error texture. It must be
// called on the thread that owns dev.
func New(dev gpu.Device, src assets.Source, cfg Config) (*Manager, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = codec.NewDefaultRegistry()
	}
	registry.FlipVertically = cfg.FlipVertically

	m := &Manager{
		dev:      dev,
		src:      src,
		cfg:      cfg,
		registry: registry,
		proc:     upload.New(dev),
		cache:    make(map[string]*Handle),
		inflight: make(map[string]*Job),
		decode:   newDecodeQueue(),
	}

	if len(cfg.ProbeExtensions) > 0 {
		for _, ext := range cfg.ProbeExtensions {
			ext = codec.NormalizeExt(ext)
			if !registry.Supports(ext) {
				logger.Warn("ignoring unregistered probe extension", zap.String("ext", ext))
				continue
			}
			m.probe = append(m.probe, ext)
		}
	} else {
		m.probe = registry.Extensions()
	}

	errTex, err := m.buildErrorTexture()
	if err != nil {
		return nil, fmt.Errorf("creating error texture: %w", err)
	}
	m.errTex.builtin = errTex
	m.errTex.current = errTex

	logger.Debug("texture manager created",
		zap.Strings("probe", m.probe),
		zap.Bool("flip", cfg.FlipVertically),
		zap.Bool("mtUpload", cfg.MultithreadedUpload),
		zap.Stringer("mipmaps", cfg.Mipmaps))
	return m, nil
}

// Registry returns the manager's format registry.
func (m *Manager) Registry() *codec.Registry { return m.registry }

// Load requests a texture with the manager's default mip policy. The
// returned handle is never nil and carries one reference for the caller.
// onLoaded, if not nil, runs exactly once when the load attempt finishes.
func (m *Manager) Load(identifier string, flags LoadFlags, onLoaded func(*Handle)) *Handle {
	return m.LoadWithInfo(identifier, LoadInfo{Flags: flags, Mipmaps: m.cfg.Mipmaps}, onLoaded)
}

// LoadWithInfo is Load with full request options.
func (m *Manager) LoadWithInfo(identifier string, info LoadInfo, onLoaded func(*Handle)) *Handle {
	return m.load(identifier, info, onLoaded, true)
}

// ReloadTexture re-decodes a texture. Unlike Load it takes no reference.
func (m *Manager) ReloadTexture(identifier string, info LoadInfo) *Handle {
	info.Flags |= Reload
	return m.load(identifier, info, nil, false)
}

// ReloadHandle re-decodes the texture behind h.
func (m *Manager) ReloadHandle(h *Handle, info LoadInfo) {
	info.Flags |= Reload
	m.mu.Lock()
	cached := m.cache[h.name] == h
	m.mu.Unlock()
	if cached {
		m.load(h.ident, info, nil, false)
		return
	}
	// Uncached handles are reloaded in place.
	base, ext := splitIdentifier(h.ident)
	h.markPending()
	m.submit(m.newJob(h, info, false), base, ext)
}

// MarkForReload queues identifier for reloading on the next Poll. Repeated
// marks for the same texture collapse into one reload. A texture still
// loading when the mark is applied is reloaded again once it finishes.
func (m *Manager) MarkForReload(identifier string) {
	m.mu.Lock()
	m.reloads = append(m.reloads, identifier)
	m.mu.Unlock()
}

// splitIdentifier cleans an identifier and splits off its extension.
func splitIdentifier(identifier string) (base, ext string) {
	s := strings.TrimSpace(identifier)
	if s == "" {
		return "", ""
	}
	s = path.Clean(strings.ReplaceAll(s, "\\", "/"))
	s = strings.TrimPrefix(s, "/")
	if s == "." || s == "" {
		return "", ""
	}
	if e := path.Ext(s); e != "" {
		return strings.TrimSuffix(s, e), codec.NormalizeExt(e)
	}
	return s, ""
}

// CacheKey returns the cache key of an identifier.
func CacheKey(identifier string) string {
	base, _ := splitIdentifier(identifier)
	return strings.ToLower(base)
}

func (m *Manager) load(identifier string, info LoadInfo, onLoaded func(*Handle), acquire bool) *Handle {
	base, ext := splitIdentifier(identifier)
	key := strings.ToLower(base)

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()

	switch {
	case closed:
		return m.rejected(key, identifier, ErrClosed, onLoaded, acquire)
	case base == "":
		return m.rejected(key, identifier, fmt.Errorf("%w: empty identifier", ErrNotFound), onLoaded, acquire)
	case ext != "" && !m.registry.Supports(ext):
		return m.rejected(key, identifier, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext), onLoaded, acquire)
	}

	if info.Flags&LoadInstantly != 0 && info.Flags&DontCache != 0 {
		h := newHandle(key, identifier, &m.errTex)
		h.markPending()
		if acquire {
			h.Acquire()
		}
		h.CallOnLoaded(onLoaded)
		m.submit(m.newJob(h, info, false), base, ext)
		return h
	}

	m.mu.Lock()
	h, ok := m.cache[key]
	if !ok {
		h = newHandle(key, identifier, &m.errTex)
		m.cache[key] = h
	} else if job, busy := m.inflight[key]; busy {
		m.stats.dedup.Add(1)
		if info.Flags&LoadInstantly == 0 {
			if info.Flags&Reload != 0 {
				again := info
				job.again = &again
			}
			return m.attachLocked(h, onLoaded, acquire)
		}
		m.mu.Unlock()
		m.finishNow(job)

		m.mu.Lock()
		_, busy = m.inflight[key]
		if busy || m.cache[key] != h || info.Flags&Reload == 0 {
			return m.attachLocked(h, onLoaded, acquire)
		}
	} else if h.State()&(StateIndexed|StateLoaded) != 0 && info.Flags&Reload == 0 {
		m.stats.hits.Add(1)
		return m.attachLocked(h, onLoaded, acquire)
	}
	m.stats.misses.Add(1)
	job := m.newJob(h, info, true)
	m.inflight[key] = job
	h.markPending()
	if acquire {
		h.Acquire()
	}
	m.mu.Unlock()

	h.CallOnLoaded(onLoaded)
	m.submit(job, base, ext)
	return h
}

// attachLocked hands an existing handle to a caller and unlocks m.mu. The
// reference is taken before unlocking so ClearUnused cannot demote the
// handle in between.
func (m *Manager) attachLocked(h *Handle, onLoaded func(*Handle), acquire bool) *Handle {
	if acquire {
		h.Acquire()
	}
	m.mu.Unlock()
	h.CallOnLoaded(onLoaded)
	return h
}

// finishNow completes an in-flight job on the calling thread. A job the
// worker has not started is taken back and run inline; otherwise the call
// waits for the decode and finalizes the result itself.
func (m *Manager) finishNow(job *Job) {
	if m.decode.remove(job) {
		m.decodeJob(job)
		close(job.decoded)
	} else {
		if job.decoded == nil {
			return
		}
		<-job.decoded
		if !m.init.remove(job) {
			return
		}
	}
	m.finalizeJob(job)
	m.complete(job)
}

// rejected returns an uncached handle that failed before any lookup.
func (m *Manager) rejected(key, identifier string, err error, onLoaded func(*Handle), acquire bool) *Handle {
	h := newHandle(key, identifier, &m.errTex)
	if acquire {
		h.Acquire()
	}
	h.fail(err)
	logger.Warn("texture rejected", zap.String("identifier", identifier), zap.Error(err))
	m.stats.failed.Add(1)
	h.CallOnLoaded(onLoaded)
	return h
}

// resolve finds the file for base, trying ext first when given and then
// the probe order.
func (m *Manager) resolve(base, ext string) (string, string, bool) {
	if ext != "" {
		if p := base + "." + ext; m.src.Exists(p) {
			return p, ext, true
		}
	}
	for _, e := range m.probe {
		if e == ext {
			continue
		}
		if p := base + "." + e; m.src.Exists(p) {
			return p, e, true
		}
	}
	return "", "", false
}

func (m *Manager) newJob(h *Handle, info LoadInfo, cached bool) *Job {
	job := &Job{
		ID:       m.nextJob.Add(1),
		Priority: info.Priority,
		Key:      h.name,
		Info:     info,
		Queued:   time.Now(),
		index:    -1,
		handle:   h,
		cached:   cached,
	}
	if info.Flags&LoadInstantly == 0 {
		job.decoded = make(chan struct{})
	}
	return job
}

// submit resolves the file and either runs the job inline or hands it to
// the worker. Its handle must already be pending.
func (m *Manager) submit(job *Job, base, ext string) {
	h := job.handle
	info := job.Info

	p, e, ok := m.resolve(base, ext)
	if !ok {
		// Missing files never reach the queues.
		job.fail(fmt.Errorf("%w: %s", ErrNotFound, base))
		m.complete(job)
		return
	}
	job.Path, job.Ext = p, e
	h.setSource(p, e)

	handler, ok := m.registry.CreateHandler(e)
	if !ok {
		job.fail(fmt.Errorf("%w: %q", ErrUnsupportedExtension, e))
		m.complete(job)
		return
	}
	job.handler = handler
	m.stats.submitted.Add(1)

	if info.Flags&LoadInstantly != 0 {
		m.decodeJob(job)
		m.finalizeJob(job)
		m.complete(job)
		return
	}

	m.startWorker()
	m.decode.push(job)
	logger.Debug("texture job queued",
		zap.Uint64("job", job.ID),
		zap.String("path", job.Path),
		zap.Int("priority", job.Priority))
}

func (m *Manager) startWorker() {
	m.workerOnce.Do(func() {
		m.workerUp.Store(true)
		m.wg.Add(1)
		go m.worker()
	})
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		job, ok := m.decode.pop()
		if !ok {
			return
		}
		m.decodeJob(job)
		if m.cfg.MultithreadedUpload {
			m.finalizeJob(job)
		}
		m.init.push(job)
		close(job.decoded)
	}
}

// decodeJob reads and decodes the file and runs the CPU upload phase.
func (m *Manager) decodeJob(job *Job) {
	job.State = JobDecoding
	job.Started = time.Now()

	data, err := m.src.ReadFile(job.Path)
	if err != nil {
		job.fail(fmt.Errorf("reading %s: %w", job.Path, err))
		return
	}
	var info codec.InputInfo
	if err := job.handler.LoadData(data, &info); err != nil {
		job.fail(fmt.Errorf("decoding %s: %w", job.Path, err))
		return
	}
	prep, err := m.proc.Prepare(job.handler, info, job.uploadOptions())
	if err != nil {
		job.fail(fmt.Errorf("preparing %s: %w", job.Path, err))
		return
	}
	job.handler = nil
	job.prepared = prep
	job.State = JobDecoded
	job.Decoded = time.Now()
}

// finalizeJob runs the GPU upload phase of a decoded job.
func (m *Manager) finalizeJob(job *Job) {
	if job.State != JobDecoded {
		return
	}
	img, err := m.proc.Finalize(job.prepared)
	if err != nil {
		job.fail(fmt.Errorf("uploading %s: %w", job.Path, err))
		return
	}
	job.prepared = nil
	job.image = img
	job.State = JobFinalized
}

// complete merges a finished job into its handle and fires callbacks.
// It runs on the owning thread.
func (m *Manager) complete(job *Job) {
	job.Completed = time.Now()
	h := job.handle

	var again *LoadInfo
	if job.cached {
		m.mu.Lock()
		if m.inflight[job.Key] == job {
			delete(m.inflight, job.Key)
		}
		removed := m.cache[job.Key] != h
		if !removed && !m.closed {
			again = job.again
		}
		m.mu.Unlock()
		if removed && job.State == JobFinalized {
			job.image.Destroy()
			job.image = nil
			job.fail(ErrRemoved)
		}
	}

	var old gpu.Image
	if job.State == JobFinalized {
		var extra State
		if job.image.Desc().SRGB {
			extra |= StateSRGB
		}
		if job.Info.NormalMap {
			extra |= StateNormalMap
		}
		old = h.setImage(job.image, extra)
		m.stats.completed.Add(1)
		logger.Debug("texture loaded",
			zap.Uint64("job", job.ID),
			zap.String("path", job.Path),
			zap.Stringer("format", job.image.Desc().Format),
			zap.Uint32("levels", job.image.Desc().Levels),
			zap.Duration("wait", sub(job.Started, job.Queued)),
			zap.Duration("decode", sub(job.Decoded, job.Started)),
			zap.Duration("total", job.Completed.Sub(job.Queued)))
	} else {
		old = h.fail(job.Err)
		m.stats.failed.Add(1)
		logger.Warn("texture load failed",
			zap.Uint64("job", job.ID),
			zap.String("name", job.Key),
			zap.Error(job.Err))
	}

	h.runChanged()
	if old != nil {
		old.Destroy()
	}
	h.runOnLoaded()

	if again != nil {
		logger.Debug("texture reload deferred until load finished", zap.String("name", job.Key))
		m.load(h.ident, *again, nil, false)
	}
}

func sub(a, b time.Time) time.Duration {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	return a.Sub(b)
}

// Poll finalizes decoded jobs and applies queued reload marks. It must be
// called regularly by the owning thread and returns the number of jobs
// completed.
func (m *Manager) Poll() int {
	jobs := m.init.drain()
	for _, job := range jobs {
		m.finalizeJob(job)
		m.complete(job)
	}

	m.mu.Lock()
	marks := m.reloads
	m.reloads = nil
	m.mu.Unlock()

	seen := make(map[*Handle]struct{}, len(marks))
	for _, id := range marks {
		h, ok := m.Find(id)
		if !ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		m.ReloadHandle(h, LoadInfo{Mipmaps: m.cfg.Mipmaps})
	}
	return len(jobs)
}

// ClearUnused releases the GPU images of handles nobody holds. The handles
// stay cached; loading them again re-submits a job. It returns how many
// images were released.
func (m *Manager) ClearUnused() int {
	type victim struct {
		h   *Handle
		img gpu.Image
	}
	var victims []victim

	m.mu.Lock()
	errTex := m.errTex.get()
	for key, h := range m.cache {
		if _, busy := m.inflight[key]; busy || h == errTex {
			continue
		}
		if img := h.demote(); img != nil {
			victims = append(victims, victim{h, img})
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		v.h.runChanged()
		v.img.Destroy()
	}
	m.stats.evicted.Add(uint64(len(victims)))
	if len(victims) > 0 {
		logger.Debug("released unused textures", zap.Int("count", len(victims)))
	}
	return len(victims)
}

// Find returns the cached handle for identifier.
func (m *Manager) Find(identifier string) (*Handle, bool) {
	key := CacheKey(identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.cache[key]
	return h, ok
}

// IsInFlight reports whether identifier has a load in progress.
func (m *Manager) IsInFlight(identifier string) bool {
	key := CacheKey(identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[key]
	return ok
}

// Pending returns the number of loads in progress.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{Cached: len(m.cache), InFlight: len(m.inflight)}
	m.mu.Unlock()
	s.Hits = m.stats.hits.Load()
	s.Misses = m.stats.misses.Load()
	s.Deduplicated = m.stats.dedup.Load()
	s.Submitted = m.stats.submitted.Load()
	s.Completed = m.stats.completed.Load()
	s.Failed = m.stats.failed.Load()
	s.Evicted = m.stats.evicted.Load()
	return s
}

// SetErrorTexture makes h the image source for every handle without an
// image of its own, including those already failed. A nil h restores the
// built-in checkerboard. While h itself has no image the checkerboard is
// used.
func (m *Manager) SetErrorTexture(h *Handle) {
	m.errTex.set(h)
}

// ErrorTexture returns the current error texture handle.
func (m *Manager) ErrorTexture() *Handle {
	return m.errTex.get()
}

// Remove drops identifier from the cache, fires its on-remove callbacks
// and destroys its image.
func (m *Manager) Remove(identifier string) bool {
	key := CacheKey(identifier)
	m.mu.Lock()
	h, ok := m.cache[key]
	if ok {
		delete(m.cache, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	if m.errTex.get() == h {
		m.errTex.set(nil)
		logger.Debug("error texture removed, using checkerboard", zap.String("name", key))
	}

	h.runRemove()
	if old := h.clear(); old != nil {
		old.Destroy()
	}
	return true
}

// Discard releases a handle created with DontCache: on-remove callbacks
// fire and its image is destroyed. Cached handles are left to Remove.
func (m *Manager) Discard(h *Handle) {
	m.mu.Lock()
	cached := m.cache[h.name] == h
	m.mu.Unlock()
	if cached {
		return
	}
	if m.errTex.get() == h {
		m.errTex.set(nil)
	}
	h.runRemove()
	if old := h.clear(); old != nil {
		old.Destroy()
	}
}

// Close stops the worker, fails every load still in progress, fires
// on-remove for every cached handle and destroys all images, the built-in
// error texture included.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	left := m.decode.close()
	m.wg.Wait()

	abandon := func(job *Job) {
		if job.image != nil {
			job.image.Destroy()
			job.image = nil
		}
		job.fail(ErrClosed)
		m.complete(job)
	}
	for _, job := range left {
		close(job.decoded)
		abandon(job)
	}
	decoded := m.init.drain()
	for _, job := range decoded {
		abandon(job)
	}

	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.cache))
	for _, h := range m.cache {
		handles = append(handles, h)
	}
	m.cache = make(map[string]*Handle)
	m.inflight = make(map[string]*Job)
	m.mu.Unlock()
	m.errTex.set(nil)

	for _, h := range handles {
		h.runRemove()
		if old := h.clear(); old != nil {
			old.Destroy()
		}
	}
	if old := m.errTex.builtin.clear(); old != nil {
		old.Destroy()
	}

	logger.Debug("texture manager closed",
		zap.Int("handles", len(handles)),
		zap.Int("abandoned", len(left)+len(decoded)))
}
