// Package memdevice provides an in-memory gpu.Device that records every call.
//
// It backs the pipeline's tests and the headless textool commands. Images
// keep the bytes copied into them so callers can inspect uploads.
package memdevice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
)

// ErrOutOfMemory is returned when an allocation is set up to fail.
var ErrOutOfMemory = errors.New("memdevice: out of device memory")

// OpKind identifies a recorded operation.
type OpKind int

const (
	OpCreateImage OpKind = iota
	OpCreateBuffer
	OpCopy
	OpBarrier
	OpBlit
	OpGenerateMipmaps
	OpFlush
	OpDestroyImage
	OpDestroyBuffer
	OpDiscard
)

func (k OpKind) String() string {
	switch k {
	case OpCreateImage:
		return "create-image"
	case OpCreateBuffer:
		return "create-buffer"
	case OpCopy:
		return "copy"
	case OpBarrier:
		return "barrier"
	case OpBlit:
		return "blit"
	case OpGenerateMipmaps:
		return "generate-mipmaps"
	case OpFlush:
		return "flush"
	case OpDestroyImage:
		return "destroy-image"
	case OpDestroyBuffer:
		return "destroy-buffer"
	case OpDiscard:
		return "discard"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Op is one recorded device call.
type Op struct {
	Kind   OpKind
	Image  *Image
	Other  *Image
	Layer  uint32
	Level  uint32
	From   gpu.Layout
	To     gpu.Layout
	Bytes  int
	Thread string
}

// Image is a recorded image.
type Image struct {
	ID        int
	desc      gpu.ImageDesc
	dev       *Device
	destroyed bool
	// Surfaces holds the bytes copied per [layer][level].
	Surfaces map[[2]uint32][]byte
}

// Desc implements gpu.Image.
func (img *Image) Desc() gpu.ImageDesc { return img.desc }

// Destroy implements gpu.Image.
func (img *Image) Destroy() {
	d := img.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if img.destroyed {
		d.doubleFree++
		return
	}
	img.destroyed = true
	d.live--
	d.ops = append(d.ops, Op{Kind: OpDestroyImage, Image: img})
}

// Destroyed reports whether Destroy has been called.
func (img *Image) Destroyed() bool {
	img.dev.mu.Lock()
	defer img.dev.mu.Unlock()
	return img.destroyed
}

// Surface returns the bytes uploaded into one surface.
func (img *Image) Surface(layer, level uint32) []byte {
	img.dev.mu.Lock()
	defer img.dev.mu.Unlock()
	return img.Surfaces[[2]uint32{layer, level}]
}

type buffer struct {
	dev  *Device
	data []byte
}

func (b *buffer) Size() int { return len(b.data) }

func (b *buffer) Destroy() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	b.dev.buffers--
	b.dev.ops = append(b.dev.ops, Op{Kind: OpDestroyBuffer, Bytes: len(b.data)})
}

// Device is a recording gpu.Device. The zero value is not usable; use New.
type Device struct {
	mu sync.Mutex

	features map[gpu.Format]gpu.FormatFeature
	// FailImages makes the next n CreateImage calls fail.
	failImages  int
	failBuffers int
	failFlush   int

	thread     func() string
	ops        []Op
	pending    []func()
	nextID     int
	live       int
	buffers    int
	doubleFree int
}

// New returns a device that supports every uncompressed format with all
// features and samples block-compressed formats without blit support.
func New() *Device {
	d := &Device{features: make(map[gpu.Format]gpu.FormatFeature)}
	all := gpu.FeatureSampled | gpu.FeatureBlitSrc | gpu.FeatureBlitDst
	for f := gpu.FormatR8Unorm; f <= gpu.FormatBC7; f++ {
		if f.Compressed() {
			d.features[f] = gpu.FeatureSampled
		} else {
			d.features[f] = all
		}
	}
	return d
}

// SetFeatures overrides the feature set of a format.
func (d *Device) SetFeatures(f gpu.Format, feat gpu.FormatFeature) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.features[f] = feat
}

// FailNextImages makes the next n image allocations fail.
func (d *Device) FailNextImages(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failImages = n
}

// FailNextBuffers makes the next n staging allocations fail.
func (d *Device) FailNextBuffers(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBuffers = n
}

// FailNextFlushes makes the next n flushes fail.
func (d *Device) FailNextFlushes(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFlush = n
}

// SetThreadName installs a function that labels each recorded op, letting
// tests assert which goroutine performed GPU work.
func (d *Device) SetThreadName(fn func() string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.thread = fn
}

func (d *Device) record(op Op) {
	if d.thread != nil {
		op.Thread = d.thread()
	}
	d.ops = append(d.ops, op)
}

// FormatFeatures implements gpu.Device.
func (d *Device) FormatFeatures(f gpu.Format) gpu.FormatFeature {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features[f]
}

// CreateImage implements gpu.Device.
func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failImages > 0 {
		d.failImages--
		return nil, ErrOutOfMemory
	}
	if !d.features[desc.Format].Has(gpu.FeatureSampled) {
		return nil, fmt.Errorf("memdevice: format %s not supported", desc.Format)
	}
	d.nextID++
	d.live++
	img := &Image{ID: d.nextID, desc: desc, dev: d, Surfaces: make(map[[2]uint32][]byte)}
	d.record(Op{Kind: OpCreateImage, Image: img})
	return img, nil
}

// CreateStagingBuffer implements gpu.Device.
func (d *Device) CreateStagingBuffer(data []byte) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failBuffers > 0 {
		d.failBuffers--
		return nil, ErrOutOfMemory
	}
	d.buffers++
	d.record(Op{Kind: OpCreateBuffer, Bytes: len(data)})
	return &buffer{dev: d, data: append([]byte(nil), data...)}, nil
}

// Commands implements gpu.Device.
func (d *Device) Commands() gpu.CommandBuffer {
	return (*commands)(d)
}

// FlushSetupCommands implements gpu.Device.
func (d *Device) FlushSetupCommands() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Op{Kind: OpFlush})
	pending := d.pending
	d.pending = nil
	if d.failFlush > 0 {
		d.failFlush--
		return errors.New("memdevice: device lost")
	}
	for _, fn := range pending {
		fn()
	}
	return nil
}

// DiscardSetupCommands implements gpu.Device.
func (d *Device) DiscardSetupCommands() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Op{Kind: OpDiscard})
	d.pending = nil
}

type commands Device

func (c *commands) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layer, level uint32) {
	d := (*Device)(c)
	d.mu.Lock()
	defer d.mu.Unlock()
	b := src.(*buffer)
	img := dst.(*Image)
	d.record(Op{Kind: OpCopy, Image: img, Layer: layer, Level: level, Bytes: len(b.data)})
	data := b.data
	d.pending = append(d.pending, func() {
		img.Surfaces[[2]uint32{layer, level}] = data
	})
}

func (c *commands) Barrier(img gpu.Image, from, to gpu.Layout) {
	d := (*Device)(c)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Op{Kind: OpBarrier, Image: img.(*Image), From: from, To: to})
}

func (c *commands) Blit(src, dst gpu.Image) {
	d := (*Device)(c)
	d.mu.Lock()
	defer d.mu.Unlock()
	s, t := src.(*Image), dst.(*Image)
	d.record(Op{Kind: OpBlit, Image: s, Other: t})
}

func (c *commands) GenerateMipmaps(img gpu.Image) {
	d := (*Device)(c)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Op{Kind: OpGenerateMipmaps, Image: img.(*Image)})
}

// Ops returns a copy of the recorded operations.
func (d *Device) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Op(nil), d.ops...)
}

// Count returns how many ops of a kind were recorded.
func (d *Device) Count(kind OpKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, op := range d.ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Reset clears the op log. Live resources are unaffected.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = nil
}

// LiveImages returns the number of images created and not destroyed.
func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// LiveBuffers returns the number of staging buffers not destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers
}

// DoubleFrees returns how many times an already destroyed image was destroyed again.
func (d *Device) DoubleFrees() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doubleFree
}
