package upload

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/gpu/memdevice"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
)

// surfaceHandler serves generated surfaces for a fixed description.
type surfaceHandler struct {
	info     codec.InputInfo
	surfaces map[[2]uint32][]byte
}

func newSurfaceHandler(info codec.InputInfo) *surfaceHandler {
	h := &surfaceHandler{info: info, surfaces: make(map[[2]uint32][]byte)}
	for layer := uint32(0); layer < info.Layers; layer++ {
		for mip := uint32(0); mip < info.Mipmaps; mip++ {
			w, ht := gpu.MipExtent(info.Width, info.Height, mip)
			s := make([]byte, info.Format.SurfaceSize(w, ht))
			for i := range s {
				s[i] = byte(int(layer)*16 + int(mip) + i)
			}
			h.surfaces[[2]uint32{layer, mip}] = s
		}
	}
	return h
}

func (h *surfaceHandler) LoadData(data []byte, info *codec.InputInfo) error {
	*info = h.info
	return nil
}

func (h *surfaceHandler) Data(layer, mip uint32) ([]byte, error) {
	s, ok := h.surfaces[[2]uint32{layer, mip}]
	if !ok {
		return nil, fmt.Errorf("no surface %d/%d", layer, mip)
	}
	return s, nil
}

func rgba(w, h, mips uint32) codec.InputInfo {
	return codec.InputInfo{Width: w, Height: h, Format: gpu.FormatRGBA8Unorm, Layers: 1, Mipmaps: mips}
}

func TestMipmapPolicy(t *testing.T) {
	tests := []struct {
		name       string
		info       codec.InputInfo
		mode       MipmapMode
		noBlit     bool
		wantLevels uint32
		wantCopies int
		wantGen    bool
	}{
		{"load or generate without file mips", rgba(16, 8, 1), MipmapLoadOrGenerate, false, 5, 1, true},
		{"load or generate with file mips", rgba(16, 8, 3), MipmapLoadOrGenerate, false, 3, 3, false},
		{"ignore", rgba(16, 8, 3), MipmapIgnore, false, 1, 1, false},
		{"load without file mips", rgba(16, 8, 1), MipmapLoad, false, 1, 1, false},
		{"load", rgba(16, 8, 4), MipmapLoad, false, 4, 4, false},
		{"generate discards file mips", rgba(16, 16, 3), MipmapGenerate, false, 5, 1, true},
		{"generate without blit", rgba(16, 16, 1), MipmapGenerate, true, 1, 1, false},
		{"generate compressed", codec.InputInfo{Width: 8, Height: 8, Format: gpu.FormatBC1, Layers: 1, Mipmaps: 1}, MipmapGenerate, false, 1, 1, false},
		{"generate 1x1", rgba(1, 1, 1), MipmapGenerate, false, 1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := memdevice.New()
			if tt.noBlit {
				dev.SetFeatures(tt.info.Format, gpu.FeatureSampled)
			}
			p := New(dev)
			img, err := p.Upload(newSurfaceHandler(tt.info), tt.info, Options{Mipmaps: tt.mode})
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if got := img.Desc().Levels; got != tt.wantLevels {
				t.Errorf("levels = %d, want %d", got, tt.wantLevels)
			}
			if got := dev.Count(memdevice.OpCopy); got != tt.wantCopies {
				t.Errorf("copies = %d, want %d", got, tt.wantCopies)
			}
			gen := dev.Count(memdevice.OpGenerateMipmaps) == 1
			if gen != tt.wantGen {
				t.Errorf("generated = %v, want %v", gen, tt.wantGen)
			}
			if got := dev.Count(memdevice.OpFlush); got != 1 {
				t.Errorf("flushes = %d, want 1", got)
			}
		})
	}
}

func TestMipmapCountMatchesFullChain(t *testing.T) {
	info := rgba(300, 20, 1)
	img, err := New(memdevice.New()).Upload(newSurfaceHandler(info), info, Options{Mipmaps: MipmapLoadOrGenerate})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := img.Desc().Levels, gpu.MipmapCount(300, 20); got != want {
		t.Errorf("levels = %d, want %d", got, want)
	}
}

func TestCopiesBeforeSingleBarrier(t *testing.T) {
	info := codec.InputInfo{Width: 4, Height: 4, Format: gpu.FormatRGBA8Unorm, Layers: 6, Mipmaps: 3, Flags: codec.FlagCubemap}
	dev := memdevice.New()
	img, err := New(dev).Upload(newSurfaceHandler(info), info, Options{Mipmaps: MipmapLoad})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !img.Desc().Cubemap || img.Desc().Layers != 6 {
		t.Errorf("desc = %+v", img.Desc())
	}

	ops := dev.Ops()
	var copies, barriers []memdevice.Op
	lastCopy, readBarrier, flush := -1, -1, -1
	for i, op := range ops {
		switch op.Kind {
		case memdevice.OpCopy:
			copies = append(copies, op)
			lastCopy = i
		case memdevice.OpBarrier:
			barriers = append(barriers, op)
			if op.To == gpu.LayoutShaderRead {
				readBarrier = i
			}
		case memdevice.OpFlush:
			flush = i
		}
	}
	if len(copies) != 18 {
		t.Fatalf("copies = %d, want 18", len(copies))
	}
	if len(barriers) != 2 {
		t.Errorf("barriers = %d, want 2", len(barriers))
	}
	if !(lastCopy < readBarrier && readBarrier < flush) {
		t.Errorf("order: last copy %d, barrier %d, flush %d", lastCopy, readBarrier, flush)
	}
	for i, op := range copies {
		if op.Layer != uint32(i/3) || op.Level != uint32(i%3) {
			t.Errorf("copy %d targets %d/%d", i, op.Layer, op.Level)
		}
	}
	if dev.LiveBuffers() != 0 {
		t.Errorf("live staging buffers = %d, want 0", dev.LiveBuffers())
	}
	got := img.(*memdevice.Image).Surface(5, 2)
	want, _ := newSurfaceHandler(info).Data(5, 2)
	if !bytes.Equal(got, want) {
		t.Errorf("surface 5/2 = %v, want %v", got, want)
	}
}

func TestFormatFallbackExpands(t *testing.T) {
	for _, f := range []gpu.Format{gpu.FormatRGB8Unorm, gpu.FormatBGR8Unorm} {
		t.Run(f.String(), func(t *testing.T) {
			info := codec.InputInfo{Width: 2, Height: 1, Format: f, Layers: 1, Mipmaps: 1, ConversionFormat: f.Expanded()}
			h := &surfaceHandler{info: info, surfaces: map[[2]uint32][]byte{{0, 0}: {1, 2, 3, 4, 5, 6}}}

			dev := memdevice.New()
			dev.SetFeatures(f, 0)
			p := New(dev)
			prep, err := p.Prepare(h, info, Options{})
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if !prep.Converted || prep.Desc.Format != f.Expanded() {
				t.Errorf("converted = %v, format = %s", prep.Converted, prep.Desc.Format)
			}
			img, err := p.Finalize(prep)
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			want := []byte{1, 2, 3, 255, 4, 5, 6, 255}
			if got := img.(*memdevice.Image).Surface(0, 0); !bytes.Equal(got, want) {
				t.Errorf("surface = %v, want %v", got, want)
			}
		})
	}
}

func TestNativeFormatNotConverted(t *testing.T) {
	info := codec.InputInfo{Width: 1, Height: 1, Format: gpu.FormatRGB8Unorm, Layers: 1, Mipmaps: 1, ConversionFormat: gpu.FormatRGBA8Unorm}
	prep, err := New(memdevice.New()).Prepare(newSurfaceHandler(info), info, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if prep.Converted || prep.Desc.Format != gpu.FormatRGB8Unorm || prep.Bytes() != 3 {
		t.Errorf("prepared = %+v", prep)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	dev := memdevice.New()
	dev.SetFeatures(gpu.FormatBGR8Unorm, 0)
	dev.SetFeatures(gpu.FormatBGRA8Unorm, 0)
	dev.SetFeatures(gpu.FormatBC7, 0)
	p := New(dev)

	for _, info := range []codec.InputInfo{
		{Width: 1, Height: 1, Format: gpu.FormatBGR8Unorm, Layers: 1, Mipmaps: 1},
		{Width: 4, Height: 4, Format: gpu.FormatBC7, Layers: 1, Mipmaps: 1},
		{Width: 4, Height: 4, Format: gpu.FormatUndefined, Layers: 1, Mipmaps: 1},
	} {
		_, err := p.Prepare(newSurfaceHandler(info), info, Options{})
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%s: err = %v, want ErrUnsupportedFormat", info.Format, err)
		}
	}
	if dev.Count(memdevice.OpCreateImage) != 0 {
		t.Error("image created for unsupported format")
	}
}

func TestInvalidDescription(t *testing.T) {
	tests := []struct {
		name string
		info codec.InputInfo
	}{
		{"zero width", codec.InputInfo{Width: 0, Height: 4, Format: gpu.FormatRGBA8Unorm, Layers: 1, Mipmaps: 1}},
		{"zero layers", codec.InputInfo{Width: 4, Height: 4, Format: gpu.FormatRGBA8Unorm, Layers: 0, Mipmaps: 1}},
		{"cubemap layers", codec.InputInfo{Width: 4, Height: 4, Format: gpu.FormatRGBA8Unorm, Layers: 5, Mipmaps: 1, Flags: codec.FlagCubemap}},
		{"too many mips", codec.InputInfo{Width: 4, Height: 4, Format: gpu.FormatRGBA8Unorm, Layers: 1, Mipmaps: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &surfaceHandler{info: tt.info, surfaces: map[[2]uint32][]byte{}}
			if _, err := New(memdevice.New()).Prepare(h, tt.info, Options{}); !errors.Is(err, ErrInvalidDescription) {
				t.Errorf("err = %v, want ErrInvalidDescription", err)
			}
		})
	}

	info := rgba(2, 2, 1)
	h := &surfaceHandler{info: info, surfaces: map[[2]uint32][]byte{{0, 0}: make([]byte, 15)}}
	if _, err := New(memdevice.New()).Prepare(h, info, Options{}); !errors.Is(err, ErrInvalidDescription) {
		t.Errorf("short surface err = %v, want ErrInvalidDescription", err)
	}
}

func TestFinalizeFailureCleansUp(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memdevice.Device)
	}{
		{"image", func(d *memdevice.Device) { d.FailNextImages(1) }},
		{"staging", func(d *memdevice.Device) { d.FailNextBuffers(1) }},
		{"flush", func(d *memdevice.Device) { d.FailNextFlushes(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := memdevice.New()
			info := rgba(8, 8, 4)
			p := New(dev)
			prep, err := p.Prepare(newSurfaceHandler(info), info, Options{Mipmaps: MipmapLoad})
			if err != nil {
				t.Fatal(err)
			}
			tt.setup(dev)
			img, err := p.Finalize(prep)
			if err == nil || img != nil {
				t.Fatalf("Finalize = %v, %v; want failure", img, err)
			}
			if dev.LiveImages() != 0 || dev.LiveBuffers() != 0 {
				t.Errorf("leaked %d images, %d buffers", dev.LiveImages(), dev.LiveBuffers())
			}
			if dev.DoubleFrees() != 0 {
				t.Errorf("double frees = %d", dev.DoubleFrees())
			}
		})
	}
}

// stagingLimit fails every staging allocation after the first n.
type stagingLimit struct {
	*memdevice.Device
	n int
}

func (d *stagingLimit) CreateStagingBuffer(data []byte) (gpu.Buffer, error) {
	if d.n == 0 {
		return nil, memdevice.ErrOutOfMemory
	}
	d.n--
	return d.Device.CreateStagingBuffer(data)
}

func TestFailedFinalizeLeavesNoCommands(t *testing.T) {
	dev := memdevice.New()
	limited := &stagingLimit{Device: dev, n: 1}
	info := rgba(8, 8, 3)

	prep, err := New(limited).Prepare(newSurfaceHandler(info), info, Options{Mipmaps: MipmapLoad, Label: "broken"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(limited).Finalize(prep); !errors.Is(err, memdevice.ErrOutOfMemory) {
		t.Fatalf("Finalize err = %v, want ErrOutOfMemory", err)
	}
	var broken *memdevice.Image
	for _, op := range dev.Ops() {
		if op.Kind == memdevice.OpCreateImage {
			broken = op.Image
		}
	}
	if broken == nil {
		t.Fatal("no image was created")
	}
	if dev.Count(memdevice.OpDiscard) != 1 {
		t.Errorf("discards = %d, want 1", dev.Count(memdevice.OpDiscard))
	}

	next := rgba(4, 4, 1)
	if _, err := New(dev).Upload(newSurfaceHandler(next), next, Options{Label: "next"}); err != nil {
		t.Fatal(err)
	}
	if s := broken.Surface(0, 0); s != nil {
		t.Errorf("destroyed image received %d bytes from a later flush", len(s))
	}
}

func TestFinalizeAllocationErrorWrapped(t *testing.T) {
	dev := memdevice.New()
	dev.FailNextImages(1)
	info := rgba(4, 4, 1)
	_, err := New(dev).Upload(newSurfaceHandler(info), info, Options{Label: "wall"})
	if !errors.Is(err, memdevice.ErrOutOfMemory) {
		t.Errorf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestPostConversion(t *testing.T) {
	dev := memdevice.New()
	info := rgba(8, 8, 1)
	img, err := New(dev).Upload(newSurfaceHandler(info), info, Options{
		Mipmaps:     MipmapLoadOrGenerate,
		FinalFormat: gpu.FormatBGRA8Unorm,
		Label:       "conv",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if img.Desc().Format != gpu.FormatBGRA8Unorm || img.Desc().Levels != 4 {
		t.Errorf("final desc = %+v", img.Desc())
	}
	if dev.Count(memdevice.OpBlit) != 1 || dev.Count(memdevice.OpFlush) != 1 {
		t.Errorf("blits = %d, flushes = %d", dev.Count(memdevice.OpBlit), dev.Count(memdevice.OpFlush))
	}
	if dev.Count(memdevice.OpGenerateMipmaps) != 2 {
		t.Errorf("mip generations = %d, want 2", dev.Count(memdevice.OpGenerateMipmaps))
	}
	if dev.LiveImages() != 1 || dev.Count(memdevice.OpDestroyImage) != 1 {
		t.Errorf("live = %d, destroyed = %d", dev.LiveImages(), dev.Count(memdevice.OpDestroyImage))
	}
}

func TestPostConversionRejected(t *testing.T) {
	dev := memdevice.New()
	dev.SetFeatures(gpu.FormatBGRA8Unorm, gpu.FeatureSampled)
	info := rgba(4, 4, 1)
	p := New(dev)
	for _, f := range []gpu.Format{gpu.FormatBGRA8Unorm, gpu.FormatBC3} {
		if _, err := p.Prepare(newSurfaceHandler(info), info, Options{FinalFormat: f}); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%s: err = %v, want ErrUnsupportedFormat", f, err)
		}
	}
}

func TestSRGBFlag(t *testing.T) {
	info := rgba(2, 2, 1)
	p := New(memdevice.New())
	prep, _ := p.Prepare(newSurfaceHandler(info), info, Options{SRGB: true})
	if !prep.Desc.SRGB {
		t.Error("SRGB option ignored")
	}
	info.Flags |= codec.FlagSRGB
	prep, _ = p.Prepare(newSurfaceHandler(info), info, Options{})
	if !prep.Desc.SRGB {
		t.Error("SRGB flag ignored")
	}
}

func TestSwizzleCarriedToImage(t *testing.T) {
	info := codec.InputInfo{Width: 4, Height: 4, Format: gpu.FormatR8Unorm, Layers: 1, Mipmaps: 1}
	info.Swizzle = [4]codec.Swizzle{codec.SwizzleR, codec.SwizzleR, codec.SwizzleR, codec.SwizzleOne}

	img, err := New(memdevice.New()).Upload(newSurfaceHandler(info), info, Options{Mipmaps: MipmapIgnore})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := img.Desc().Swizzle; got != info.Swizzle {
		t.Errorf("image swizzle = %v, want %v", got, info.Swizzle)
	}
}

func TestParseMipmapMode(t *testing.T) {
	tests := []struct {
		in      string
		want    MipmapMode
		wantErr bool
	}{
		{"ignore", MipmapIgnore, false},
		{"Load", MipmapLoad, false},
		{"generate", MipmapGenerate, false},
		{"load-or-generate", MipmapLoadOrGenerate, false},
		{"load_or_generate", MipmapLoadOrGenerate, false},
		{"always", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMipmapMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMipmapMode(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMipmapMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if MipmapLoadOrGenerate.String() != "load_or_generate" {
		t.Errorf("String() = %q", MipmapLoadOrGenerate.String())
	}
}
