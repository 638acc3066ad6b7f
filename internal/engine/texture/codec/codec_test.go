package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"reflect"
	"testing"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/pkg/ktex"
)

func TestRegistryCreateHandler(t *testing.T) {
	r := NewDefaultRegistry()

	for _, ext := range []string{"png", ".PNG", "tga", "dds", "ktex", "jpeg", "webp"} {
		if _, ok := r.CreateHandler(ext); !ok {
			t.Errorf("CreateHandler(%q) failed", ext)
		}
	}
	if _, ok := r.CreateHandler("vtf"); ok {
		t.Error("CreateHandler(vtf) succeeded for unregistered extension")
	}

	want := []string{"ktex", "dds", "tga", "spr", "png", "jpg", "jpeg", "bmp", "gif", "tif", "tiff", "webp"}
	if got := r.Extensions(); !reflect.DeepEqual(got, want) {
		t.Errorf("Extensions() = %v, want %v", got, want)
	}
}

func TestRegistrySharedFactoryAndReplace(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func(opts Options) Handler {
		calls++
		return NewImage(opts)
	}
	r.RegisterFormatHandler(factory, "a", "b")
	r.RegisterFormatHandler(NewTGA, "c")
	r.RegisterFormatHandler(NewDDS, "a")

	if got := r.Extensions(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Extensions() = %v", got)
	}
	h, _ := r.CreateHandler("a")
	if _, ok := h.(*ddsHandler); !ok {
		t.Errorf("replaced factory not used, got %T", h)
	}
	r.CreateHandler("b")
	if calls != 1 {
		t.Errorf("shared factory called %d times, want 1", calls)
	}
}

func TestRegistryPassesFlip(t *testing.T) {
	r := NewDefaultRegistry()
	r.FlipVertically = true
	h, _ := r.CreateHandler("png")
	if !h.(*imageHandler).opts.FlipVertically {
		t.Error("FlipVertically not passed to handler")
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImageHandlerRGBA(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})
	img.SetNRGBA(0, 1, color.NRGBA{0, 0, 255, 128})

	for _, flip := range []bool{false, true} {
		h := NewImage(Options{FlipVertically: flip})
		var info InputInfo
		if err := h.LoadData(encodePNG(t, img), &info); err != nil {
			t.Fatalf("LoadData: %v", err)
		}
		if info.Width != 2 || info.Height != 2 || info.Format != gpu.FormatRGBA8Unorm || info.Mipmaps != 1 || info.Layers != 1 {
			t.Fatalf("info = %+v", info)
		}
		pix, err := h.Data(0, 0)
		if err != nil {
			t.Fatal(err)
		}
		top := []byte{255, 0, 0, 255}
		bottom := []byte{0, 0, 255, 128}
		if flip {
			top, bottom = bottom, top
		}
		if !bytes.Equal(pix[0:4], top) || !bytes.Equal(pix[8:12], bottom) {
			t.Errorf("flip=%v: pix = %v", flip, pix)
		}
	}
}

func TestImageHandlerGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.Pix = []byte{10, 20, 30}

	h := NewImage(Options{})
	var info InputInfo
	if err := h.LoadData(encodePNG(t, img), &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if info.Format != gpu.FormatR8Unorm {
		t.Errorf("format = %s, want r8unorm", info.Format)
	}
	if info.Swizzle != [4]Swizzle{SwizzleR, SwizzleR, SwizzleR, SwizzleOne} {
		t.Errorf("swizzle = %v", info.Swizzle)
	}
	pix, _ := h.Data(0, 0)
	if !bytes.Equal(pix, []byte{10, 20, 30}) {
		t.Errorf("pix = %v", pix)
	}
}

func TestImageHandlerCorrupt(t *testing.T) {
	h := NewImage(Options{})
	var info InputInfo
	if err := h.LoadData([]byte("not an image"), &info); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
	if _, err := h.Data(0, 0); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Data before load err = %v, want ErrNotLoaded", err)
	}
}

func TestImageHandlerRejectsOversizedExtent(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, gpu.MaxExtent+1, 1))); err != nil {
		t.Fatal(err)
	}
	var info InputInfo
	if err := NewImage(Options{}).LoadData(buf.Bytes(), &info); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func tgaHeader(imageType byte, w, h int, bpp byte, descriptor byte) []byte {
	hdr := make([]byte, tgaHeaderSize)
	hdr[2] = imageType
	hdr[12], hdr[13] = byte(w), byte(w>>8)
	hdr[14], hdr[15] = byte(h), byte(h>>8)
	hdr[16] = bpp
	hdr[17] = descriptor
	return hdr
}

func TestTGAUncompressed24(t *testing.T) {
	// Bottom-up rows: first stored row is the bottom of the image.
	data := tgaHeader(TGATypeUncompressed, 1, 2, 24, 0)
	data = append(data, 1, 2, 3, 4, 5, 6)

	h := NewTGA(Options{})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if info.Format != gpu.FormatBGR8Unorm || info.ConversionFormat != gpu.FormatBGRA8Unorm {
		t.Errorf("format = %s conversion = %s", info.Format, info.ConversionFormat)
	}
	pix, _ := h.Data(0, 0)
	if !bytes.Equal(pix, []byte{4, 5, 6, 1, 2, 3}) {
		t.Errorf("pix = %v, want top row first", pix)
	}

	flipped := NewTGA(Options{FlipVertically: true})
	if err := flipped.LoadData(data, &info); err != nil {
		t.Fatal(err)
	}
	pix, _ = flipped.Data(0, 0)
	if !bytes.Equal(pix, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("flipped pix = %v, want file order", pix)
	}
}

func TestTGARLE32(t *testing.T) {
	data := tgaHeader(TGATypeRLE, 3, 1, 32, 0x20)
	// Run of two identical pixels, then one raw pixel.
	data = append(data, 0x81, 9, 8, 7, 255, 0x00, 1, 2, 3, 4)

	h := NewTGA(Options{})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if info.Format != gpu.FormatBGRA8Unorm || info.ConversionFormat != gpu.FormatUndefined {
		t.Errorf("format = %s conversion = %s", info.Format, info.ConversionFormat)
	}
	pix, _ := h.Data(0, 0)
	want := []byte{9, 8, 7, 255, 9, 8, 7, 255, 1, 2, 3, 4}
	if !bytes.Equal(pix, want) {
		t.Errorf("pix = %v, want %v", pix, want)
	}
}

func TestTGAErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte{0, 0, 2}, ErrCorrupt},
		{"truncated pixels", append(tgaHeader(TGATypeUncompressed, 2, 2, 32, 0), 1, 2, 3), ErrCorrupt},
		{"truncated rle", append(tgaHeader(TGATypeRLE, 4, 1, 24, 0), 0x83), ErrCorrupt},
		{"16 bpp", append(tgaHeader(TGATypeUncompressed, 1, 1, 16, 0), 0, 0), ErrUnsupported},
		{"oversized extent", append(tgaHeader(TGATypeRLE, 0xffff, 0xffff, 32, 0), 0xff, 1, 2, 3, 4), ErrCorrupt},
		{"rle longer than stream", append(tgaHeader(TGATypeRLE, 4096, 4096, 32, 0), 0xff, 1, 2, 3, 4), ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var info InputInfo
			if err := NewTGA(Options{}).LoadData(tt.data, &info); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

type ddsSpec struct {
	w, h, mips  uint32
	pfFlags     uint32
	fourCC      string
	bits, rMask uint32
	caps2       uint32
	dx10        []uint32
}

func buildDDS(s ddsSpec, payload []byte) []byte {
	le := binary.LittleEndian
	data := make([]byte, ddsHeaderSize)
	copy(data, ddsMagic)
	le.PutUint32(data[4:], 124)
	le.PutUint32(data[12:], s.h)
	le.PutUint32(data[16:], s.w)
	le.PutUint32(data[28:], s.mips)
	le.PutUint32(data[76:], 32)
	le.PutUint32(data[80:], s.pfFlags)
	copy(data[84:88], s.fourCC)
	le.PutUint32(data[88:], s.bits)
	le.PutUint32(data[92:], s.rMask)
	le.PutUint32(data[112:], s.caps2)
	for _, v := range s.dx10 {
		data = le.AppendUint32(data, v)
	}
	return append(data, payload...)
}

func TestDDSBC1Mipmaps(t *testing.T) {
	// 8x8 BC1: 32 + 8 + 8 + 8 bytes for 4 levels.
	payload := make([]byte, 56)
	for i := range payload {
		payload[i] = byte(i)
	}
	data := buildDDS(ddsSpec{w: 8, h: 8, mips: 4, pfFlags: ddpfFourCC, fourCC: "DXT1"}, payload)

	h := NewDDS(Options{FlipVertically: true})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if info.Format != gpu.FormatBC1 || info.Mipmaps != 4 || info.Layers != 1 {
		t.Fatalf("info = %+v", info)
	}
	s, _ := h.Data(0, 1)
	if !bytes.Equal(s, payload[32:40]) {
		t.Errorf("mip 1 = %v", s)
	}
	s, _ = h.Data(0, 3)
	if !bytes.Equal(s, payload[48:56]) {
		t.Errorf("mip 3 = %v", s)
	}
	if _, err := h.Data(0, 4); err == nil {
		t.Error("expected error for mip 4")
	}
}

func TestDDSBGR24NeedsConversion(t *testing.T) {
	data := buildDDS(ddsSpec{w: 2, h: 1, pfFlags: ddpfRGB, bits: 24, rMask: 0x00ff0000}, []byte{1, 2, 3, 4, 5, 6})
	var info InputInfo
	if err := NewDDS(Options{}).LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if info.Format != gpu.FormatBGR8Unorm || info.ConversionFormat != gpu.FormatBGRA8Unorm || info.Mipmaps != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestDDSDX10Cubemap(t *testing.T) {
	// RGBA8 sRGB 1x1, cubemap: 6 faces of 4 bytes.
	payload := make([]byte, 24)
	data := buildDDS(ddsSpec{w: 1, h: 1, mips: 1, pfFlags: ddpfFourCC, fourCC: "DX10", dx10: []uint32{29, 3, dx10MiscCubemap, 1, 0}}, payload)
	h := NewDDS(Options{})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if !info.Cubemap() || !info.SRGB() || info.Layers != 6 || info.Format != gpu.FormatRGBA8Unorm {
		t.Errorf("info = %+v", info)
	}
	if _, err := h.Data(5, 0); err != nil {
		t.Errorf("Data(5, 0): %v", err)
	}
}

func TestDDSErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"magic", []byte("PNG nope"), ErrCorrupt},
		{"truncated", buildDDS(ddsSpec{w: 8, h: 8, mips: 1, pfFlags: ddpfFourCC, fourCC: "DXT5"}, make([]byte, 10)), ErrCorrupt},
		{"fourcc", buildDDS(ddsSpec{w: 4, h: 4, pfFlags: ddpfFourCC, fourCC: "ETC2"}, make([]byte, 16)), ErrUnsupported},
		{"dxgi", buildDDS(ddsSpec{w: 4, h: 4, pfFlags: ddpfFourCC, fourCC: "DX10", dx10: []uint32{999, 3, 0, 1, 0}}, nil), ErrUnsupported},
		{"16 bit rgb", buildDDS(ddsSpec{w: 1, h: 1, pfFlags: ddpfRGB, bits: 16}, []byte{0, 0}), ErrUnsupported},
		{"oversized extent", buildDDS(ddsSpec{w: 65536, h: 65536, mips: 1, pfFlags: ddpfFourCC, fourCC: "DXT1"}, make([]byte, 64)), ErrCorrupt},
		{"huge array", buildDDS(ddsSpec{w: 4, h: 4, mips: 1, pfFlags: ddpfFourCC, fourCC: "DX10", dx10: []uint32{71, 3, 0, 0xffffffff, 0}}, make([]byte, 64)), ErrCorrupt},
		{"array payload short", buildDDS(ddsSpec{w: 4, h: 4, mips: 1, pfFlags: ddpfFourCC, fourCC: "DX10", dx10: []uint32{71, 3, 0, 1024, 0}}, make([]byte, 64)), ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var info InputInfo
			if err := NewDDS(Options{}).LoadData(tt.data, &info); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func writeKTEX(t *testing.T, h ktex.Header, surfaces [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := ktex.Write(&buf, h, surfaces); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestKTEXHandler(t *testing.T) {
	data := writeKTEX(t, ktex.Header{
		Format: ktex.FormatRGB8, Width: 2, Height: 2, Layers: 1, Mipmaps: 2,
		Compression: ktex.CompressionLZ4, SRGB: true,
	}, [][]byte{make([]byte, 12), {7, 8, 9}})

	h := NewKTEX(Options{})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if info.Format != gpu.FormatRGB8Unorm || info.ConversionFormat != gpu.FormatRGBA8Unorm || !info.SRGB() || info.Mipmaps != 2 {
		t.Errorf("info = %+v", info)
	}
	s, err := h.Data(0, 1)
	if err != nil || !bytes.Equal(s, []byte{7, 8, 9}) {
		t.Errorf("Data(0, 1) = %v, %v", s, err)
	}
}

func TestKTEXHandlerSurfaceSizeMismatch(t *testing.T) {
	data := writeKTEX(t, ktex.Header{Format: ktex.FormatRGBA8, Width: 2, Height: 2, Layers: 1, Mipmaps: 1}, [][]byte{{1, 2, 3}})
	h := NewKTEX(Options{})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if _, err := h.Data(0, 0); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestKTEXHandlerForgedRawSize(t *testing.T) {
	data := writeKTEX(t, ktex.Header{
		Format: ktex.FormatRGBA8, Width: 2, Height: 2, Layers: 1, Mipmaps: 1,
		Compression: ktex.CompressionLZ4,
	}, [][]byte{make([]byte, 16)})
	// Surface table entry 0 starts right after the 28-byte header.
	binary.LittleEndian.PutUint32(data[28+12:], 0xfffffff0)

	h := NewKTEX(Options{})
	var info InputInfo
	if err := h.LoadData(data, &info); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if _, err := h.Data(0, 0); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestKTEXFormatMapping(t *testing.T) {
	kf, ok := KTEXFormat(gpu.FormatBC3)
	if !ok || kf != ktex.FormatBC3 {
		t.Errorf("KTEXFormat(bc3) = %v, %v", kf, ok)
	}
	if _, ok := KTEXFormat(gpu.FormatBGR8Unorm); ok {
		t.Error("bgr8 has no container format")
	}
}
