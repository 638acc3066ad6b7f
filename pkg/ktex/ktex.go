// Package ktex reads and writes KTEX, the engine-native texture container.
//
// A KTEX file is a fixed header, a surface table and the surface payloads.
// Surfaces are stored layer-major (every mip of layer 0, then layer 1, ...)
// and each one is compressed on its own, so a reader can inflate a single
// surface without touching the rest of the file.
//
//	offset size  field
//	0      4     magic "KTEX"
//	4      2     version (1)
//	6      1     compression
//	7      1     flags (1 = cubemap, 2 = sRGB)
//	8      4     format
//	12     4     width
//	16     4     height
//	20     4     layers
//	24     4     mipmaps
//	28     16*n  surface table: offset u64, stored size u32, raw size u32
package ktex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

// Magic identifies a KTEX file.
const Magic = "KTEX"

// Version is the only container version this package understands.
const Version = 1

const (
	headerSize = 28
	entrySize  = 16

	flagCubemap = 1 << 0
	flagSRGB    = 1 << 1

	// Keeps a corrupt header from asking for absurd allocations.
	maxSurfaces = 6 * 2048 * 16
	maxExtent   = 16384
	maxMipmaps  = 15
)

// ErrFormat is returned for files that are not valid KTEX containers.
var ErrFormat = errors.New("ktex: invalid container")

// Compression selects how surfaces are stored.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression maps a name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	}
	return 0, fmt.Errorf("ktex: unknown compression %q", name)
}

// Format is the pixel format of the stored surfaces.
type Format uint32

const (
	FormatR8 Format = iota + 1
	FormatRG8
	FormatRGB8
	FormatRGBA8
	FormatBGRA8
	FormatRGBA16F
	FormatRGBA32F
	FormatBC1
	FormatBC2
	FormatBC3
	FormatBC4
	FormatBC5
	FormatBC7
)

// Header describes the texture stored in a container.
type Header struct {
	Format      Format
	Width       uint32
	Height      uint32
	Layers      uint32
	Mipmaps     uint32
	Cubemap     bool
	SRGB        bool
	Compression Compression
}

func (h Header) surfaceCount() int {
	return int(h.Layers) * int(h.Mipmaps)
}

type entry struct {
	offset  uint64
	size    uint32
	rawSize uint32
}

// File is a parsed container. Surface payloads stay compressed until read.
type File struct {
	Header
	data    []byte
	entries []entry
}

// Parse validates the header and surface table of a container.
// The returned File references data; it must not be modified afterwards.
func Parse(data []byte) (*File, error) {
	if len(data) < headerSize || string(data[:4]) != Magic {
		return nil, ErrFormat
	}
	le := binary.LittleEndian
	if v := le.Uint16(data[4:]); v != Version {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, v)
	}

	f := &File{data: data}
	f.Compression = Compression(data[6])
	flags := data[7]
	f.Cubemap = flags&flagCubemap != 0
	f.SRGB = flags&flagSRGB != 0
	f.Format = Format(le.Uint32(data[8:]))
	f.Width = le.Uint32(data[12:])
	f.Height = le.Uint32(data[16:])
	f.Layers = le.Uint32(data[20:])
	f.Mipmaps = le.Uint32(data[24:])

	if f.Compression > CompressionSnappy {
		return nil, fmt.Errorf("%w: %s", ErrFormat, f.Compression)
	}
	if f.Width == 0 || f.Height == 0 || f.Layers == 0 || f.Mipmaps == 0 {
		return nil, fmt.Errorf("%w: empty extent", ErrFormat)
	}
	if f.Width > maxExtent || f.Height > maxExtent || f.Mipmaps > maxMipmaps {
		return nil, fmt.Errorf("%w: %dx%d with %d mipmaps", ErrFormat, f.Width, f.Height, f.Mipmaps)
	}
	if f.Cubemap && f.Layers%6 != 0 {
		return nil, fmt.Errorf("%w: cubemap with %d layers", ErrFormat, f.Layers)
	}
	n := f.surfaceCount()
	if n > maxSurfaces {
		return nil, fmt.Errorf("%w: %d surfaces", ErrFormat, n)
	}
	tableEnd := headerSize + n*entrySize
	if len(data) < tableEnd {
		return nil, fmt.Errorf("%w: truncated surface table", ErrFormat)
	}

	f.entries = make([]entry, n)
	for i := range f.entries {
		p := data[headerSize+i*entrySize:]
		e := entry{
			offset:  le.Uint64(p),
			size:    le.Uint32(p[8:]),
			rawSize: le.Uint32(p[12:]),
		}
		if e.offset < uint64(tableEnd) || e.offset+uint64(e.size) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: surface %d out of bounds", ErrFormat, i)
		}
		if f.Compression == CompressionNone && e.size != e.rawSize {
			return nil, fmt.Errorf("%w: surface %d stored %d bytes, raw %d", ErrFormat, i, e.size, e.rawSize)
		}
		f.entries[i] = e
	}
	return f, nil
}

// RawSize returns the decompressed size the surface table records for one
// surface. Callers that know the expected size check it before Surface
// allocates.
func (f *File) RawSize(layer, mip uint32) (int, error) {
	if layer >= f.Layers || mip >= f.Mipmaps {
		return 0, fmt.Errorf("ktex: surface %d/%d out of range", layer, mip)
	}
	return int(f.entries[layer*f.Mipmaps+mip].rawSize), nil
}

// Surface returns the decompressed bytes of one surface.
func (f *File) Surface(layer, mip uint32) ([]byte, error) {
	if layer >= f.Layers || mip >= f.Mipmaps {
		return nil, fmt.Errorf("ktex: surface %d/%d out of range", layer, mip)
	}
	e := f.entries[layer*f.Mipmaps+mip]
	payload := f.data[e.offset : e.offset+uint64(e.size)]

	switch f.Compression {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, e.rawSize)
		if _, err := io.ReadFull(lz4.NewReader(bytes.NewReader(payload)), out); err != nil {
			return nil, fmt.Errorf("ktex: lz4 surface %d/%d: %w", layer, mip, err)
		}
		return out, nil
	case CompressionSnappy:
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return nil, fmt.Errorf("ktex: snappy surface %d/%d: %w", layer, mip, err)
		}
		if n != int(e.rawSize) {
			return nil, fmt.Errorf("%w: surface %d/%d size mismatch", ErrFormat, layer, mip)
		}
		out, err := snappy.Decode(make([]byte, n), payload)
		if err != nil {
			return nil, fmt.Errorf("ktex: snappy surface %d/%d: %w", layer, mip, err)
		}
		return out, nil
	}
	return nil, ErrFormat
}

// Write encodes a container. surfaces holds layers*mipmaps payloads in
// layer-major order.
func Write(w io.Writer, h Header, surfaces [][]byte) error {
	if h.Width == 0 || h.Height == 0 || h.Layers == 0 || h.Mipmaps == 0 {
		return fmt.Errorf("ktex: empty extent")
	}
	if len(surfaces) != h.surfaceCount() {
		return fmt.Errorf("ktex: have %d surfaces, header wants %d", len(surfaces), h.surfaceCount())
	}

	stored := make([][]byte, len(surfaces))
	for i, raw := range surfaces {
		s, err := compress(h.Compression, raw)
		if err != nil {
			return fmt.Errorf("ktex: compressing surface %d: %w", i, err)
		}
		stored[i] = s
	}

	le := binary.LittleEndian
	head := make([]byte, headerSize+len(surfaces)*entrySize)
	copy(head, Magic)
	le.PutUint16(head[4:], Version)
	head[6] = byte(h.Compression)
	var flags byte
	if h.Cubemap {
		flags |= flagCubemap
	}
	if h.SRGB {
		flags |= flagSRGB
	}
	head[7] = flags
	le.PutUint32(head[8:], uint32(h.Format))
	le.PutUint32(head[12:], h.Width)
	le.PutUint32(head[16:], h.Height)
	le.PutUint32(head[20:], h.Layers)
	le.PutUint32(head[24:], h.Mipmaps)

	offset := uint64(len(head))
	for i, s := range stored {
		p := head[headerSize+i*entrySize:]
		le.PutUint64(p, offset)
		le.PutUint32(p[8:], uint32(len(s)))
		le.PutUint32(p[12:], uint32(len(surfaces[i])))
		offset += uint64(len(s))
	}

	if _, err := w.Write(head); err != nil {
		return err
	}
	for _, s := range stored {
		if _, err := w.Write(s); err != nil {
			return err
		}
	}
	return nil
}

func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	}
	return nil, fmt.Errorf("unknown compression %s", c)
}
