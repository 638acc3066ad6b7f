// Package spr decodes Ragnarok Online sprite sheets into RGBA frames.
package spr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic       = errors.New("spr: invalid magic, expected 'SP'")
	ErrUnsupportedVersion = errors.New("spr: unsupported version")
	ErrTruncated          = errors.New("spr: truncated data")
)

const paletteSize = 256 * 4

// Version is the sheet format version.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Frame is one decoded sprite image.
type Frame struct {
	Width  int
	Height int
	// Pix holds tightly packed non-premultiplied RGBA rows, top row first.
	Pix []byte
	// Indexed is set for palette frames, clear for true-color ones.
	Indexed bool
}

// Sheet is a decoded sprite file. Indexed frames come first.
type Sheet struct {
	Version Version
	Frames  []Frame
	// Palette is the raw RGBA palette trailing the file.
	Palette [paletteSize]byte
}

// Bounds returns the largest frame extent.
func (s *Sheet) Bounds() (width, height int) {
	for _, f := range s.Frames {
		width = max(width, f.Width)
		height = max(height, f.Height)
	}
	return width, height
}

// cursor walks the frame section of a sheet.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) u16(what string) (int, error) {
	if c.off+2 > len(c.buf) {
		return 0, fmt.Errorf("%w: reading %s", ErrTruncated, what)
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return int(v), nil
}

func (c *cursor) bytes(n int, what string) ([]byte, error) {
	if n < 0 || c.off+n > len(c.buf) {
		return nil, fmt.Errorf("%w: reading %s", ErrTruncated, what)
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Decode parses a version 1.1 to 2.1 sprite sheet.
func Decode(data []byte) (*Sheet, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	if data[0] != 'S' || data[1] != 'P' {
		return nil, ErrInvalidMagic
	}

	// Minor comes before major on disk.
	s := &Sheet{Version: Version{Major: data[3], Minor: data[2]}}
	switch {
	case s.Version.Major < 1 || s.Version.Major > 2:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, s.Version)
	case s.Version.Major == 1 && s.Version.Minor < 1:
		return nil, fmt.Errorf("%w: %s uses the system palette", ErrUnsupportedVersion, s.Version)
	}
	if len(data) < 4+paletteSize {
		return nil, ErrTruncated
	}
	copy(s.Palette[:], data[len(data)-paletteSize:])

	c := &cursor{buf: data[4 : len(data)-paletteSize]}
	indexed, err := c.u16("indexed count")
	if err != nil {
		return nil, err
	}
	trueColor := 0
	if s.Version.Major >= 2 {
		if trueColor, err = c.u16("true-color count"); err != nil {
			return nil, err
		}
	}

	// Every frame needs at least its two dimension fields.
	s.Frames = make([]Frame, 0, min(indexed+trueColor, len(c.buf)/4))
	rle := s.Version.Major == 2 && s.Version.Minor >= 1
	for i := 0; i < indexed; i++ {
		f, err := s.indexedFrame(c, rle)
		if err != nil {
			return nil, fmt.Errorf("indexed frame %d: %w", i, err)
		}
		s.Frames = append(s.Frames, f)
	}
	for i := 0; i < trueColor && c.off < len(c.buf); i++ {
		f, err := trueColorFrame(c)
		if err != nil {
			return nil, fmt.Errorf("true-color frame %d: %w", i, err)
		}
		s.Frames = append(s.Frames, f)
	}
	return s, nil
}

// blank reports dimensions used for placeholder frames.
func blank(w, h int) bool {
	return w == 0 || h == 0 || w == 0xFFFF || h == 0xFFFF
}

func blankFrame(indexed bool) Frame {
	return Frame{Width: 1, Height: 1, Pix: make([]byte, 4), Indexed: indexed}
}

func (s *Sheet) indexedFrame(c *cursor, rle bool) (Frame, error) {
	w, err := c.u16("width")
	if err != nil {
		return Frame{}, err
	}
	h, err := c.u16("height")
	if err != nil {
		return Frame{}, err
	}
	if blank(w, h) {
		return blankFrame(true), nil
	}

	n := w * h
	var indices []byte
	if rle {
		size, err := c.u16("compressed size")
		if err != nil {
			return Frame{}, err
		}
		packed, err := c.bytes(size, "compressed indices")
		if err != nil {
			return Frame{}, err
		}
		// A zero and its count expand to at most 255 indices.
		if n > (len(packed)/2+1)*255 {
			return Frame{}, fmt.Errorf("%w: %d compressed bytes for %dx%d", ErrTruncated, size, w, h)
		}
		indices = expandZeroRuns(packed, n)
	} else if indices, err = c.bytes(n, "indices"); err != nil {
		return Frame{}, err
	}

	pix := make([]byte, n*4)
	for i, idx := range indices {
		// Index 0 is the transparent key, the rest are opaque.
		if idx == 0 {
			continue
		}
		copy(pix[i*4:i*4+3], s.Palette[int(idx)*4:int(idx)*4+3])
		pix[i*4+3] = 0xff
	}
	return Frame{Width: w, Height: h, Pix: pix, Indexed: true}, nil
}

// expandZeroRuns undoes the run-length coding of index 0: a zero byte is
// followed by its repeat count. The result is always n bytes long.
func expandZeroRuns(packed []byte, n int) []byte {
	out := make([]byte, 0, n)
	for i := 0; i < len(packed) && len(out) < n; i++ {
		b := packed[i]
		if b != 0 {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(packed) {
			break
		}
		run := max(int(packed[i]), 1)
		for j := 0; j < run && len(out) < n; j++ {
			out = append(out, 0)
		}
	}
	return out[:n]
}

func trueColorFrame(c *cursor) (Frame, error) {
	w, err := c.u16("width")
	if err != nil {
		return Frame{}, err
	}
	h, err := c.u16("height")
	if err != nil {
		return Frame{}, err
	}
	if blank(w, h) {
		return blankFrame(false), nil
	}

	abgr, err := c.bytes(w*h*4, "ABGR pixels")
	if err != nil {
		return Frame{}, err
	}
	pix := make([]byte, len(abgr))
	for i := 0; i < len(abgr); i += 4 {
		pix[i+0] = abgr[i+3]
		pix[i+1] = abgr[i+2]
		pix[i+2] = abgr[i+1]
		pix[i+3] = abgr[i+0]
	}
	return Frame{Width: w, Height: h, Pix: pix}, nil
}
