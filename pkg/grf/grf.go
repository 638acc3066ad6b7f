// Package grf reads and writes GRF archives (version 0x200), the packed data
// files texture sets are usually shipped in.
package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Faultbox/texpipe/pkg/encoding"
)

const (
	grfMagic   = "Master of Magic"
	headerSize = 46
	version    = 0x200

	entryFile      = 0x01
	entryEncrypted = 0x02 | 0x04
)

var (
	// ErrNotFound is returned by Read for names the archive does not hold.
	ErrNotFound = errors.New("grf: file not found")
	// ErrFormat is returned for archives that cannot be parsed.
	ErrFormat = errors.New("grf: invalid archive")
)

// Archive represents an opened GRF archive. It is safe for concurrent use.
type Archive struct {
	r        io.ReaderAt
	closer   io.Closer
	header   Header
	fileList map[string]*Entry
}

// Header contains GRF file header information.
type Header struct {
	Magic         [15]byte
	EncryptionKey [15]byte
	TableOffset   uint32
	Seed          uint32
	FileCount     uint32
	Version       uint32
}

// Entry represents a file entry in the archive.
type Entry struct {
	Name             string
	CompressedSize   uint32
	AlignedSize      uint32
	UncompressedSize uint32
	Flags            uint8
	Offset           uint32
}

// Open opens a GRF archive for reading.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	a, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	a.closer = file
	return a, nil
}

// NewReader parses an archive from r.
func NewReader(r io.ReaderAt) (*Archive, error) {
	a := &Archive{
		r:        r,
		fileList: make(map[string]*Entry),
	}
	if err := a.readHeader(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if err := a.readFileTable(); err != nil {
		return nil, fmt.Errorf("reading file table: %w", err)
	}
	return a, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func (a *Archive) readHeader() error {
	sr := io.NewSectionReader(a.r, 0, headerSize)
	if err := binary.Read(sr, binary.LittleEndian, &a.header); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if string(a.header.Magic[:]) != grfMagic {
		return fmt.Errorf("%w: bad magic", ErrFormat)
	}
	if a.header.Version != version {
		return fmt.Errorf("%w: unsupported version 0x%x", ErrFormat, a.header.Version)
	}
	return nil
}

func (a *Archive) readFileTable() error {
	tableOffset := int64(a.header.TableOffset) + headerSize

	var sizes [8]byte
	if _, err := a.r.ReadAt(sizes[:], tableOffset); err != nil {
		return fmt.Errorf("%w: table header: %v", ErrFormat, err)
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[0:])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])

	compressedData := make([]byte, compressedSize)
	if _, err := a.r.ReadAt(compressedData, tableOffset+8); err != nil {
		return fmt.Errorf("%w: table data: %v", ErrFormat, err)
	}
	tableData, err := inflate(compressedData, uncompressedSize)
	if err != nil {
		return fmt.Errorf("%w: table: %v", ErrFormat, err)
	}

	if a.header.FileCount < a.header.Seed+7 {
		return fmt.Errorf("%w: file count", ErrFormat)
	}
	fileCount := a.header.FileCount - a.header.Seed - 7
	offset := 0

	for i := uint32(0); i < fileCount; i++ {
		nameEnd := bytes.IndexByte(tableData[offset:], 0)
		if nameEnd < 0 {
			return fmt.Errorf("%w: entry %d name", ErrFormat, i)
		}
		name := encoding.EUCKRToUTF8(tableData[offset : offset+nameEnd])
		offset += nameEnd + 1

		if offset+17 > len(tableData) {
			return fmt.Errorf("%w: entry %d truncated", ErrFormat, i)
		}

		entry := &Entry{
			Name:             normalizePath(name),
			CompressedSize:   binary.LittleEndian.Uint32(tableData[offset:]),
			AlignedSize:      binary.LittleEndian.Uint32(tableData[offset+4:]),
			UncompressedSize: binary.LittleEndian.Uint32(tableData[offset+8:]),
			Flags:            tableData[offset+12],
			Offset:           binary.LittleEndian.Uint32(tableData[offset+13:]),
		}
		offset += 17

		if entry.Flags&entryFile != 0 {
			a.fileList[entry.Name] = entry
		}
	}

	return nil
}

// List returns all file paths in the archive in lexical order.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.fileList))
	for path := range a.fileList {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists.
func (a *Archive) Contains(path string) bool {
	_, ok := a.fileList[normalizePath(path)]
	return ok
}

// Stat returns the entry for path.
func (a *Archive) Stat(path string) (*Entry, bool) {
	e, ok := a.fileList[normalizePath(path)]
	return e, ok
}

// Read reads a file from the archive.
func (a *Archive) Read(path string) ([]byte, error) {
	entry, ok := a.fileList[normalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if entry.Flags&entryEncrypted != 0 {
		return nil, fmt.Errorf("grf: %s: encrypted files not supported", path)
	}

	compressedData := make([]byte, entry.CompressedSize)
	if _, err := a.r.ReadAt(compressedData, int64(entry.Offset)+headerSize); err != nil {
		return nil, fmt.Errorf("grf: reading %s: %w", path, err)
	}

	if entry.CompressedSize == entry.UncompressedSize {
		return compressedData, nil
	}
	data, err := inflate(compressedData, entry.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("grf: inflating %s: %w", path, err)
	}
	return data, nil
}

func inflate(data []byte, size uint32) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	result := make([]byte, size)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

func normalizePath(path string) string {
	return encoding.NormalizeGRFPath(path)
}
