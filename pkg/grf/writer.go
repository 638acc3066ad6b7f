package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/Faultbox/texpipe/pkg/encoding"
)

// Writer builds a GRF archive in memory. Names are stored EUC-KR encoded
// with backslash separators, like archives produced by the stock tools.
type Writer struct {
	files []writerFile
	index map[string]int
}

type writerFile struct {
	name string
	data []byte
}

// NewWriter returns an empty archive writer.
func NewWriter() *Writer {
	return &Writer{index: make(map[string]int)}
}

// Add stores data under name, replacing an earlier file of the same name.
func (w *Writer) Add(name string, data []byte) {
	key := normalizePath(name)
	if i, ok := w.index[key]; ok {
		w.files[i].data = data
		return
	}
	w.index[key] = len(w.files)
	w.files = append(w.files, writerFile{name: name, data: data})
}

// Len returns the number of files added.
func (w *Writer) Len() int { return len(w.files) }

// WriteTo encodes the archive to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	var body bytes.Buffer
	var table bytes.Buffer
	currentOffset := uint32(0) // relative to header end

	for _, file := range w.files {
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(file.data); err != nil {
			return 0, fmt.Errorf("grf: compressing %s: %w", file.name, err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("grf: compressing %s: %w", file.name, err)
		}

		// Align to 8 bytes
		compressedSize := uint32(compressed.Len())
		alignedSize := compressedSize
		if alignedSize%8 != 0 {
			alignedSize += 8 - (alignedSize % 8)
		}
		body.Write(compressed.Bytes())
		body.Write(make([]byte, alignedSize-compressedSize))

		name := encoding.UTF8ToEUCKR(strings.ReplaceAll(file.name, "/", "\\"))
		table.Write(name)
		table.WriteByte(0)
		binary.Write(&table, binary.LittleEndian, compressedSize)
		binary.Write(&table, binary.LittleEndian, alignedSize)
		binary.Write(&table, binary.LittleEndian, uint32(len(file.data)))
		table.WriteByte(entryFile)
		binary.Write(&table, binary.LittleEndian, currentOffset)

		currentOffset += alignedSize
	}

	var compressedTable bytes.Buffer
	tw := zlib.NewWriter(&compressedTable)
	if _, err := tw.Write(table.Bytes()); err != nil {
		return 0, fmt.Errorf("grf: compressing table: %w", err)
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("grf: compressing table: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header[0:15], grfMagic)
	binary.LittleEndian.PutUint32(header[30:], currentOffset)
	binary.LittleEndian.PutUint32(header[34:], 0) // seed
	// FileCount is stored as count + seed + 7.
	binary.LittleEndian.PutUint32(header[38:], uint32(len(w.files))+7)
	binary.LittleEndian.PutUint32(header[42:], version)

	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:], uint32(compressedTable.Len()))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(table.Len()))

	var n int64
	for _, chunk := range [][]byte{header, body.Bytes(), sizes[:], compressedTable.Bytes()} {
		m, err := out.Write(chunk)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
