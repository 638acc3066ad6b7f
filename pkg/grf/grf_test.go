package grf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

var testFiles = []struct {
	name    string
	content []byte
}{
	{"data/test.txt", []byte("Hello, GRF!")},
	{"data/texture/Wall.TGA", append([]byte{0, 0, 2}, make([]byte, 40)...)},
	{"data/texture/test.bmp", []byte("BM fake bitmap data")},
	{"data/subfolder/nested/file.txt", []byte(strings.Repeat("Nested file content ", 50))},
}

func buildArchive(t *testing.T) []byte {
	t.Helper()
	w := NewWriter()
	for _, f := range testFiles {
		w.Add(f.name, f.content)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestNewReaderList(t *testing.T) {
	archive, err := NewReader(bytes.NewReader(buildArchive(t)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	want := []string{
		"data/subfolder/nested/file.txt",
		"data/test.txt",
		"data/texture/test.bmp",
		"data/texture/wall.tga",
	}
	if got := archive.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRead(t *testing.T) {
	archive, err := NewReader(bytes.NewReader(buildArchive(t)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	for _, f := range testFiles {
		data, err := archive.Read(f.name)
		if err != nil {
			t.Errorf("Read(%s): %v", f.name, err)
			continue
		}
		if !bytes.Equal(data, f.content) {
			t.Errorf("Read(%s) = %q, want %q", f.name, data, f.content)
		}
	}

	if _, err := archive.Read("data/missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(missing) err = %v, want ErrNotFound", err)
	}
}

func TestContains(t *testing.T) {
	archive, err := NewReader(bytes.NewReader(buildArchive(t)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"data/test.txt", true},
		{"DATA\\TEST.TXT", true},
		{"data/texture/wall.tga", true},
		{"nonexistent/file/path.txt", false},
	}
	for _, tt := range tests {
		if got := archive.Contains(tt.path); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	e, ok := archive.Stat("data/test.txt")
	if !ok || e.UncompressedSize != uint32(len("Hello, GRF!")) {
		t.Errorf("Stat = %+v, %v", e, ok)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.grf")
	if err := os.WriteFile(path, buildArchive(t), 0o644); err != nil {
		t.Fatal(err)
	}

	archive, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer archive.Close()

	data, err := archive.Read("data/test.txt")
	if err != nil || string(data) != "Hello, GRF!" {
		t.Errorf("Read = %q, %v", data, err)
	}
}

func TestWriterReplaces(t *testing.T) {
	w := NewWriter()
	w.Add("a/b.txt", []byte("one"))
	w.Add("A\\B.TXT", []byte("two"))
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	archive, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := archive.Read("a/b.txt"); string(data) != "two" {
		t.Errorf("Read = %q, want two", data)
	}
}

func TestInvalidArchive(t *testing.T) {
	valid := buildArchive(t)

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "Master of Magix")

	badVersion := append([]byte(nil), valid...)
	badVersion[42] = 0x03

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"magic", badMagic},
		{"version", badVersion},
		{"truncated table", valid[:len(valid)-10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReader(bytes.NewReader(tt.data)); !errors.Is(err, ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestKoreanNames(t *testing.T) {
	const name = "data/texture/유저인터페이스/bg.bmp"

	w := NewWriter()
	w.Add(name, []byte("korean"))
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	archive, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if got := archive.List(); len(got) != 1 || got[0] != name {
		t.Errorf("List() = %q, want [%q]", got, name)
	}
	data, err := archive.Read(`DATA\texture\유저인터페이스\BG.bmp`)
	if err != nil || string(data) != "korean" {
		t.Errorf("Read = %q, %v", data, err)
	}
}
