package main

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Faultbox/texpipe/internal/assets"
	"github.com/Faultbox/texpipe/internal/engine/gpu/memdevice"
	"github.com/Faultbox/texpipe/internal/engine/input"
	"github.com/Faultbox/texpipe/internal/engine/texture"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
)

func newTestViewer(t *testing.T, names ...string) (*texture.Manager, *viewer) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	files := fstest.MapFS{}
	for _, n := range names {
		files[n+".png"] = &fstest.MapFile{Data: buf.Bytes()}
	}

	m, err := texture.New(memdevice.New(), assets.NewFS(files), texture.Config{})
	if err != nil {
		t.Fatalf("texture.New: %v", err)
	}
	t.Cleanup(m.Close)

	v := newViewer(m, upload.MipmapIgnore, names)
	t.Cleanup(v.close)
	return m, v
}

// pollUntilIdle drives the manager like the frame loop does.
func pollUntilIdle(t *testing.T, m *texture.Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("loads did not finish")
		}
		m.Poll()
		time.Sleep(time.Millisecond)
	}
}

func TestViewerHoldsOnlyCurrent(t *testing.T) {
	m, v := newTestViewer(t, "a", "b", "c")
	pollUntilIdle(t, m)

	if v.current().Name() != "a" || v.current().Refs() != 1 {
		t.Fatalf("current = %s refs %d", v.current().Name(), v.current().Refs())
	}

	if n := m.ClearUnused(); n != 2 {
		t.Errorf("ClearUnused = %d, want 2", n)
	}
	if !v.current().HasValidTexture() {
		t.Error("current texture was evicted")
	}
}

func TestViewerStepWraps(t *testing.T) {
	m, v := newTestViewer(t, "a", "b", "c")
	pollUntilIdle(t, m)
	first := v.current()

	v.handle(input.ActionPrev)
	if v.current().Name() != "c" {
		t.Errorf("prev from first = %s, want c", v.current().Name())
	}
	if first.Refs() != 0 {
		t.Errorf("previous texture still holds %d refs", first.Refs())
	}

	v.handle(input.ActionNext)
	v.handle(input.ActionNext)
	if v.current().Name() != "b" {
		t.Errorf("current = %s, want b", v.current().Name())
	}
}

func TestViewerReloadsEvicted(t *testing.T) {
	m, v := newTestViewer(t, "a", "b")
	pollUntilIdle(t, m)

	v.handle(input.ActionEvict)
	b, _ := m.Find("b")
	if b.HasValidTexture() {
		t.Fatal("b was not evicted")
	}

	v.handle(input.ActionNext)
	pollUntilIdle(t, m)
	if !v.current().HasValidTexture() {
		t.Error("navigating to an evicted texture did not reload it")
	}
	if !strings.Contains(v.title(), "[2/2] b") {
		t.Errorf("title = %q", v.title())
	}
}

type recordingDirs struct{ added []string }

func (r *recordingDirs) AddDir(root string) error {
	r.added = append(r.added, root)
	return nil
}

func TestOpenPicked(t *testing.T) {
	m, v := newTestViewer(t, "a", "b")
	pollUntilIdle(t, m)

	dirs := &recordingDirs{}
	if err := openPicked(dirs, v, "/elsewhere/textures/b.png"); err != nil {
		t.Fatalf("openPicked: %v", err)
	}
	if len(dirs.added) != 1 || dirs.added[0] != "/elsewhere/textures" {
		t.Errorf("added dirs = %v", dirs.added)
	}
	if len(v.names) != 3 || v.index != 2 || v.current().Name() != "b" {
		t.Errorf("names = %v index = %d current = %s", v.names, v.index, v.current().Name())
	}

	pollUntilIdle(t, m)
	if v.current().UpdateCount() < 2 {
		t.Errorf("picked texture was not reloaded, updates = %d", v.current().UpdateCount())
	}
}
