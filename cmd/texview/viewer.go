package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/engine/input"
	"github.com/Faultbox/texpipe/internal/engine/texture"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
	"github.com/Faultbox/texpipe/internal/logger"
)

// textureLoader is the part of texture.Manager the viewer drives.
type textureLoader interface {
	LoadWithInfo(identifier string, info texture.LoadInfo, onLoaded func(*texture.Handle)) *texture.Handle
	MarkForReload(identifier string)
	ClearUnused() int
	Stats() texture.Stats
}

// viewer holds a reference only on the texture on screen, so every other
// texture can be evicted and comes back through the cache on navigation.
type viewer struct {
	m     textureLoader
	mips  upload.MipmapMode
	names []string
	index int
	cur   *texture.Handle
	sub   texture.SubscriptionID
}

func newViewer(m textureLoader, mips upload.MipmapMode, names []string) *viewer {
	v := &viewer{m: m, mips: mips, names: names}
	// Queue everything up front; nearer textures decode first.
	for i, name := range names {
		h := m.LoadWithInfo(name, texture.LoadInfo{Priority: i, Mipmaps: mips}, nil)
		if i == 0 {
			v.show(h)
			continue
		}
		h.Release()
	}
	return v
}

func (v *viewer) current() *texture.Handle { return v.cur }

func (v *viewer) show(h *texture.Handle) {
	if v.cur != nil {
		v.cur.Unsubscribe(v.sub)
		v.cur.Release()
	}
	v.cur = h
	v.sub = h.OnTextureChanged(func(h *texture.Handle) {
		logger.Info("texture changed",
			zap.String("name", h.Name()),
			zap.Stringer("state", h.State()),
			zap.Uint64("updates", h.UpdateCount()))
	})
}

// open appends name to the list and shows it. The texture is reloaded
// since a different source may now provide it.
func (v *viewer) open(name string) {
	v.names = append(v.names, name)
	v.index = len(v.names) - 1
	v.show(v.m.LoadWithInfo(name, texture.LoadInfo{Flags: texture.Reload, Mipmaps: v.mips}, nil))
}

func (v *viewer) step(delta int) {
	n := len(v.names)
	v.index = ((v.index+delta)%n + n) % n
	v.show(v.m.LoadWithInfo(v.names[v.index], texture.LoadInfo{Mipmaps: v.mips}, nil))
}

func (v *viewer) handle(a input.Action) {
	switch a {
	case input.ActionNext:
		v.step(1)
	case input.ActionPrev:
		v.step(-1)
	case input.ActionReload:
		v.m.MarkForReload(v.names[v.index])
	case input.ActionReloadAll:
		for _, name := range v.names {
			v.m.MarkForReload(name)
		}
	case input.ActionEvict:
		logger.Info("evicted unused textures", zap.Int("count", v.m.ClearUnused()))
	case input.ActionStats:
		s := v.m.Stats()
		logger.Info("texture stats",
			zap.Int("cached", s.Cached),
			zap.Int("in_flight", s.InFlight),
			zap.Uint64("hits", s.Hits),
			zap.Uint64("misses", s.Misses),
			zap.Uint64("completed", s.Completed),
			zap.Uint64("failed", s.Failed),
			zap.Uint64("evicted", s.Evicted))
	}
}

func (v *viewer) title() string {
	h := v.cur
	status := h.State().String()
	if h.Failed() {
		status = fmt.Sprintf("%s (%v)", status, h.Err())
	}
	if img := h.Image(); img != nil && h.HasValidTexture() {
		d := img.Desc()
		return fmt.Sprintf("texview [%d/%d] %s - %s %dx%d, %d levels - %s",
			v.index+1, len(v.names), h.Name(), d.Format, d.Width, d.Height, d.Levels, status)
	}
	return fmt.Sprintf("texview [%d/%d] %s - %s", v.index+1, len(v.names), h.Name(), status)
}

func (v *viewer) close() {
	if v.cur != nil {
		v.cur.Unsubscribe(v.sub)
		v.cur.Release()
		v.cur = nil
	}
}
