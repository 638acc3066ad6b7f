package main

import (
	"errors"
	"path/filepath"

	"github.com/sqweek/dialog"
	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/logger"
)

// pickFile shows a native file dialog and sends the chosen path to out.
// It runs off the main thread; the result is picked up by the frame loop.
func pickFile(out chan<- string) {
	path, err := dialog.File().
		Filter("Textures", "ktex", "dds", "tga", "spr", "png", "jpg", "jpeg", "bmp", "gif", "tif", "tiff", "webp").
		Filter("All Files", "*").
		Title("Open Texture").
		Load()
	if err != nil {
		if !errors.Is(err, dialog.ErrCancelled) {
			logger.Warn("file dialog failed", zap.Error(err))
		}
		return
	}
	out <- path
}

// dirSource is the part of assets.Manager needed to open arbitrary files.
type dirSource interface {
	AddDir(root string) error
}

// openPicked makes the picked file's directory the highest priority source
// and shows the file, replacing any cached texture of the same name.
func openPicked(src dirSource, v *viewer, path string) error {
	if err := src.AddDir(filepath.Dir(path)); err != nil {
		return err
	}
	v.open(filepath.Base(path))
	return nil
}
