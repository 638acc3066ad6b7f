// texview opens a window and browses textures through the texture manager,
// polling it once per frame on the GL thread.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/assets"
	"github.com/Faultbox/texpipe/internal/config"
	"github.com/Faultbox/texpipe/internal/engine/debug"
	"github.com/Faultbox/texpipe/internal/engine/gpu/gldevice"
	"github.com/Faultbox/texpipe/internal/engine/input"
	"github.com/Faultbox/texpipe/internal/engine/renderer"
	"github.com/Faultbox/texpipe/internal/engine/texture"
	"github.com/Faultbox/texpipe/internal/engine/window"
	"github.com/Faultbox/texpipe/internal/logger"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if src := cfg.Source(); src != "" {
		logger.Info("config loaded", zap.String("path", src))
	}

	names := config.Args()
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: texview [-config file] [-root dir] [-flip] <texture>...")
		os.Exit(1)
	}

	if err := run(cfg, names); err != nil {
		logger.Error("texview failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, names []string) error {
	mcfg, err := cfg.ManagerConfig()
	if err != nil {
		return err
	}
	if mcfg.MultithreadedUpload {
		// A GL context belongs to one thread.
		logger.Warn("multithreaded upload is not available with the GL device, uploading on the main thread")
		mcfg.MultithreadedUpload = false
	}

	src := assets.NewManager()
	defer src.Close()
	if err := src.AddDir(cfg.Texture.RootDir); err != nil {
		return err
	}
	for _, p := range cfg.Data.GRFPaths {
		if err := src.AddArchive(p); err != nil {
			logger.Warn("skipping archive", zap.String("path", p), zap.Error(err))
		}
	}

	win, err := window.New(window.Config{
		Title:  "texview",
		Width:  cfg.Window.Width,
		Height: cfg.Window.Height,
		VSync:  cfg.Window.VSync,
	})
	if err != nil {
		return err
	}
	defer win.Close()

	fbW, fbH := win.DrawableSize()
	rend, err := renderer.New(renderer.Config{Width: fbW, Height: fbH})
	if err != nil {
		return err
	}
	defer rend.Close()

	dev, err := gldevice.New()
	if err != nil {
		return err
	}
	defer dev.Release()

	m, err := texture.New(dev, src, mcfg)
	if err != nil {
		return err
	}
	defer m.Close()

	v := newViewer(m, mcfg.Mipmaps, names)
	defer v.close()

	shots := debug.NewScreenshotCapture("screenshots", "texview")
	in := input.New()
	picked := make(chan string, 1)
	for {
		capture := false
		if in.Update() {
			return nil
		}
		for _, e := range in.Events() {
			switch e.Action {
			case input.ActionResize:
				w, h := win.DrawableSize()
				rend.Resize(w, h)
			case input.ActionOpen:
				go pickFile(picked)
			case input.ActionScreenshot:
				capture = true
			case input.ActionFullscreen:
				if err := win.ToggleFullscreen(); err != nil {
					logger.Warn("fullscreen failed", zap.Error(err))
				}
			case input.ActionDrop:
				if err := openPicked(src, v, e.Path); err != nil {
					logger.Warn("cannot open dropped file", zap.String("path", e.Path), zap.Error(err))
				}
			case input.ActionVerbose:
				toggleDebug(cfg.Logging.Level)
			default:
				v.handle(e.Action)
			}
		}

		select {
		case p := <-picked:
			if err := openPicked(src, v, p); err != nil {
				logger.Warn("cannot open picked file", zap.String("path", p), zap.Error(err))
			}
		default:
		}

		if n := m.Poll(); n > 0 {
			logger.Debug("textures finalized", zap.Int("count", n))
		}

		rend.Begin()
		if img := v.current().Image(); img != nil {
			rend.DrawImage(img, 0, 0)
		}
		if capture {
			pix, w, h := rend.ReadPixels()
			if name, err := shots.CaptureFromPixels(pix, w, h); err != nil {
				logger.Warn("screenshot failed", zap.Error(err))
			} else {
				logger.Info("screenshot saved", zap.String("file", name))
			}
		}
		win.SwapBuffers()
		win.SetTitle(v.title())
	}
}

// toggleDebug switches between debug logging and the configured level.
func toggleDebug(configured string) {
	if logger.Level() == "debug" {
		logger.SetLevel(configured)
	} else {
		logger.SetLevel("debug")
	}
	logger.Info("log level changed", zap.String("level", logger.Level()))
}
