// Package config handles texpipe configuration loading and management.
package config

import (
	"fmt"

	"github.com/Faultbox/texpipe/internal/engine/texture"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
)

// Config holds all settings of the texpipe tools.
type Config struct {
	Texture TextureConfig `yaml:"texture"`
	Data    DataConfig    `yaml:"data"`
	Window  WindowConfig  `yaml:"window"`
	Logging LoggingConfig `yaml:"logging"`

	source string
}

// Source returns the file the config was read from, empty for defaults.
func (c *Config) Source() string { return c.source }

// TextureConfig holds texture manager settings.
type TextureConfig struct {
	RootDir             string   `yaml:"root_dir"`
	FlipVertically      bool     `yaml:"flip_vertically"`
	MultithreadedUpload bool     `yaml:"multithreaded_upload"`
	Mipmaps             string   `yaml:"mipmaps"` // ignore | load | generate | load_or_generate
	ProbeExtensions     []string `yaml:"probe_extensions"`
}

// DataConfig holds additional asset sources.
type DataConfig struct {
	GRFPaths []string `yaml:"grf_paths"` // Paths to GRF archives
}

// WindowConfig holds viewer window settings.
type WindowConfig struct {
	Width  int  `yaml:"width"`
	Height int  `yaml:"height"`
	VSync  bool `yaml:"vsync"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Texture: TextureConfig{
			RootDir: "data",
			Mipmaps: upload.MipmapLoadOrGenerate.String(),
		},
		Window: WindowConfig{
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ManagerConfig converts the texture section into texture.Config.
func (c *Config) ManagerConfig() (texture.Config, error) {
	mode, err := upload.ParseMipmapMode(c.Texture.Mipmaps)
	if err != nil {
		return texture.Config{}, fmt.Errorf("texture.mipmaps: %w", err)
	}
	return texture.Config{
		FlipVertically:      c.Texture.FlipVertically,
		MultithreadedUpload: c.Texture.MultithreadedUpload,
		Mipmaps:             mode,
		ProbeExtensions:     c.Texture.ProbeExtensions,
	}, nil
}
