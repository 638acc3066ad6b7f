package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable consulted when no -config flag
// is given.
const EnvConfig = "TEXPIPE_CONFIG"

// FileName is the config file searched for in the working directory and
// in ConfigDir.
const FileName = "texpipe.yaml"

// Load builds the configuration from defaults, then the config file, then
// command-line flags. The result is validated before it is returned.
func Load() (*Config, error) {
	cfg := Default()

	path := resolvePath()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}
	applyFlags(cfg)

	if _, err := cfg.ManagerConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.source = path
	return cfg, nil
}

// resolvePath picks the config file: -config, then $TEXPIPE_CONFIG, then
// the first FileName found on the search path. Empty means defaults only.
func resolvePath() string {
	if p := ConfigPath(); p != "" {
		return p
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return findConfigFile()
}

func findConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the per-user config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Texpipe")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Texpipe")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "texpipe")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "texpipe")
}

// loadFromFile merges a YAML file into cfg. Unknown keys are rejected so
// typos do not silently fall back to defaults. An empty file is valid.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
