package config

import "flag"

var (
	flagConfig   = flag.String("config", "", "Path to config file")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
	flagRoot     = flag.String("root", "", "Texture root directory")
	flagFlip     = flag.Bool("flip", false, "Flip decoded images vertically")
	flagMTUpload = flag.Bool("mt-upload", false, "Upload textures on the loader goroutine")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return flag.Args()
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagRoot != "" {
		cfg.Texture.RootDir = *flagRoot
	}
	if *flagFlip {
		cfg.Texture.FlipVertically = true
	}
	if *flagMTUpload {
		cfg.Texture.MultithreadedUpload = true
	}
}
