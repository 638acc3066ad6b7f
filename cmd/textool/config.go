package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/texpipe/internal/config"
)

func cmdConfig(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: textool config <init|show> [options]")
	}
	switch args[0] {
	case "init":
		return configInit(args[1:])
	case "show":
		return configShow(os.Stdout)
	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

// configInit writes the default configuration for texview to edit.
func configInit(args []string) error {
	flags := flag.NewFlagSet("config init", flag.ExitOnError)
	out := flags.String("o", "", "Output path (default: user config directory)")
	force := flags.Bool("f", false, "Overwrite an existing file")
	flags.Parse(args)

	cfg := config.Default()
	if *out == "" {
		return cfg.Save()
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("%s exists, use -f to overwrite", *out)
		}
	}
	if err := cfg.SaveTo(*out); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", *out)
	return nil
}

// configShow prints the configuration texview would start with.
func configShow(w io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	source := cfg.Source()
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(w, "# source: %s\n", source)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
