package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Faultbox/texpipe/internal/assets"
	"github.com/Faultbox/texpipe/internal/engine/gpu/memdevice"
	"github.com/Faultbox/texpipe/internal/engine/texture"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
	"github.com/Faultbox/texpipe/internal/logger"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	root := fs.String("root", ".", "Texture root directory")
	mipmaps := fs.String("mipmaps", "load_or_generate", "Mipmap policy")
	flip := fs.Bool("flip", false, "Flip decoded images vertically")
	verbose := fs.Bool("v", false, "Log pipeline activity")
	var archives listFlag
	fs.Var(&archives, "grf", "GRF archive to search (repeatable, later wins)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: textool info [-root dir] [-grf file.grf] <name>...")
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(level, ""); err != nil {
		return err
	}
	defer logger.Sync()

	mode, err := upload.ParseMipmapMode(*mipmaps)
	if err != nil {
		return err
	}

	src := assets.NewManager()
	defer src.Close()
	if err := src.AddDir(*root); err != nil {
		return err
	}
	for _, a := range archives {
		if err := src.AddArchive(a); err != nil {
			return err
		}
	}

	m, err := texture.New(memdevice.New(), src, texture.Config{
		FlipVertically: *flip,
		Mipmaps:        mode,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	if failed := inspect(m, mode, fs.Args(), os.Stdout); failed > 0 {
		return fmt.Errorf("%d of %d textures failed to load", failed, fs.NArg())
	}
	return nil
}

// inspect loads each name on the calling goroutine without caching it and
// prints the image the pipeline produced. It returns the failure count.
func inspect(m *texture.Manager, mode upload.MipmapMode, names []string, out io.Writer) int {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tFORMAT\tSIZE\tLAYERS\tLEVELS\tSTATE")

	failed := 0
	for _, name := range names {
		h := m.LoadWithInfo(name, texture.LoadInfo{
			Flags:   texture.LoadInstantly | texture.DontCache,
			Mipmaps: mode,
		}, nil)

		if h.Failed() {
			failed++
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t%s: %v\n", name, orDash(h.Path()), h.State(), h.Err())
		} else {
			d := h.Image().Desc()
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%d\t%d\t%s\n",
				name, h.Path(), d.Format, d.Width, d.Height, d.Layers, d.Levels, h.State())
		}

		h.Release()
		m.Discard(h)
	}
	tw.Flush()
	return failed
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
