package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Faultbox/texpipe/pkg/grf"
)

func cmdGRF(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: textool grf <list|extract|pack> ...")
	}
	switch args[0] {
	case "list", "ls":
		return cmdGRFList(args[1:])
	case "extract", "x":
		return cmdGRFExtract(args[1:])
	case "pack":
		return cmdGRFPack(args[1:])
	}
	return fmt.Errorf("unknown grf command: %s", args[0])
}

func cmdGRFList(args []string) error {
	flags := flag.NewFlagSet("grf list", flag.ExitOnError)
	limit := flags.Int("n", 0, "Limit output to N files (0 = all)")
	flags.Parse(args)

	if flags.NArg() < 1 {
		return errors.New("usage: textool grf list <file.grf> [pattern]")
	}

	archive, err := grf.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	pattern := ""
	if flags.NArg() > 1 {
		pattern = flags.Arg(1)
	}

	matches := matchEntries(archive.List(), pattern)
	for i, f := range matches {
		if *limit > 0 && i >= *limit {
			break
		}
		fmt.Println(f)
	}
	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d files matched)\n", len(matches))
	}
	return nil
}

// matchEntries filters names by a glob on the base name or a substring of
// the full path, both case-insensitive. An empty pattern matches all.
func matchEntries(names []string, pattern string) []string {
	if pattern == "" {
		return names
	}
	pattern = strings.ToLower(pattern)
	var out []string
	for _, f := range names {
		lower := strings.ToLower(f)
		matched, _ := filepath.Match(pattern, filepath.Base(lower))
		if matched || strings.Contains(lower, pattern) {
			out = append(out, f)
		}
	}
	return out
}

func cmdGRFExtract(args []string) error {
	flags := flag.NewFlagSet("grf extract", flag.ExitOnError)
	flags.Parse(args)

	if flags.NArg() < 2 {
		return errors.New("usage: textool grf extract <file.grf> <path> [output_dir]")
	}

	outputDir := "."
	if flags.NArg() > 2 {
		outputDir = flags.Arg(2)
	}

	archive, err := grf.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	filePath := flags.Arg(1)
	var names []string
	if strings.Contains(filePath, "*") {
		names = matchEntries(archive.List(), filePath)
	} else {
		if !archive.Contains(filePath) {
			return fmt.Errorf("%w: %s", grf.ErrNotFound, filePath)
		}
		names = []string{filePath}
	}

	extracted := 0
	for _, name := range names {
		data, err := archive.Read(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", name, err)
			continue
		}

		// Preserve directory structure
		outputPath := filepath.Join(outputDir, filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outputPath, err)
			continue
		}
		fmt.Printf("Extracted: %s (%d bytes)\n", outputPath, len(data))
		extracted++
	}

	fmt.Fprintf(os.Stderr, "\nExtracted %d files\n", extracted)
	return nil
}

func cmdGRFPack(args []string) error {
	flags := flag.NewFlagSet("grf pack", flag.ExitOnError)
	flags.Parse(args)

	if flags.NArg() < 2 {
		return errors.New("usage: textool grf pack <out.grf> <dir>")
	}

	w := grf.NewWriter()
	if err := addDir(w, os.DirFS(flags.Arg(1))); err != nil {
		return err
	}

	f, err := os.Create(flags.Arg(0))
	if err != nil {
		return err
	}
	n, err := w.WriteTo(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Packed: %d files -> %s (%.2f MB)\n", w.Len(), flags.Arg(0), float64(n)/(1024*1024))
	return nil
}

// addDir adds every regular file of fsys under its slash-separated path.
func addDir(w *grf.Writer, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		f, err := fsys.Open(name)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		w.Add(name, data)
		return nil
	})
}
