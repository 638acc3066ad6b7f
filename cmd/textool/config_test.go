package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/texpipe/internal/config"
)

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "texpipe.yaml")
	if err := configInit([]string{"-o", path}); err != nil {
		t.Fatalf("configInit: %v", err)
	}
	if err := configInit([]string{"-o", path}); err == nil {
		t.Error("configInit overwrote an existing file without -f")
	}
	if err := configInit([]string{"-o", path, "-f"}); err != nil {
		t.Errorf("configInit -f: %v", err)
	}

	t.Setenv(config.EnvConfig, path)
	var out bytes.Buffer
	if err := configShow(&out); err != nil {
		t.Fatalf("configShow: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "# source: "+path+"\n") {
		t.Errorf("missing source line:\n%s", got)
	}
	for _, want := range []string{"root_dir: data", "mipmaps: load_or_generate", "width: 1280"} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
}

func TestConfigShowRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("texture:\n  mipmaps: never\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvConfig, path)
	if err := configShow(&bytes.Buffer{}); err == nil {
		t.Error("expected configShow to reject an invalid mipmap mode")
	}
}
