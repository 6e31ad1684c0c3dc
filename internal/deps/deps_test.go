package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ZacxDev/alpha-webm/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	present := filepath.Join(t.TempDir(), "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
		{Name: "Optional", Command: "also-not-present", Optional: true},
	})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Errorf("present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Errorf("missing binary: %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Errorf("blank command detail = %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 2 {
		t.Fatalf("Missing = %d entries, want 2 (optional ones excluded)", len(missing))
	}
	if missing[0].Name != "Missing" || missing[1].Name != "Blank" {
		t.Errorf("Missing = %v, %v", missing[0].Name, missing[1].Name)
	}
}

func TestRequirementsUseConfiguredFFmpeg(t *testing.T) {
	cfg := config.Default()
	cfg.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"

	reqs := Requirements(&cfg)
	if reqs[0].Command != cfg.FFmpegPath || reqs[0].Optional {
		t.Errorf("ffmpeg requirement = %#v", reqs[0])
	}
	if reqs[1].Command != "ffprobe" || !reqs[1].Optional {
		t.Errorf("ffprobe requirement = %#v", reqs[1])
	}
	if Requirements(nil)[0].Command != "ffmpeg" {
		t.Error("nil config should fall back to ffmpeg on PATH")
	}
}
