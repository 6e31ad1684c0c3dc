package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZacxDev/alpha-webm/internal/config"
)

func openRoot(t *testing.T) *Root {
	t.Helper()
	root, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return root
}

func populate(t *testing.T, lease *Lease) {
	t.Helper()
	for _, dir := range []string{lease.ExtractDir(), lease.FramesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "frame_0001.png"), []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(lease.PassLogPrefix()+"-0.log", []byte("stats"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lease.OutputPath(), []byte("webm"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireCreatesDistinctDirectories(t *testing.T) {
	root := openRoot(t)

	a, err := root.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer a.Close()
	b, err := root.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer b.Close()

	if a.Dir == b.Dir {
		t.Fatal("two leases must never share a directory")
	}
	if !root.Contains(a.OutputPath()) {
		t.Errorf("%s should be inside the work root", a.OutputPath())
	}
}

func TestCloseWithoutKeepRemovesEverything(t *testing.T) {
	root := openRoot(t)
	lease, err := root.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	populate(t, lease)

	if err := lease.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(lease.Dir); !os.IsNotExist(err) {
		t.Errorf("job directory should be gone, stat err = %v", err)
	}
	// second close is a no-op
	if err := lease.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseWithKeepRemovesOnlyScratch(t *testing.T) {
	root := openRoot(t)
	lease, err := root.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	populate(t, lease)

	lease.Keep()
	if err := lease.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(lease.OutputPath()); err != nil {
		t.Errorf("artifact should survive: %v", err)
	}
	for _, p := range []string{lease.ExtractDir(), lease.FramesDir(), lease.PassLogPrefix() + "-0.log"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", p)
		}
	}
}

func TestContains(t *testing.T) {
	root := openRoot(t)
	jobs := filepath.Join(root.Dir(), config.JobsDirName)

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(jobs, "abc", "output.webm"), true},
		{jobs, false},
		{filepath.Join(jobs, "..", "alphawebm.lock"), false},
		{"/etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := root.Contains(tt.path); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCleanStale(t *testing.T) {
	root := openRoot(t)

	old, err := root.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old.Dir, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}
	recent, err := root.Acquire()
	if err != nil {
		t.Fatal(err)
	}

	result := root.CleanStale(context.Background(), time.Hour)
	if len(result.Removed) != 1 || result.Removed[0] != old.Dir {
		t.Fatalf("Removed = %v, want [%s]", result.Removed, old.Dir)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	if _, err := os.Stat(recent.Dir); err != nil {
		t.Errorf("recent job should remain: %v", err)
	}
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Lock(); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	defer first.Unlock()

	second, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Lock(); err != ErrLocked {
		t.Fatalf("second Lock error = %v, want ErrLocked", err)
	}
}
