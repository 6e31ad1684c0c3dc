package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/logging"
)

// ErrLocked is returned when another process holds the work root lock
var ErrLocked = errors.New("work root is locked by another alphawebm process")

// Root owns the directory under which every job directory is created
type Root struct {
	dir  string
	jobs string
	lock *flock.Flock
}

// Open creates the work root and its jobs directory if needed
func Open(dir string) (*Root, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("work root is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve work root %s", dir)
	}
	jobs := filepath.Join(abs, config.JobsDirName)
	if err := os.MkdirAll(jobs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create jobs directory %s", jobs)
	}
	return &Root{
		dir:  abs,
		jobs: jobs,
		lock: flock.New(filepath.Join(abs, config.LockFileName)),
	}, nil
}

// Dir returns the absolute work root
func (r *Root) Dir() string {
	return r.dir
}

// Lock takes the exclusive work root lock without blocking
func (r *Root) Lock() error {
	ok, err := r.lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquire work root lock")
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the work root lock
func (r *Root) Unlock() error {
	return r.lock.Unlock()
}

// Contains reports whether path resolves inside the jobs directory
func (r *Root) Contains(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.jobs, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Acquire creates a fresh job directory. Callers must Close the lease.
func (r *Root) Acquire() (*Lease, error) {
	id := uuid.New().String()
	dir := filepath.Join(r.jobs, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create job directory %s", dir)
	}
	logging.Debug("acquired workspace %s", dir)
	return &Lease{ID: id, Dir: dir}, nil
}

// Lease is one request's job directory
type Lease struct {
	ID  string
	Dir string

	once sync.Once
	keep bool
}

func (l *Lease) ExtractDir() string {
	return filepath.Join(l.Dir, config.ExtractDirName)
}

func (l *Lease) FramesDir() string {
	return filepath.Join(l.Dir, config.FramesDirName)
}

// PassLogPrefix is handed to the encoder as -passlogfile
func (l *Lease) PassLogPrefix() string {
	return filepath.Join(l.Dir, config.PassLogPrefix)
}

func (l *Lease) OutputPath() string {
	return filepath.Join(l.Dir, config.OutputName)
}

// Keep marks the artifact as worth keeping past Close
func (l *Lease) Keep() {
	l.keep = true
}

// Close releases the lease. Scratch data is always removed; the job
// directory itself survives only when Keep was called.
func (l *Lease) Close() error {
	var err error
	l.once.Do(func() {
		if l.keep {
			err = l.removeScratch()
			return
		}
		err = os.RemoveAll(l.Dir)
		if err == nil {
			logging.Debug("released workspace %s", l.Dir)
		}
	})
	return err
}

func (l *Lease) removeScratch() error {
	var firstErr error
	for _, dir := range []string{l.ExtractDir(), l.FramesDir()} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "remove %s", dir)
		}
	}
	logs, _ := filepath.Glob(l.PassLogPrefix() + "*")
	for _, p := range logs {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "remove %s", p)
		}
	}
	return firstErr
}

// CleanStaleResult contains the outcome of a stale job cleanup
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes job directories older than maxAge
func (r *Root) CleanStale(ctx context.Context, maxAge time.Duration) CleanStaleResult {
	result := CleanStaleResult{}

	entries, err := os.ReadDir(r.jobs)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: r.jobs, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(r.jobs, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.Warn("failed to remove stale job directory %s: %v", dirPath, err)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logging.Info("removed stale job directory %s (age %s)", dirPath, time.Since(info.ModTime()).Round(time.Second))
	}
	return result
}

// RunSweeper calls CleanStale every interval until ctx is done
func (r *Root) RunSweeper(ctx context.Context, interval, maxAge time.Duration, onSweep func(CleanStaleResult)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.CleanStale(ctx, maxAge)
			if onSweep != nil {
				onSweep(res)
			}
		}
	}
}
