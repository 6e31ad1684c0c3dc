package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

const stderrTailBytes = 4096

// Runner executes an external command and blocks until it exits
type Runner interface {
	Run(ctx context.Context, name string, args []string) error
}

// RunError is a non-zero exit, carrying the tail of stderr
type RunError struct {
	Err    error
	Stderr string
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec; the context kills the process
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string) error {
	tail := &tailBuffer{max: stderrTailBytes}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &RunError{Err: fmt.Errorf("%s: %w", name, ctx.Err()), Stderr: tail.String()}
		}
		return &RunError{Err: fmt.Errorf("%s: %w", name, err), Stderr: tail.String()}
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
