package stager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/logging"
)

var (
	// ErrNoArchive means the request carried no archive at all
	ErrNoArchive = errors.New("no archive provided")
	// ErrNoFrames means the archive held no .png members
	ErrNoFrames = errors.New(config.NoFramesMessage)
	// ErrTooManyFrames means the archive exceeded the configured frame cap
	ErrTooManyFrames = errors.New("too many frames in archive")
)

// Workspace is where an archive is unpacked and its frames renumbered
type Workspace interface {
	ExtractDir() string
	FramesDir() string
}

// Frame is one renumbered archive member
type Frame struct {
	Index  int
	Source string // member name inside the archive
	Name   string // frame_%04d.png
}

// Staged is a frame sequence ready for the encoder's image2 demuxer
type Staged struct {
	Dir     string
	Pattern string
	Frames  []Frame
}

// Stager unpacks archives and lays out frame sequences
type Stager struct {
	maxFrames int
}

// New creates a stager; maxFrames <= 0 disables the cap
func New(maxFrames int) *Stager {
	return &Stager{maxFrames: maxFrames}
}

// Stage unpacks archivePath into ws and moves its PNG members, in
// lexicographic order of all member names, to frame_0001.png onwards.
// Other members are left where they were extracted.
func (s *Stager) Stage(ctx context.Context, archivePath string, ws Workspace) (*Staged, error) {
	if strings.TrimSpace(archivePath) == "" {
		return nil, ErrNoArchive
	}

	extractDir := ws.ExtractDir()
	framesDir := ws.FramesDir()
	for _, dir := range []string{extractDir, framesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	if err := archiver.Unarchive(archivePath, extractDir); err != nil {
		return nil, errors.Wrapf(err, "unpack %s", filepath.Base(archivePath))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	names, err := pngMembers(extractDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoFrames
	}
	if s.maxFrames > 0 && len(names) > s.maxFrames {
		return nil, errors.Wrapf(ErrTooManyFrames, "%d frames, limit is %d", len(names), s.maxFrames)
	}

	staged := &Staged{
		Dir:     framesDir,
		Pattern: filepath.Join(framesDir, config.FramePattern),
		Frames:  make([]Frame, 0, len(names)),
	}
	for i, name := range names {
		frame := Frame{
			Index:  i + 1,
			Source: name,
			Name:   fmt.Sprintf(config.FrameNameFmt, i+1),
		}
		src := filepath.Join(extractDir, name)
		dst := filepath.Join(framesDir, frame.Name)
		if err := os.Rename(src, dst); err != nil {
			return nil, errors.Wrapf(err, "move %s to %s", name, frame.Name)
		}
		staged.Frames = append(staged.Frames, frame)
	}

	logging.Debug("staged %d frames from %s into %s", len(staged.Frames), filepath.Base(archivePath), framesDir)
	return staged, nil
}

// pngMembers sorts every top-level name first and filters second, so frame
// order follows the full listing even when PNGs interleave with other files.
func pngMembers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}

	all := make([]string, 0, len(entries))
	regular := make(map[string]bool, len(entries))
	for _, entry := range entries {
		all = append(all, entry.Name())
		regular[entry.Name()] = entry.Type().IsRegular()
	}
	slices.Sort(all)

	var pngs []string
	for _, name := range all {
		if !regular[name] {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), ".png") {
			pngs = append(pngs, name)
		}
	}
	return pngs, nil
}
