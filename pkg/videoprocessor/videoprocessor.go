package videoprocessor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/ffmpeg"
	"github.com/ZacxDev/alpha-webm/internal/logging"
	"github.com/ZacxDev/alpha-webm/internal/processor"
	"github.com/ZacxDev/alpha-webm/internal/stager"
	"github.com/ZacxDev/alpha-webm/internal/workspace"
	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// ErrNoArchive is returned when EncodeArchive is called without an input
var ErrNoArchive = errors.New("input archive is required")

// EncodeArchive runs one archive through the pipeline in a private work
// root and copies the artifact to opts.OutputPath. An empty OutputPath
// places it next to the archive with a .webm extension. Failed results are
// returned together with an error carrying their status text.
func EncodeArchive(ctx context.Context, cfg *config.Config, opts config.EncodeOptions, encOpts ...ffmpeg.Option) (types.Result, error) {
	if strings.TrimSpace(opts.ArchivePath) == "" {
		return types.NoArchive(), ErrNoArchive
	}
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}

	tempDir, err := os.MkdirTemp("", config.TempDirPrefix)
	if err != nil {
		return types.Result{}, errors.Wrap(err, "failed to create temp directory")
	}
	defer os.RemoveAll(tempDir)

	root, err := workspace.Open(tempDir)
	if err != nil {
		return types.Result{}, err
	}

	encOpts = append([]ffmpeg.Option{ffmpeg.WithThreads(cfg.Threads)}, encOpts...)
	enc := ffmpeg.NewProcessor(cfg.FFmpegPath, encOpts...)
	pipeline := processor.New(root, stager.New(cfg.MaxFrames), enc, 1, cfg.Defaults.Bitrate)

	logging.Debug("encoding %s", opts.ArchivePath)
	result := pipeline.Run(ctx, processor.Request{ArchivePath: opts.ArchivePath, Settings: opts.Settings})
	if result.Outcome == types.OutcomeFailed || result.Outcome == types.OutcomeNone {
		return result, errors.New(result.Status())
	}

	dst := opts.OutputPath
	if dst == "" {
		dst = strings.TrimSuffix(opts.ArchivePath, filepath.Ext(opts.ArchivePath)) + config.ContainerExt
	}
	if err := copyFile(result.Path, dst); err != nil {
		return result, err
	}
	result.Path = dst
	return result, nil
}

func copyFile(src, dst string) error {
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "error creating output directory")
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "write %s", dst)
	}
	return errors.WithStack(out.Close())
}
