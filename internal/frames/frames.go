// Package frames writes fixture archives: transparent RGBA frames with a
// half-transparent red circle moving left to right, zipped flat.
package frames

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/logging"
)

var circleFill = color.NRGBA{R: 255, G: 0, B: 0, A: 128}

// Render draws frame i of count
func Render(i, count, width, height, radius int) *image.NRGBA {
	img := imaging.New(width, height, color.NRGBA{})

	cx := radius
	if count > 1 {
		cx = (width-2*radius)*i/(count-1) + radius
	}
	cy := height / 2

	bounds := image.Rect(cx-radius, cy-radius, cx+radius+1, cy+radius+1).Intersect(img.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.SetNRGBA(x, y, circleFill)
			}
		}
	}
	return img
}

// WriteArchive renders opts.Count frames and zips them to opts.OutputZip,
// replacing an existing file. Frames are written to a temporary directory
// that is removed afterwards.
func WriteArchive(opts config.FramesOptions) error {
	opts = withDefaults(opts)
	if opts.Count < 1 {
		return errors.Errorf("frame count must be positive, got %d", opts.Count)
	}
	if 2*opts.Radius > opts.Width || 2*opts.Radius > opts.Height {
		return errors.Errorf("circle radius %d does not fit a %dx%d frame", opts.Radius, opts.Width, opts.Height)
	}

	tempDir, err := os.MkdirTemp("", config.TempDirPrefix+"frames_")
	if err != nil {
		return errors.Wrap(err, "failed to create temp directory")
	}
	defer os.RemoveAll(tempDir)

	files := make([]string, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		path := filepath.Join(tempDir, fmt.Sprintf(config.FrameNameFmt, i+1))
		if err := imaging.Save(Render(i, opts.Count, opts.Width, opts.Height, opts.Radius), path); err != nil {
			return errors.Wrapf(err, "save frame %d", i+1)
		}
		files = append(files, path)
	}

	if dir := filepath.Dir(opts.OutputZip); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "error creating output directory")
		}
	}
	z := archiver.NewZip()
	z.OverwriteExisting = true
	if err := z.Archive(files, opts.OutputZip); err != nil {
		return errors.Wrapf(err, "write %s", opts.OutputZip)
	}

	logging.Debug("wrote %d frames (%dx%d) to %s", opts.Count, opts.Width, opts.Height, opts.OutputZip)
	return nil
}

func withDefaults(opts config.FramesOptions) config.FramesOptions {
	if opts.Width == 0 {
		opts.Width = config.DefaultFrameSize
	}
	if opts.Height == 0 {
		opts.Height = opts.Width
	}
	if opts.Radius == 0 {
		opts.Radius = config.DefaultFrameRadius
	}
	if opts.OutputZip == "" {
		opts.OutputZip = "dummy_frames.zip"
	}
	return opts
}
