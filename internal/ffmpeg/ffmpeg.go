package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/logging"
	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// ErrNoPassLog is returned when the second pass is attempted without the
// statistics of a completed first pass
var ErrNoPassLog = errors.New("second pass requires first-pass statistics")

// alphaPreset holds the parameters every pass uses regardless of settings
var alphaPreset = ffmpeg.KwArgs{
	"c:v":          config.VideoCodec,
	"pix_fmt":      config.PixelFormat,
	"auto-alt-ref": config.AutoAltRef,
	"an":           "",
}

// Job describes one staged frame sequence to encode
type Job struct {
	Pattern       string // frame_%04d.png pattern inside the staging dir
	Settings      types.EncodeSettings
	PassLogPrefix string
	OutputPath    string
}

// PassLog is the statistics written by a completed first pass. The zero
// value is not usable.
type PassLog struct {
	prefix string
	files  []string
}

// Prefix is the -passlogfile value both passes share
func (l PassLog) Prefix() string {
	return l.prefix
}

// Files lists the statistics files found after the first pass
func (l PassLog) Files() []string {
	return l.files
}

func (l PassLog) valid() bool {
	return l.prefix != "" && len(l.files) > 0
}

// Remove deletes the statistics files
func (l PassLog) Remove() error {
	var firstErr error
	for _, f := range l.files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "remove %s", f)
		}
	}
	return firstErr
}

// EncoderError is a failed encoder pass
type EncoderError struct {
	Pass   int
	Err    error
	Stderr string
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("pass %d: %v", e.Pass, e.Err)
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}

// Processor wraps FFmpeg functionality
type Processor struct {
	ffmpegPath string
	threads    int
	runner     Runner
	prober     func(path string) (string, error)
}

// Option configures a Processor
type Option func(*Processor)

// WithRunner replaces the process runner
func WithRunner(r Runner) Option {
	return func(p *Processor) { p.runner = r }
}

// WithThreads sets -threads; 0 leaves it to the encoder, -1 uses GetOptimalThreadCount
func WithThreads(n int) Option {
	return func(p *Processor) { p.threads = n }
}

// WithProber replaces the ffprobe call used by Probe
func WithProber(fn func(path string) (string, error)) Option {
	return func(p *Processor) { p.prober = fn }
}

// NewProcessor creates a new FFmpeg processor
func NewProcessor(ffmpegPath string, opts ...Option) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	p := &Processor{
		ffmpegPath: ffmpegPath,
		runner:     &ExecRunner{},
		prober:     func(path string) (string, error) { return ffmpeg.Probe(path) },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ScaleFilter returns the -vf value for the scale choice, ok is false when
// no filter applies
func ScaleFilter(scale types.ScaleOption) (string, bool) {
	w, h, ok := scale.Dimensions()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("scale=%d:%d", w, h), true
}

// PassArgs builds the argument vector for pass 1 or 2
func (p *Processor) PassArgs(job Job, pass int) ([]string, error) {
	if pass != 1 && pass != 2 {
		return nil, errors.Errorf("invalid pass %d", pass)
	}
	if job.Pattern == "" || job.PassLogPrefix == "" {
		return nil, errors.New("job needs a frame pattern and a passlog prefix")
	}
	bitrate := strings.TrimSpace(job.Settings.Bitrate)
	if bitrate == "" {
		return nil, errors.New("bitrate is empty")
	}

	outputKwargs := ffmpeg.KwArgs{
		"b:v":         bitrate,
		"minrate":     bitrate,
		"maxrate":     bitrate,
		"pass":        pass,
		"passlogfile": job.PassLogPrefix,
	}
	for k, v := range alphaPreset {
		outputKwargs[k] = v
	}
	if vf, ok := ScaleFilter(job.Settings.Scale); ok {
		outputKwargs["vf"] = vf
	}
	if p.threads != 0 {
		threads := p.threads
		if threads < 0 {
			threads = GetOptimalThreadCount()
		}
		outputKwargs["threads"] = threads
	}

	output := job.OutputPath
	if pass == 1 {
		outputKwargs["f"] = "null"
		output = os.DevNull
	} else if output == "" {
		return nil, errors.New("job has no output path")
	}

	stream := ffmpeg.Input(job.Pattern, ffmpeg.KwArgs{
		"framerate": job.Settings.FrameRate.String(),
	}).Output(output, outputKwargs).OverWriteOutput()

	return stream.GetArgs(), nil
}

// AnalysisPass runs the statistics-only first pass
func (p *Processor) AnalysisPass(ctx context.Context, job Job) (PassLog, error) {
	if err := p.run(ctx, job, 1); err != nil {
		return PassLog{}, err
	}

	files, err := filepath.Glob(job.PassLogPrefix + "*")
	if err != nil {
		return PassLog{}, errors.WithStack(err)
	}
	if len(files) == 0 {
		return PassLog{}, &EncoderError{Pass: 1, Err: errors.Errorf("no statistics written under %s", job.PassLogPrefix)}
	}
	return PassLog{prefix: job.PassLogPrefix, files: files}, nil
}

// EncodePass runs the second pass against the first pass's statistics
func (p *Processor) EncodePass(ctx context.Context, job Job, log PassLog) error {
	if !log.valid() {
		return ErrNoPassLog
	}
	if log.prefix != job.PassLogPrefix {
		return errors.Wrapf(ErrNoPassLog, "statistics %s do not belong to this job", log.prefix)
	}
	return p.run(ctx, job, 2)
}

// Encode runs both passes in order and removes the statistics afterwards
func (p *Processor) Encode(ctx context.Context, job Job) error {
	passLog, err := p.AnalysisPass(ctx, job)
	if err != nil {
		return err
	}
	if err := p.EncodePass(ctx, job, passLog); err != nil {
		return err
	}
	if err := passLog.Remove(); err != nil {
		logging.Warn("failed to remove pass statistics: %v", err)
	}
	return nil
}

func (p *Processor) run(ctx context.Context, job Job, pass int) error {
	args, err := p.PassArgs(job, pass)
	if err != nil {
		return &EncoderError{Pass: pass, Err: err}
	}
	logging.Debug("pass %d: %s %s", pass, p.ffmpegPath, strings.Join(args, " "))

	if err := p.runner.Run(ctx, p.ffmpegPath, args); err != nil {
		encErr := &EncoderError{Pass: pass, Err: err}
		var runErr *RunError
		if errors.As(err, &runErr) {
			encErr.Stderr = runErr.Stderr
		}
		logging.Debug("pass %d failed: %v\n%s", pass, err, encErr.Stderr)
		return encErr
	}
	return nil
}

// CheckBudget compares the artifact size against the 256 KB budget
func CheckBudget(path string) (types.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Result{}, errors.Wrap(err, "stat artifact")
	}
	result := types.Result{Outcome: types.OutcomeReady, Path: path, Size: info.Size()}
	if info.Size() > types.SizeBudgetBytes {
		result.Outcome = types.OutcomeWarning
	}
	return result, nil
}

func GetOptimalThreadCount() int {
	cpuCount := runtime.NumCPU()
	// Use 75% of available cores to prevent overload
	return int(math.Max(1, float64(cpuCount)*0.75))
}
