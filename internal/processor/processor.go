package processor

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/ffmpeg"
	"github.com/ZacxDev/alpha-webm/internal/logging"
	"github.com/ZacxDev/alpha-webm/internal/metrics"
	"github.com/ZacxDev/alpha-webm/internal/stager"
	"github.com/ZacxDev/alpha-webm/internal/workspace"
	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// Encoder runs the two encoder passes and inspects the artifact
type Encoder interface {
	AnalysisPass(ctx context.Context, job ffmpeg.Job) (ffmpeg.PassLog, error)
	EncodePass(ctx context.Context, job ffmpeg.Job, log ffmpeg.PassLog) error
	Probe(path string) (*types.VideoMetadata, error)
}

// Request is one encode action from the front end or the CLI
type Request struct {
	ArchivePath string
	Settings    types.EncodeSettings
}

// Pipeline stages an archive, runs both passes and checks the size budget.
// Each Run owns its job directory for the duration of the call.
type Pipeline struct {
	root           *workspace.Root
	stager         *stager.Stager
	encoder        Encoder
	slots          chan struct{}
	defaultBitrate string
}

// New creates a pipeline allowing maxConcurrent simultaneous runs
func New(root *workspace.Root, st *stager.Stager, enc Encoder, maxConcurrent int, defaultBitrate string) *Pipeline {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if defaultBitrate == "" {
		defaultBitrate = config.DefaultBitrate
	}
	return &Pipeline{
		root:           root,
		stager:         st,
		encoder:        enc,
		slots:          make(chan struct{}, maxConcurrent),
		defaultBitrate: defaultBitrate,
	}
}

// Run executes one request. It never returns an error: every failure is
// folded into a Failed result, and a missing archive yields a None result
// without touching the filesystem.
func (p *Pipeline) Run(ctx context.Context, req Request) types.Result {
	result := p.run(ctx, req)
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	metrics.EncodesTotal.WithLabelValues(result.Outcome.String()).Inc()
	return result
}

func (p *Pipeline) run(ctx context.Context, req Request) types.Result {
	if strings.TrimSpace(req.ArchivePath) == "" {
		return types.NoArchive()
	}

	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		return failure(ctx.Err())
	}
	metrics.EncodesInFlight.Inc()
	defer metrics.EncodesInFlight.Dec()

	lease, err := p.root.Acquire()
	if err != nil {
		return failure(err)
	}
	defer func() {
		if err := lease.Close(); err != nil {
			logging.Warn("failed to release workspace %s: %v", lease.Dir, err)
		}
	}()

	start := time.Now()
	staged, err := p.stager.Stage(ctx, req.ArchivePath, lease)
	metrics.StageDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, stager.ErrNoFrames) {
			return types.Result{ID: lease.ID, Outcome: types.OutcomeFailed, Message: config.NoFramesMessage}
		}
		return withID(failure(err), lease.ID)
	}
	metrics.FramesPerEncode.Observe(float64(len(staged.Frames)))

	settings := req.Settings
	if strings.TrimSpace(settings.Bitrate) == "" {
		settings.Bitrate = p.defaultBitrate
	}
	job := ffmpeg.Job{
		Pattern:       staged.Pattern,
		Settings:      settings,
		PassLogPrefix: lease.PassLogPrefix(),
		OutputPath:    lease.OutputPath(),
	}
	logging.Info("encoding %d frames from %s (%s fps, scale %s, bitrate %s)",
		len(staged.Frames), filepath.Base(req.ArchivePath), settings.FrameRate, settings.Scale, settings.Bitrate)

	if err := p.encode(ctx, job); err != nil {
		return withID(failure(err), lease.ID)
	}

	result, err := ffmpeg.CheckBudget(job.OutputPath)
	if err != nil {
		return withID(failure(err), lease.ID)
	}
	result.ID = lease.ID
	result.Frames = len(staged.Frames)
	metrics.ArtifactSizeBytes.Observe(float64(result.Size))

	if md, err := p.encoder.Probe(result.Path); err != nil {
		logging.Debug("probe %s: %v", result.Path, err)
	} else {
		result.Metadata = md
	}

	if result.Outcome == types.OutcomeWarning {
		logging.Warn("artifact %s is %.1f KB, over the %d KB budget", result.Path, result.SizeKB(), types.SizeBudgetKB)
	} else {
		logging.Info("artifact %s ready (%.1f KB)", result.Path, result.SizeKB())
	}

	lease.Keep()
	return result
}

func (p *Pipeline) encode(ctx context.Context, job ffmpeg.Job) error {
	start := time.Now()
	passLog, err := p.encoder.AnalysisPass(ctx, job)
	observePass(1, start)
	if err != nil {
		return err
	}

	start = time.Now()
	err = p.encoder.EncodePass(ctx, job, passLog)
	observePass(2, start)
	if err != nil {
		return err
	}

	if err := passLog.Remove(); err != nil {
		logging.Warn("failed to remove pass statistics: %v", err)
	}
	return nil
}

func observePass(pass int, start time.Time) {
	metrics.EncodePassDuration.WithLabelValues(strconv.Itoa(pass)).Observe(time.Since(start).Seconds())
}

func failure(err error) types.Result {
	logging.Error("encode failed: %v", err)
	return types.Failed(types.ErrorPrefix + ": " + err.Error())
}

func withID(r types.Result, id string) types.Result {
	r.ID = id
	return r
}
