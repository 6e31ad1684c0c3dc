package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ZacxDev/alpha-webm/internal/config"
	"github.com/ZacxDev/alpha-webm/internal/deps"
	"github.com/ZacxDev/alpha-webm/internal/ffmpeg"
	"github.com/ZacxDev/alpha-webm/internal/frames"
	"github.com/ZacxDev/alpha-webm/internal/logging"
	"github.com/ZacxDev/alpha-webm/internal/metrics"
	"github.com/ZacxDev/alpha-webm/internal/processor"
	"github.com/ZacxDev/alpha-webm/internal/server"
	"github.com/ZacxDev/alpha-webm/internal/stager"
	"github.com/ZacxDev/alpha-webm/internal/workspace"
	"github.com/ZacxDev/alpha-webm/pkg/types"
	"github.com/ZacxDev/alpha-webm/pkg/videoprocessor"
)

const shutdownTimeout = 30 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:   "alphawebm",
		Short: "Turn a zip of transparent PNG frames into a small alpha WebM",
		Long: `alphawebm encodes a sequence of transparent PNG frames into a two-pass
VP9 WebM that keeps the alpha channel, aiming for at most 256 KB.

Examples:
  # Run the web form on 127.0.0.1:7860
  alphawebm serve

  # Encode once from the command line
  alphawebm encode -i frames.zip -o sticker.webm --fps 30 --scale 512x512 --bitrate 200k

  # Write a fixture archive of 10 frames
  alphawebm frames -o dummy_frames.zip`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logging.SetLevel(logging.LevelDebug)
			}
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the web front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Listen = listen
			}
			if root, _ := cmd.Flags().GetString("work-root"); root != "" {
				cfg.WorkRoot = root
			}
			return serve(cfg)
		},
	}

	encodeCmd = &cobra.Command{
		Use:   "encode",
		Short: "Encode one frame archive to WebM",
		Long: `Encode a zip (or tar) of PNG frames once and print the result.

PNG members are ordered by name and renumbered; other members are ignored.

Example:
  alphawebm encode -i frames.zip -o sticker.webm --fps 60 --scale none --bitrate 150k`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			opts := config.EncodeOptions{}
			opts.ArchivePath, _ = cmd.Flags().GetString("input")
			opts.OutputPath, _ = cmd.Flags().GetString("output")
			opts.Verbose, _ = cmd.Flags().GetBool("verbose")

			opts.Settings, err = settingsFromFlags(cmd, cfg)
			if err != nil {
				return err
			}
			if opts.ArchivePath == "" {
				return fmt.Errorf("input archive is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := videoprocessor.EncodeArchive(ctx, cfg, opts)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	framesCmd = &cobra.Command{
		Use:   "frames",
		Short: "Write a fixture archive of transparent frames",
		Long: `Write a zip of transparent RGBA frames with a half-transparent red circle
moving left to right, for trying out the encoder.

Example:
  alphawebm frames -n 10 --size 512 -o dummy_frames.zip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.FramesOptions{}
			opts.Count, _ = cmd.Flags().GetInt("count")
			opts.Width, _ = cmd.Flags().GetInt("size")
			opts.Height = opts.Width
			opts.Radius, _ = cmd.Flags().GetInt("radius")
			opts.OutputZip, _ = cmd.Flags().GetString("output")

			if err := frames.WriteArchive(opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Created test zip file:", opts.OutputZip)
			return nil
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check that ffmpeg and ffprobe are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			printDeps(cmd.OutOrStdout(), statuses)
			if missing := deps.Missing(statuses); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, m := range missing {
					names = append(names, m.Command)
				}
				return fmt.Errorf("missing required binaries: %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logging.SetLevel(level)
	}
	return cfg, nil
}

func settingsFromFlags(cmd *cobra.Command, cfg *config.Config) (types.EncodeSettings, error) {
	settings := cfg.DefaultSettings()
	if cmd.Flags().Changed("fps") {
		v, _ := cmd.Flags().GetString("fps")
		fps, err := types.ParseFrameRate(v)
		if err != nil {
			return settings, err
		}
		settings.FrameRate = fps
	}
	if cmd.Flags().Changed("scale") {
		v, _ := cmd.Flags().GetString("scale")
		scale, err := types.ParseScaleOption(v)
		if err != nil {
			return settings, err
		}
		settings.Scale = scale
	}
	if cmd.Flags().Changed("bitrate") {
		settings.Bitrate, _ = cmd.Flags().GetString("bitrate")
	}
	return settings, nil
}

func serve(cfg *config.Config) error {
	root, err := workspace.Open(cfg.WorkRoot)
	if err != nil {
		return err
	}
	if err := root.Lock(); err != nil {
		return errors.Wrap(err, cfg.WorkRoot)
	}
	defer root.Unlock()

	for _, s := range deps.Missing(deps.CheckBinaries(deps.Requirements(cfg))) {
		logging.Warn("%s: %s", s.Name, s.Detail)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := server.NewRegistry()
	onSweep := func(res workspace.CleanStaleResult) {
		metrics.WorkspacesRemovedTotal.Add(float64(len(res.Removed)))
		if n := results.Prune(cfg.Retention); n > 0 {
			logging.Debug("pruned %d expired results", n)
		}
	}
	onSweep(root.CleanStale(ctx, cfg.Retention))
	go root.RunSweeper(ctx, sweepInterval(cfg.Retention), cfg.Retention, onSweep)

	enc := ffmpeg.NewProcessor(cfg.FFmpegPath, ffmpeg.WithThreads(cfg.Threads))
	pipeline := processor.New(root, stager.New(cfg.MaxFrames), enc, cfg.MaxConcurrent, cfg.Defaults.Bitrate)
	front := server.New(pipeline, root, results, cfg.DefaultSettings(), cfg.MaxUploadMB)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           front.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening on http://%s (work root %s)", cfg.Listen, root.Dir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// sweepInterval checks a few times per retention window, at most every
// ten minutes and at least every minute
func sweepInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	return interval
}

func printResult(w io.Writer, result types.Result) {
	fancy := shouldColorize(w)

	outcome := result.Outcome.String()
	switch result.Outcome {
	case types.OutcomeReady:
		outcome = colorize(fancy, text.FgGreen, outcome)
	case types.OutcomeWarning:
		outcome = colorize(fancy, text.FgYellow, outcome)
	}

	rows := [][]string{
		{"Outcome", outcome},
		{"Output", result.Path},
		{"Size", fmt.Sprintf("%.1f KB", result.SizeKB())},
		{"Frames", strconv.Itoa(result.Frames)},
	}
	if md := result.Metadata; md != nil {
		rows = append(rows,
			[]string{"Resolution", fmt.Sprintf("%dx%d", md.Width, md.Height)},
			[]string{"Duration", fmt.Sprintf("%.2fs", md.Duration)},
			[]string{"Codec", md.Codec},
		)
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil, fancy))
	if result.Outcome == types.OutcomeWarning {
		fmt.Fprintf(w, "Warning: final file is %.1f KB (> %d KB)\n", result.SizeKB(), types.SizeBudgetKB)
	}
}

func printDeps(w io.Writer, statuses []deps.Status) {
	fancy := shouldColorize(w)
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := colorize(fancy, text.FgGreen, "ok")
		detail := s.Path
		if !s.Available {
			state = colorize(fancy, text.FgRed, "missing")
			if s.Optional {
				state = colorize(fancy, text.FgYellow, "missing (optional)")
			}
			detail = s.Detail
		}
		rows = append(rows, []string{s.Name, s.Command, state, detail})
	}
	fmt.Fprintln(w, renderTable([]string{"Dependency", "Command", "Status", "Detail"}, rows, nil, fancy))
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a TOML config file")

	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("work-root", "", "Directory for job workspaces (overrides config)")

	encodeCmd.Flags().StringP("input", "i", "", "Input archive of PNG frames")
	encodeCmd.Flags().StringP("output", "o", "", "Output WebM path (default: next to the input)")
	encodeCmd.Flags().String("fps", config.DefaultFrameRate, "Frame rate (30 or 60)")
	encodeCmd.Flags().String("scale", config.DefaultScale, "Scale (none, 512x512 or 100x100)")
	encodeCmd.Flags().String("bitrate", config.DefaultBitrate, "Target bitrate, passed to the encoder as-is")
	encodeCmd.MarkFlagRequired("input")

	framesCmd.Flags().IntP("count", "n", config.DefaultFrameCount, "Number of frames")
	framesCmd.Flags().Int("size", config.DefaultFrameSize, "Frame width and height in pixels")
	framesCmd.Flags().Int("radius", config.DefaultFrameRadius, "Circle radius in pixels")
	framesCmd.Flags().StringP("output", "o", "dummy_frames.zip", "Output zip path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(framesCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	log.SetFlags(log.LstdFlags)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
