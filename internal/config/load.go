package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// Environment overrides, applied after the config file
const (
	EnvListen     = "ALPHAWEBM_LISTEN"
	EnvWorkRoot   = "ALPHAWEBM_WORK_ROOT"
	EnvFFmpeg     = "ALPHAWEBM_FFMPEG"
	EnvLogLevel   = "LOG_LEVEL"
	EnvRetention  = "ALPHAWEBM_RETENTION"
	EnvConcurrent = "ALPHAWEBM_MAX_CONCURRENT"
)

// Load builds a Config from defaults, an optional TOML file, an optional
// .env file in the working directory and the environment. An empty path
// skips the file; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config")
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "load .env")
	}
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString(&c.Listen, EnvListen)
	setString(&c.WorkRoot, EnvWorkRoot)
	setString(&c.FFmpegPath, EnvFFmpeg)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.RetentionRaw, EnvRetention)

	if v := strings.TrimSpace(os.Getenv(EnvConcurrent)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrent = n
		}
	}
}

func (c *Config) normalize() error {
	c.Listen = strings.TrimSpace(c.Listen)
	c.FFmpegPath = strings.TrimSpace(c.FFmpegPath)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Defaults.Bitrate = strings.TrimSpace(c.Defaults.Bitrate)

	if c.WorkRoot == "" {
		c.WorkRoot = filepath.Join(os.TempDir(), "alphawebm")
	}
	root, err := expandPath(c.WorkRoot)
	if err != nil {
		return err
	}
	c.WorkRoot = root

	if raw := strings.TrimSpace(c.RetentionRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.Wrapf(err, "invalid retention %q", raw)
		}
		c.Retention = d
	}
	if c.Defaults.Bitrate == "" {
		c.Defaults.Bitrate = DefaultBitrate
	}
	return nil
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen must be set")
	}
	if c.FFmpegPath == "" {
		return errors.New("ffmpeg_path must be set")
	}
	if c.MaxConcurrent < 1 {
		return errors.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MaxFrames < 1 {
		return errors.Errorf("max_frames must be at least 1, got %d", c.MaxFrames)
	}
	if c.MaxUploadMB < 1 {
		return errors.Errorf("max_upload_mb must be at least 1, got %d", c.MaxUploadMB)
	}
	if c.Retention <= 0 {
		return errors.New("retention must be positive")
	}
	if c.Threads < -1 {
		return errors.Errorf("threads must be -1 (auto), 0 (encoder default) or positive, got %d", c.Threads)
	}
	if _, err := types.ParseFrameRate(c.Defaults.FrameRate); err != nil {
		return errors.Wrap(err, "defaults.frame_rate")
	}
	if _, err := types.ParseScaleOption(c.Defaults.Scale); err != nil {
		return errors.Wrap(err, "defaults.scale")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

// DefaultSettings returns the form defaults as parsed encode settings
func (c *Config) DefaultSettings() types.EncodeSettings {
	fps, _ := types.ParseFrameRate(c.Defaults.FrameRate)
	scale, _ := types.ParseScaleOption(c.Defaults.Scale)
	return types.EncodeSettings{FrameRate: fps, Scale: scale, Bitrate: c.Defaults.Bitrate}
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home directory")
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", path)
	}
	return abs, nil
}
