package config

import (
	"time"

	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// EncodeOptions defines options for a single archive-to-webm encode
type EncodeOptions struct {
	ArchivePath string
	OutputPath  string // optional, copy the artifact here when set
	Settings    types.EncodeSettings
	Verbose     bool
}

// FramesOptions defines options for generating a fixture archive
type FramesOptions struct {
	Count     int
	Width     int
	Height    int
	Radius    int
	OutputZip string
}

// Config is the server and encoder configuration
type Config struct {
	Listen        string        `toml:"listen"`
	WorkRoot      string        `toml:"work_root"`
	FFmpegPath    string        `toml:"ffmpeg_path"`
	LogLevel      string        `toml:"log_level"`
	Threads       int           `toml:"threads"`
	MaxConcurrent int           `toml:"max_concurrent"`
	MaxFrames     int           `toml:"max_frames"`
	MaxUploadMB   int64         `toml:"max_upload_mb"`
	RetentionRaw  string        `toml:"retention"`
	Retention     time.Duration `toml:"-"`
	Defaults      Defaults      `toml:"defaults"`
}

// Defaults are the values the form starts with
type Defaults struct {
	FrameRate string `toml:"frame_rate"`
	Scale     string `toml:"scale"`
	Bitrate   string `toml:"bitrate"`
}

const (
	// Encoder
	VideoCodec    = "libvpx-vp9"
	PixelFormat   = "yuva420p" // keeps the alpha plane
	AutoAltRef    = 0          // alt-ref frames corrupt alpha with vp9
	ContainerExt  = ".webm"
	OutputName    = "output.webm"
	PassLogPrefix = "ffmpeg2pass"

	// Staging
	ExtractDirName = "extract"
	FramesDirName  = "frames"
	FrameNameFmt   = "frame_%04d.png"
	FramePattern   = "frame_%04d.png"
	JobsDirName    = "jobs"
	LockFileName   = "alphawebm.lock"

	// Legacy status text for an archive without PNG members
	NoFramesMessage = "No PNG files found in the zip."

	// Server
	DefaultListen        = "127.0.0.1:7860"
	DefaultBitrate       = "200k"
	DefaultFrameRate     = "30"
	DefaultScale         = "512x512"
	DefaultMaxConcurrent = 2
	DefaultMaxFrames     = 10000
	DefaultMaxUploadMB   = 512
	DefaultRetention     = time.Hour
	DefaultLogLevel      = "info"

	// Temporary directory prefix for CLI runs
	TempDirPrefix = "alphawebm_"

	// Fixture frames
	DefaultFrameCount  = 10
	DefaultFrameSize   = 512
	DefaultFrameRadius = 50
)

// Default returns a Config populated with repository defaults
func Default() Config {
	return Config{
		Listen:        DefaultListen,
		WorkRoot:      "",
		FFmpegPath:    "ffmpeg",
		LogLevel:      DefaultLogLevel,
		MaxConcurrent: DefaultMaxConcurrent,
		MaxFrames:     DefaultMaxFrames,
		MaxUploadMB:   DefaultMaxUploadMB,
		RetentionRaw:  DefaultRetention.String(),
		Retention:     DefaultRetention,
		Defaults: Defaults{
			FrameRate: DefaultFrameRate,
			Scale:     DefaultScale,
			Bitrate:   DefaultBitrate,
		},
	}
}
