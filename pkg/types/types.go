package types

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// FrameRate is the input frame rate handed to the encoder
type FrameRate int

const (
	FrameRate30 FrameRate = 30
	FrameRate60 FrameRate = 60
)

// SupportedFrameRates lists the frame rates offered by the form, default first
var SupportedFrameRates = []FrameRate{FrameRate30, FrameRate60}

// ParseFrameRate accepts "30" or "60"
func ParseFrameRate(s string) (FrameRate, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !slices.Contains(SupportedFrameRates, FrameRate(n)) {
		return 0, fmt.Errorf("unsupported frame rate: %q (supported: 30, 60)", s)
	}
	return FrameRate(n), nil
}

func (f FrameRate) String() string {
	return strconv.Itoa(int(f))
}

// ScaleOption selects the optional exact-square scale filter
type ScaleOption string

const (
	ScaleNone    ScaleOption = "none"
	Scale512x512 ScaleOption = "512x512"
	Scale100x100 ScaleOption = "100x100"
)

// SupportedScales lists scale choices in the order the form shows them
var SupportedScales = []ScaleOption{ScaleNone, Scale512x512, Scale100x100}

// ParseScaleOption accepts "none", "512x512" and "100x100". The form label
// "No scaling" and an empty value both mean none.
func ParseScaleOption(s string) (ScaleOption, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "no scaling":
		return ScaleNone, nil
	}
	if !slices.Contains(SupportedScales, ScaleOption(v)) {
		return "", fmt.Errorf("unsupported scale: %q (supported: none, 512x512, 100x100)", s)
	}
	return ScaleOption(v), nil
}

// Dimensions returns the target width and height, ok is false for ScaleNone
func (s ScaleOption) Dimensions() (width, height int, ok bool) {
	switch s {
	case Scale512x512:
		return 512, 512, true
	case Scale100x100:
		return 100, 100, true
	}
	return 0, 0, false
}

// Label is the text shown next to the radio button
func (s ScaleOption) Label() string {
	if s == ScaleNone {
		return "No scaling"
	}
	return string(s)
}

// EncodeSettings are the user-chosen encode parameters. Bitrate is passed
// through to the encoder as-is.
type EncodeSettings struct {
	FrameRate FrameRate
	Scale     ScaleOption
	Bitrate   string
}

// Outcome tags an encode Result
type Outcome int

const (
	// OutcomeNone means no archive was supplied and nothing was attempted
	OutcomeNone Outcome = iota
	OutcomeReady
	OutcomeWarning
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeReady:
		return "ready"
	case OutcomeWarning:
		return "warning"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Size budget for the final artifact
const (
	SizeBudgetBytes = 256 * 1024
	SizeBudgetKB    = 256
)

// Status prefixes of the legacy single-string result channel
const (
	WarningPrefix = "Warning: final file"
	ErrorPrefix   = "Error"
)

// VideoMetadata describes a produced artifact as reported by ffprobe
type VideoMetadata struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
}

// Result is the outcome of one encode request
type Result struct {
	ID       string
	Outcome  Outcome
	Path     string
	Size     int64
	Message  string
	Frames   int
	Metadata *VideoMetadata
}

// NoArchive is returned when the request carried no archive
func NoArchive() Result {
	return Result{Outcome: OutcomeNone}
}

// Failed wraps a terminal diagnostic message
func Failed(message string) Result {
	return Result{Outcome: OutcomeFailed, Message: message}
}

// SizeKB is the artifact size in KiB
func (r Result) SizeKB() float64 {
	return float64(r.Size) / 1024
}

// Status renders the result the way the status area shows it: a bare path,
// a warning that ends with the path on its own line, or a diagnostic.
func (r Result) Status() string {
	switch r.Outcome {
	case OutcomeReady:
		return r.Path
	case OutcomeWarning:
		return fmt.Sprintf("Warning: final file is %.1f KB (> %d KB). Download anyway:\n%s",
			r.SizeKB(), SizeBudgetKB, r.Path)
	case OutcomeFailed:
		return r.Message
	default:
		return ""
	}
}

// Download returns the artifact path when the result carries one that still
// exists on disk.
func (r Result) Download() (string, bool) {
	switch r.Outcome {
	case OutcomeReady, OutcomeWarning:
		if fileExists(r.Path) {
			return r.Path, true
		}
	}
	return "", false
}

// ResolveDownload recovers an artifact path from a status string. Warning and
// error texts are searched for a path on their last line, anything else is
// taken as a literal path. Only existing files are returned.
func ResolveDownload(status string) (string, bool) {
	if strings.HasPrefix(status, WarningPrefix) || strings.HasPrefix(status, ErrorPrefix) {
		lines := strings.Split(status, "\n")
		if len(lines) > 1 && fileExists(lines[len(lines)-1]) {
			return lines[len(lines)-1], true
		}
		return "", false
	}
	if fileExists(status) {
		return status, true
	}
	return "", false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
