package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ZacxDev/alpha-webm/internal/config"
)

// Requirement is an external binary the encoder shells out to
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports whether a Requirement resolved on PATH
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// Requirements lists the binaries used for the given configuration. ffprobe
// only feeds the metadata shown next to a result, so it is optional.
func Requirements(cfg *config.Config) []Requirement {
	ffmpegCmd := "ffmpeg"
	if cfg != nil && strings.TrimSpace(cfg.FFmpegPath) != "" {
		ffmpegCmd = cfg.FFmpegPath
	}
	return []Requirement{
		{Name: "FFmpeg", Command: ffmpegCmd, Description: "two-pass " + config.VideoCodec + " encoder"},
		{Name: "FFprobe", Command: "ffprobe", Description: "artifact metadata", Optional: true},
	}
}

// CheckBinaries resolves every requirement with exec.LookPath
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		if req.Command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(req.Command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) binaries that were not found
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
