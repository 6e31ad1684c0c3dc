package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/pkg/types"
)

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		Duration   string `json:"duration"`
		NbFrames   string `json:"nb_frames"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe retrieves metadata about an encoded artifact
func (p *Processor) Probe(path string) (*types.VideoMetadata, error) {
	raw, err := p.prober(path)
	if err != nil {
		return nil, fmt.Errorf("error probing video: %v", err)
	}

	var data probeOutput
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, errors.WithStack(err)
	}

	for _, s := range data.Streams {
		if s.CodecType != "video" {
			continue
		}

		// stream duration first, then container, then frames / rate
		duration := parseSeconds(s.Duration)
		if duration == 0 {
			duration = parseSeconds(data.Format.Duration)
		}
		if duration == 0 {
			frames := parseSeconds(s.NbFrames)
			if rate := parseRate(s.RFrameRate); frames > 0 && rate > 0 {
				duration = frames / rate
			}
		}

		return &types.VideoMetadata{
			Duration: duration,
			Width:    s.Width,
			Height:   s.Height,
			Codec:    s.CodecName,
		}, nil
	}
	return nil, fmt.Errorf("no video stream found")
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseRate(s string) float64 {
	nums := strings.Split(s, "/")
	if len(nums) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(nums[0], 64)
	den, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
