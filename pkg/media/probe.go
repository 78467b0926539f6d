package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
)

// SourceInfo is what probing a source file yields.
type SourceInfo struct {
	Width      int
	Height     int
	Duration   time.Duration
	VideoCodec string
	AudioCodec string
	HasAudio   bool
}

// runFunc executes a tool and returns its stdout. Tests substitute it to
// avoid spawning real processes.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &ToolError{Tool: name, Err: err, Stderr: tailOf([]byte(stderr.String()), 512)}
	}
	return out, nil
}

// Prober extracts stream information with ffprobe.
type Prober struct {
	ffprobePath string
	run         runFunc
}

// NewProber creates a prober. An empty path defaults to "ffprobe" on PATH.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, run: defaultRun}
}

// ffprobe JSON output, reduced to the fields we read.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects the source file. A file without a decodable video stream
// returns ErrUnsupportedCodec; unreadable input returns ErrProbeFailed.
func (p *Prober) Probe(ctx context.Context, path string) (*SourceInfo, error) {
	out, err := p.run(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unparseable ffprobe output: %v", ErrProbeFailed, err)
	}

	info := &SourceInfo{}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
				info.HasAudio = true
			}
		}
	}

	if info.VideoCodec == "" || info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("%w: no video stream", ErrUnsupportedCodec)
	}

	if parsed.Format.Duration != "" {
		secs, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err == nil {
			info.Duration = time.Duration(secs * float64(time.Second))
		}
	}

	logger.Debug("probed source",
		"width", info.Width,
		"height", info.Height,
		"video_codec", info.VideoCodec,
		"audio_codec", info.AudioCodec,
		"duration", info.Duration.String())

	return info, nil
}
