// Package media plans and executes the transcoding work for an upload:
// probing the source, transcoding the HLS rendition ladder, writing the
// master manifest and extracting thumbnails. All heavy lifting is delegated
// to ffmpeg/ffprobe subprocesses.
package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Profile describes one rung of the rendition ladder.
type Profile struct {
	// Name labels the rendition ("240p"). Segment and manifest files are
	// named after it.
	Name string `mapstructure:"name" yaml:"name"`

	// Width and Height are the target frame dimensions.
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`

	// Bitrate is the target video bitrate in bits per second.
	Bitrate int64 `mapstructure:"bitrate" yaml:"bitrate"`
}

// SourceProfileName labels the native-resolution fallback rendition used
// when the source is smaller than the lowest ladder rung.
const SourceProfileName = "source"

// DefaultLadder is the standard rendition ladder, lowest first. The
// orchestrator transcodes in this order so viewers get a playable stream as
// early as possible.
func DefaultLadder() []Profile {
	return []Profile{
		{Name: "240p", Width: 426, Height: 240, Bitrate: 400_000},
		{Name: "360p", Width: 640, Height: 360, Bitrate: 800_000},
		{Name: "720p", Width: 1280, Height: 720, Bitrate: 2_000_000},
		{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 5_000_000},
		{Name: "2160p", Width: 3840, Height: 2160, Bitrate: 15_000_000},
	}
}

// PlanLadder selects the rungs to transcode for a source: every profile
// whose frame fits inside the source, lowest first. A source smaller than
// the lowest rung gets a single native-resolution rendition so tiny videos
// still play.
func PlanLadder(ladder []Profile, src *SourceInfo) []Profile {
	var plan []Profile
	for _, p := range ladder {
		if p.Width <= src.Width && p.Height <= src.Height {
			plan = append(plan, p)
		}
	}
	if len(plan) == 0 {
		plan = append(plan, Profile{
			Name:   SourceProfileName,
			Width:  evenDim(src.Width),
			Height: evenDim(src.Height),
			// Modest bitrate for sub-240p content.
			Bitrate: 300_000,
		})
	}
	return plan
}

// evenDim rounds down to an even dimension; H.264 encoders reject odd frame
// sizes.
func evenDim(d int) int {
	return d &^ 1
}

// ParseBitrate parses human bitrate notation: a plain number is bits per
// second, a "k" suffix multiplies by 1e3, an "m" suffix by 1e6. Case
// insensitive.
func ParseBitrate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty bitrate")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(strings.ToLower(s), "k"):
		multiplier = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToLower(s), "m"):
		multiplier = 1_000_000
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bitrate %q: %w", s, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("bitrate must be positive, got %q", s)
	}
	return int64(value * float64(multiplier)), nil
}

// FormatBitrate renders a bitrate the way ffmpeg expects it ("400k", "2M").
func FormatBitrate(bps int64) string {
	switch {
	case bps >= 1_000_000 && bps%1_000_000 == 0:
		return fmt.Sprintf("%dM", bps/1_000_000)
	case bps >= 1_000 && bps%1_000 == 0:
		return fmt.Sprintf("%dk", bps/1_000)
	default:
		return strconv.FormatInt(bps, 10)
	}
}
