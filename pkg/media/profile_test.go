package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanLadderSubsets(t *testing.T) {
	ladder := DefaultLadder()

	tests := []struct {
		name   string
		src    SourceInfo
		expect []string
	}{
		{"4k source gets full ladder", SourceInfo{Width: 3840, Height: 2160},
			[]string{"240p", "360p", "720p", "1080p", "2160p"}},
		{"1080p source stops at 1080p", SourceInfo{Width: 1920, Height: 1080},
			[]string{"240p", "360p", "720p", "1080p"}},
		{"720p source", SourceInfo{Width: 1280, Height: 720},
			[]string{"240p", "360p", "720p"}},
		{"odd 900p source stops below it", SourceInfo{Width: 1600, Height: 900},
			[]string{"240p", "360p", "720p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanLadder(ladder, &tt.src)
			var names []string
			for _, p := range plan {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.expect, names)
		})
	}
}

func TestPlanLadderTinySource(t *testing.T) {
	plan := PlanLadder(DefaultLadder(), &SourceInfo{Width: 321, Height: 179})
	require.Len(t, plan, 1)
	assert.Equal(t, SourceProfileName, plan[0].Name)
	// Dimensions are forced even for the encoder.
	assert.Equal(t, 320, plan[0].Width)
	assert.Equal(t, 178, plan[0].Height)
}

func TestParseBitrate(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"400k", 400_000},
		{"400K", 400_000},
		{"2M", 2_000_000},
		{"2m", 2_000_000},
		{"1.5M", 1_500_000},
		{"500000", 500_000},
		{" 800k ", 800_000},
	}
	for _, tt := range tests {
		got, err := ParseBitrate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "fast", "-5k", "0"} {
		_, err := ParseBitrate(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatBitrate(t *testing.T) {
	assert.Equal(t, "400k", FormatBitrate(400_000))
	assert.Equal(t, "2M", FormatBitrate(2_000_000))
	assert.Equal(t, "1500k", FormatBitrate(1_500_000))
	assert.Equal(t, "999", FormatBitrate(999))
}
