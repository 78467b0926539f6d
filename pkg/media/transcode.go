package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
)

// SegmentDuration is the target HLS segment length.
const SegmentDuration = 6 * time.Second

// RenditionResult describes a completed rendition.
type RenditionResult struct {
	Profile      Profile
	ManifestPath string // media playlist, relative to the output dir
	SegmentCount int
}

// Transcoder runs ffmpeg to produce HLS renditions and thumbnails.
type Transcoder struct {
	ffmpegPath string
	run        runFunc
}

// NewTranscoder creates a transcoder. An empty path defaults to "ffmpeg" on
// PATH.
func NewTranscoder(ffmpegPath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcoder{ffmpegPath: ffmpegPath, run: defaultRun}
}

// TranscodeHLS produces one rendition: NAME.m3u8 plus NAME_NNN.ts segments
// in outDir. The output is deterministic for a given source and profile, so
// a retried stage simply overwrites its previous partial output.
func (t *Transcoder) TranscodeHLS(ctx context.Context, srcPath, outDir string, profile Profile, src *SourceInfo) (*RenditionResult, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	manifestName := profile.Name + ".m3u8"
	segmentPattern := filepath.Join(outDir, profile.Name+"_%03d.ts")

	args := []string{
		"-y",
		"-i", srcPath,
		"-vf", fmt.Sprintf("scale=%d:%d", profile.Width, profile.Height),
		"-c:v", "libx264",
		"-preset", "fast",
		"-b:v", FormatBitrate(profile.Bitrate),
		"-maxrate", FormatBitrate(profile.Bitrate),
		"-bufsize", FormatBitrate(2 * profile.Bitrate),
	}
	if src != nil && src.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-hls_time", fmt.Sprintf("%d", int(SegmentDuration.Seconds())),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		filepath.Join(outDir, manifestName),
	)

	start := time.Now()
	if _, err := t.run(ctx, t.ffmpegPath, args...); err != nil {
		return nil, fmt.Errorf("transcode %s failed: %w", profile.Name, err)
	}

	segments, err := countSegments(outDir, profile.Name)
	if err != nil {
		return nil, err
	}

	logger.Info("rendition transcoded",
		logger.Rendition(profile.Name),
		"segments", segments,
		logger.DurationMs(float64(time.Since(start).Milliseconds())))

	return &RenditionResult{
		Profile:      profile,
		ManifestPath: manifestName,
		SegmentCount: segments,
	}, nil
}

// countSegments counts NAME_NNN.ts files for a rendition.
func countSegments(outDir, name string) (int, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() &&
			strings.HasPrefix(e.Name(), name+"_") &&
			strings.HasSuffix(e.Name(), ".ts") {
			count++
		}
	}
	return count, nil
}

// ExtractThumbnails grabs count frames spread evenly across the video as
// 320x240 JPEGs named thumb_NN.jpg. Frames are sampled at the midpoint of
// each interval so the first is not the (often black) opening frame.
func (t *Transcoder) ExtractThumbnails(ctx context.Context, srcPath, outDir string, count int, duration time.Duration) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for i := 0; i < count; i++ {
		offset := time.Duration(float64(duration) * (float64(i) + 0.5) / float64(count))
		name := fmt.Sprintf("thumb_%02d.jpg", i)
		out := filepath.Join(outDir, name)

		_, err := t.run(ctx, t.ffmpegPath,
			"-y",
			"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
			"-i", srcPath,
			"-frames:v", "1",
			"-vf", "scale=320:240",
			out,
		)
		if err != nil {
			return nil, fmt.Errorf("thumbnail %d failed: %w", i, err)
		}
		paths = append(paths, name)
	}
	return paths, nil
}
