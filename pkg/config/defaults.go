package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelhaven/reelhaven/internal/bytesize"
)

// ApplyDefaults fills unspecified configuration fields. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.Database.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
	cfg.API.ApplyDefaults()
	applyUploadDefaults(&cfg.Upload)
	applyBlobDefaults(&cfg.Blob)
	applyQueueDefaults(&cfg.Queue)
	applyCASDefaults(&cfg.CAS)
	applyMediaDefaults(&cfg.Media)
	cfg.Pipeline.ApplyDefaults()
	if cfg.Events.BufferSize <= 0 {
		cfg.Events.BufferSize = 1024
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 20 * bytesize.GiB
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 256 * bytesize.KiB
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 64 * bytesize.MiB
	}
	if cfg.ChunkSizeStep == 0 {
		cfg.ChunkSizeStep = 256 * bytesize.KiB
	}
	if cfg.DefaultChunkSize == 0 {
		cfg.DefaultChunkSize = 8 * bytesize.MiB
	}
	if len(cfg.AcceptedMIMETypes) == 0 {
		cfg.AcceptedMIMETypes = []string{
			"video/mp4",
			"video/quicktime",
			"video/x-matroska",
		}
	}
	if cfg.AppendTimeout == 0 {
		cfg.AppendTimeout = 5 * time.Minute
	}
}

func applyBlobDefaults(cfg *BlobStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "fs"
	}
	if cfg.Type == "fs" && cfg.FS.Path == "" {
		cfg.FS.Path = filepath.Join(stateDir(), "staging")
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Type == "badger" && cfg.Path == "" {
		cfg.Path = filepath.Join(stateDir(), "queue")
	}
}

func applyCASDefaults(cfg *CASConfig) {
	if cfg.Type == "" {
		cfg.Type = "fs"
	}
	if cfg.Type == "fs" && cfg.FS.Path == "" {
		cfg.FS.Path = filepath.Join(stateDir(), "cas")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
}

func applyMediaDefaults(cfg *MediaConfig) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "reelhaven-work")
	}
}

// stateDir returns $XDG_STATE_HOME/reelhaven, falling back to
// ~/.local/state/reelhaven.
func stateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "reelhaven")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "reelhaven")
	}
	return filepath.Join(home, ".local", "state", "reelhaven")
}

// GetDefaultConfig returns a Config with all defaults applied. Useful for
// generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
