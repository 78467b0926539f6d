package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelhaven/reelhaven/internal/bytesize"
	sessionstore "github.com/reelhaven/reelhaven/pkg/session/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 8080, cfg.API.Port)

	assert.Equal(t, 20*bytesize.GiB, cfg.Upload.MaxFileSize)
	assert.Equal(t, 256*bytesize.KiB, cfg.Upload.MinChunkSize)
	assert.Equal(t, 64*bytesize.MiB, cfg.Upload.MaxChunkSize)
	assert.Equal(t, 8*bytesize.MiB, cfg.Upload.DefaultChunkSize)
	assert.Contains(t, cfg.Upload.AcceptedMIMETypes, "video/mp4")

	assert.Equal(t, "fs", cfg.Blob.Type)
	assert.NotEmpty(t, cfg.Blob.FS.Path)
	assert.Equal(t, "badger", cfg.Queue.Type)
	assert.Equal(t, "fs", cfg.CAS.Type)
	assert.Equal(t, 3, cfg.CAS.MaxRetries)

	assert.Equal(t, sessionstore.DatabaseTypeSQLite, cfg.Database.Type)

	assert.Equal(t, 2, cfg.Pipeline.Concurrency)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.NotEmpty(t, cfg.Pipeline.Ladder)

	require.NoError(t, Validate(cfg))
}

func TestLoadYAMLWithHumanReadableSizes(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
upload:
  max_file_size: 5Gi
  default_chunk_size: 4Mi
  append_timeout: 2m
pipeline:
  concurrency: 8
  retry_backoff: 10s
blob:
  type: memory
queue:
  type: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 5*bytesize.GiB, cfg.Upload.MaxFileSize)
	assert.Equal(t, 4*bytesize.MiB, cfg.Upload.DefaultChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.Upload.AppendTimeout)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.RetryBackoff)
	assert.Equal(t, "memory", cfg.Blob.Type)

	// Unset fields still come from defaults.
	assert.Equal(t, 64*bytesize.MiB, cfg.Upload.MaxChunkSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestValidateCrossFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min over max chunk", func(c *Config) {
			c.Upload.MinChunkSize = 128 * bytesize.MiB
		}},
		{"default outside range", func(c *Config) {
			c.Upload.DefaultChunkSize = 128 * bytesize.MiB
		}},
		{"min not step multiple", func(c *Config) {
			c.Upload.ChunkSizeStep = 3
		}},
		{"s3 blob without bucket", func(c *Config) {
			c.Blob.Type = "s3"
		}},
		{"badger queue without path", func(c *Config) {
			c.Queue.Path = ""
		}},
		{"s3 cas without bucket", func(c *Config) {
			c.CAS.Type = "s3"
		}},
		{"bad ladder entry", func(c *Config) {
			c.Pipeline.Ladder[0].Height = 0
		}},
		{"bad log level", func(c *Config) {
			c.Logging.Level = "LOUD"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Upload.MaxFileSize = 5 * bytesize.GiB
	cfg.Pipeline.Concurrency = 4

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*bytesize.GiB, loaded.Upload.MaxFileSize)
	assert.Equal(t, 4, loaded.Pipeline.Concurrency)
}
