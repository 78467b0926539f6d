// Package config loads, validates and materializes the ReelHaven
// configuration: the upload protocol limits, the storage backends (session
// database, staging blob store, job queue, content-addressed store), the
// pipeline tuning and the ambient concerns (logging, telemetry, metrics).
//
// Configuration sources (in order of precedence):
//  1. Environment variables (REELHAVEN_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/reelhaven/reelhaven/internal/bytesize"
	"github.com/reelhaven/reelhaven/pkg/api"
	"github.com/reelhaven/reelhaven/pkg/pipeline"
	sessionstore "github.com/reelhaven/reelhaven/pkg/session/store"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

// Config is the full ReelHaven server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the session database (SQLite or PostgreSQL).
	Database sessionstore.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the upload API server configuration.
	API api.Config `mapstructure:"api" yaml:"api"`

	// Upload contains the resumable protocol limits.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Blob configures the staging store that accumulates upload bytes.
	Blob BlobStoreConfig `mapstructure:"blob" yaml:"blob"`

	// Queue configures the pipeline job queue.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// CAS configures the content-addressed store for finished artifacts.
	CAS CASConfig `mapstructure:"cas" yaml:"cas"`

	// Media configures the ffmpeg/ffprobe tooling and scratch space.
	Media MediaConfig `mapstructure:"media" yaml:"media"`

	// Pipeline tunes the post-processing orchestrator.
	Pipeline pipeline.Config `mapstructure:"pipeline" yaml:"pipeline"`

	// Events configures the lifecycle event dispatcher.
	Events EventsConfig `mapstructure:"events" yaml:"events"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether tracing is active. Default: false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector. Default: true, for
	// local development.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate in [0,1].
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profiles to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics endpoint. When disabled no
// metrics are collected at all.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the scrape endpoint. Default: 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// UploadConfig carries the resumable protocol limits in human-readable
// units. ServiceConfig converts it for the upload service.
type UploadConfig struct {
	// MaxFileSize caps the declared upload size. Default: 20Gi.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// MinChunkSize, MaxChunkSize, ChunkSizeStep bound chunk negotiation.
	MinChunkSize  bytesize.ByteSize `mapstructure:"min_chunk_size" yaml:"min_chunk_size"`
	MaxChunkSize  bytesize.ByteSize `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`
	ChunkSizeStep bytesize.ByteSize `mapstructure:"chunk_size_step" yaml:"chunk_size_step"`

	// DefaultChunkSize is offered when the client does not request one.
	DefaultChunkSize bytesize.ByteSize `mapstructure:"default_chunk_size" yaml:"default_chunk_size"`

	// AcceptedMIMETypes lists the declared types the service ingests.
	AcceptedMIMETypes []string `mapstructure:"accepted_mime_types" yaml:"accepted_mime_types"`

	// AppendTimeout bounds one chunk write.
	AppendTimeout time.Duration `mapstructure:"append_timeout" yaml:"append_timeout"`

	// StrictChunks rejects non-final chunks that are not exactly the
	// negotiated size.
	StrictChunks bool `mapstructure:"strict_chunks" yaml:"strict_chunks"`
}

// ServiceConfig converts to the upload service's configuration.
func (c UploadConfig) ServiceConfig() upload.Config {
	return upload.Config{
		MaxFileSize:       int64(c.MaxFileSize),
		MinChunkSize:      int64(c.MinChunkSize),
		MaxChunkSize:      int64(c.MaxChunkSize),
		ChunkSizeStep:     int64(c.ChunkSizeStep),
		DefaultChunkSize:  int64(c.DefaultChunkSize),
		AcceptedMIMETypes: c.AcceptedMIMETypes,
		AppendTimeout:     c.AppendTimeout,
		StrictChunks:      c.StrictChunks,
	}
}

// BlobStoreConfig selects and configures the staging blob backend.
type BlobStoreConfig struct {
	// Type is "fs", "s3" or "memory". Default: fs.
	Type string `mapstructure:"type" validate:"omitempty,oneof=fs s3 memory" yaml:"type"`

	FS FSBlobConfig `mapstructure:"fs" yaml:"fs"`
	S3 S3Config     `mapstructure:"s3" yaml:"s3"`
}

// FSBlobConfig configures the filesystem blob backend.
type FSBlobConfig struct {
	// Path is the staging directory.
	Path string `mapstructure:"path" yaml:"path"`

	// NoFsync skips fsync after each chunk. Faster, loses the tail of an
	// upload on power failure.
	NoFsync bool `mapstructure:"no_fsync" yaml:"no_fsync"`
}

// S3Config holds flat S3 connection settings, shared by the blob and CAS
// backends.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// QueueConfig selects and configures the pipeline job queue.
type QueueConfig struct {
	// Type is "memory" or "badger". Default: badger, so queued work
	// survives restarts.
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory badger" yaml:"type"`

	// Path is the BadgerDB directory for the badger backend.
	Path string `mapstructure:"path" yaml:"path"`

	// MaxSize bounds ready plus leased jobs. 0 means unbounded.
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
}

// CASConfig selects and configures the content-addressed artifact store.
type CASConfig struct {
	// Type is "fs" or "s3". Default: fs.
	Type string `mapstructure:"type" validate:"omitempty,oneof=fs s3" yaml:"type"`

	FS FSCASConfig `mapstructure:"fs" yaml:"fs"`
	S3 S3Config    `mapstructure:"s3" yaml:"s3"`

	// SkipVerify disables the read-back hash check after pinning.
	SkipVerify bool `mapstructure:"skip_verify" yaml:"skip_verify"`

	// MaxRetries is the pin retry budget for transient failures.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// FSCASConfig configures the filesystem CAS backend.
type FSCASConfig struct {
	// Path is the CAS root directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// MediaConfig configures the transcoding tools and scratch space.
type MediaConfig struct {
	// FFmpegPath and FFprobePath override tool discovery on PATH.
	FFmpegPath  string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`

	// WorkDir is the scratch root for per-upload workdirs.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
}

// EventsConfig configures the lifecycle event dispatcher.
type EventsConfig struct {
	// BufferSize is the dispatch channel capacity. Default: 1024.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  reelhaven init\n\n"+
				"Or specify a custom config file:\n"+
				"  reelhaven <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  reelhaven init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML. Restricted permissions since
// the file may carry credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file locations.
// Environment variables use the REELHAVEN_ prefix with underscores, e.g.
// REELHAVEN_UPLOAD_MAX_FILE_SIZE=20Gi.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("REELHAVEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the decode hooks for ByteSize and Duration so
// config files can say "20Gi" and "5m".
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/reelhaven, falling back to
// ~/.config/reelhaven.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "reelhaven")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "reelhaven")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
