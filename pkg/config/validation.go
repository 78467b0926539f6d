package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural problems: tag-level
// constraints first, then cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Upload.MinChunkSize > cfg.Upload.MaxChunkSize {
		return fmt.Errorf("upload: min_chunk_size %s exceeds max_chunk_size %s",
			cfg.Upload.MinChunkSize, cfg.Upload.MaxChunkSize)
	}
	if cfg.Upload.DefaultChunkSize < cfg.Upload.MinChunkSize ||
		cfg.Upload.DefaultChunkSize > cfg.Upload.MaxChunkSize {
		return fmt.Errorf("upload: default_chunk_size %s outside [%s, %s]",
			cfg.Upload.DefaultChunkSize, cfg.Upload.MinChunkSize, cfg.Upload.MaxChunkSize)
	}
	if cfg.Upload.ChunkSizeStep == 0 || cfg.Upload.MinChunkSize%cfg.Upload.ChunkSizeStep != 0 {
		return fmt.Errorf("upload: min_chunk_size %s is not a multiple of chunk_size_step %s",
			cfg.Upload.MinChunkSize, cfg.Upload.ChunkSizeStep)
	}

	if cfg.Blob.Type == "s3" && cfg.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob: s3 backend requires a bucket")
	}
	if cfg.Blob.Type == "fs" && cfg.Blob.FS.Path == "" {
		return fmt.Errorf("blob: fs backend requires a path")
	}
	if cfg.Queue.Type == "badger" && cfg.Queue.Path == "" {
		return fmt.Errorf("queue: badger backend requires a path")
	}
	if cfg.CAS.Type == "s3" && cfg.CAS.S3.Bucket == "" {
		return fmt.Errorf("cas: s3 backend requires a bucket")
	}
	if cfg.CAS.Type == "fs" && cfg.CAS.FS.Path == "" {
		return fmt.Errorf("cas: fs backend requires a path")
	}

	for _, p := range cfg.Pipeline.Ladder {
		if p.Name == "" || p.Width <= 0 || p.Height <= 0 || p.Bitrate <= 0 {
			return fmt.Errorf("pipeline: ladder entry %q must have positive dimensions and bitrate", p.Name)
		}
	}

	return cfg.Database.Validate()
}
