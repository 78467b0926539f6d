package config

import (
	"context"
	"fmt"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/blob"
	blobfs "github.com/reelhaven/reelhaven/pkg/blob/fs"
	blobmemory "github.com/reelhaven/reelhaven/pkg/blob/memory"
	blobs3 "github.com/reelhaven/reelhaven/pkg/blob/s3"
	"github.com/reelhaven/reelhaven/pkg/metrics"
	"github.com/reelhaven/reelhaven/pkg/pin"
	"github.com/reelhaven/reelhaven/pkg/queue"
	sessionstore "github.com/reelhaven/reelhaven/pkg/session/store"
)

// CreateSessionStore opens the session database.
func CreateSessionStore(ctx context.Context, cfg *Config) (*sessionstore.GORMStore, error) {
	store, err := sessionstore.New(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	logger.Info("session store ready", logger.StoreType(string(cfg.Database.Type)))
	return store, nil
}

// CreateBlobStore creates the staging blob backend from configuration.
func CreateBlobStore(ctx context.Context, cfg *Config) (blob.Store, error) {
	switch cfg.Blob.Type {
	case "fs", "":
		store, err := blobfs.New(blobfs.Config{
			BasePath: cfg.Blob.FS.Path,
			Fsync:    !cfg.Blob.FS.NoFsync,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open fs blob store: %w", err)
		}
		return store, nil

	case "s3":
		client, err := blobs3.NewClientFromConfig(ctx,
			cfg.Blob.S3.Endpoint,
			cfg.Blob.S3.Region,
			cfg.Blob.S3.AccessKeyID,
			cfg.Blob.S3.SecretAccessKey,
			cfg.Blob.S3.ForcePathStyle,
		)
		if err != nil {
			return nil, err
		}
		store, err := blobs3.New(ctx, blobs3.Config{
			Client:    client,
			Bucket:    cfg.Blob.S3.Bucket,
			KeyPrefix: cfg.Blob.S3.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 blob store: %w", err)
		}
		return store, nil

	case "memory":
		return blobmemory.New(), nil

	default:
		return nil, fmt.Errorf("unknown blob store type: %q", cfg.Blob.Type)
	}
}

// CreateQueue creates the pipeline job queue from configuration.
func CreateQueue(cfg *Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "badger", "":
		q, err := queue.NewBadgerQueue(queue.BadgerQueueConfig{
			Path:    cfg.Queue.Path,
			MaxSize: cfg.Queue.MaxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger queue: %w", err)
		}
		return q, nil

	case "memory":
		return queue.NewMemoryQueue(cfg.Queue.MaxSize), nil

	default:
		return nil, fmt.Errorf("unknown queue type: %q", cfg.Queue.Type)
	}
}

// CreatePinner creates the content-addressed store and its pinner.
func CreatePinner(ctx context.Context, cfg *Config) (*pin.Pinner, pin.Store, error) {
	var store pin.Store

	switch cfg.CAS.Type {
	case "fs", "":
		fsStore, err := pin.NewFSStore(cfg.CAS.FS.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open fs cas: %w", err)
		}
		store = fsStore

	case "s3":
		client, err := blobs3.NewClientFromConfig(ctx,
			cfg.CAS.S3.Endpoint,
			cfg.CAS.S3.Region,
			cfg.CAS.S3.AccessKeyID,
			cfg.CAS.S3.SecretAccessKey,
			cfg.CAS.S3.ForcePathStyle,
		)
		if err != nil {
			return nil, nil, err
		}
		s3Store, err := pin.NewS3Store(ctx, pin.S3StoreConfig{
			Client:    client,
			Bucket:    cfg.CAS.S3.Bucket,
			KeyPrefix: cfg.CAS.S3.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open s3 cas: %w", err)
		}
		store = s3Store

	default:
		return nil, nil, fmt.Errorf("unknown cas type: %q", cfg.CAS.Type)
	}

	pinner := pin.NewPinner(store, pin.PinnerConfig{
		Verify:     !cfg.CAS.SkipVerify,
		MaxRetries: cfg.CAS.MaxRetries,
	})
	return pinner, store, nil
}

// InitializeMetrics sets up the Prometheus registry when enabled. Returns
// whether metrics are active.
func InitializeMetrics(cfg *Config) bool {
	if !cfg.Metrics.Enabled {
		return false
	}
	metrics.InitRegistry()
	logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	return true
}
