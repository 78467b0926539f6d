// Package s3 provides an S3-backed blob store.
//
// S3 objects are immutable, so an upload blob cannot be appended in place.
// Instead every accepted chunk becomes its own part object keyed by the byte
// offset it starts at:
//
//	{prefix}uploads/{id}/parts/00000000000000000000
//	{prefix}uploads/{id}/parts/00000000008388608
//	...
//
// Offsets are zero-padded so lexicographic key order equals byte order. The
// blob size is the end of the last part, which doubles as the offset check
// for the next append. Reads stitch the parts back together as a single
// sequential stream.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/reelhaven/reelhaven/pkg/blob"
)

// Store is an S3-backed implementation of blob.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	retry     retryConfig
}

// retryConfig holds retry settings for S3 operations.
type retryConfig struct {
	maxRetries     uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Config contains configuration for the S3 blob store.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string

	// MaxRetries is the number of retry attempts for transient errors
	// (default: 3).
	MaxRetries uint

	// InitialBackoff is the backoff before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff (default: 2s).
	MaxBackoff time.Duration
}

// NewClientFromConfig creates an S3 client from flat configuration values.
// Used when wiring the store from YAML configuration.
func NewClientFromConfig(
	ctx context.Context,
	endpoint,
	region,
	accessKeyID,
	secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})
	return client, nil
}

// New creates an S3 blob store and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 2 * time.Second
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		retry: retryConfig{
			maxRetries:     cfg.MaxRetries,
			initialBackoff: cfg.InitialBackoff,
			maxBackoff:     cfg.MaxBackoff,
		},
	}, nil
}

func (s *Store) partsPrefix(uploadID string) string {
	return fmt.Sprintf("%suploads/%s/parts/", s.keyPrefix, uploadID)
}

func (s *Store) partKey(uploadID string, offset int64) string {
	return fmt.Sprintf("%s%020d", s.partsPrefix(uploadID), offset)
}

// partOffset parses the start offset back out of a part key.
func partOffset(key string) (int64, error) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return 0, fmt.Errorf("malformed part key %q", key)
	}
	return strconv.ParseInt(key[idx+1:], 10, 64)
}

type partInfo struct {
	key   string
	start int64
	size  int64
}

// listParts returns the part objects for an upload in byte order.
func (s *Store) listParts(ctx context.Context, uploadID string) ([]partInfo, error) {
	var parts []partInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.partsPrefix(uploadID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, blob.MarkTransient(fmt.Errorf("failed to list parts: %w", err))
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			start, err := partOffset(*obj.Key)
			if err != nil {
				return nil, err
			}
			parts = append(parts, partInfo{key: *obj.Key, start: start, size: *obj.Size})
		}
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].start < parts[j].start })
	return parts, nil
}

// Append stages the chunk as a new part object. The offset check runs
// against the listed parts, so a stale retry of an already stored chunk is
// rejected with the authoritative size.
func (s *Store) Append(ctx context.Context, uploadID string, offset int64, r io.Reader, length int64) (int64, error) {
	size, err := s.sizeFromParts(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	if size != offset {
		return 0, &blob.OffsetError{Expected: size, Given: offset}
	}

	// PutObject needs a rewindable body for retries, so the chunk is
	// buffered. Chunk sizes are bounded by the session's negotiated chunk
	// size, not the whole file.
	data, err := io.ReadAll(io.LimitReader(r, length))
	if err != nil {
		return 0, blob.MarkTransient(fmt.Errorf("failed to read chunk: %w", err))
	}
	if int64(len(data)) < length {
		return 0, blob.MarkTransient(io.ErrUnexpectedEOF)
	}

	key := s.partKey(uploadID, offset)
	err = s.withRetry(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(length),
		})
		return err
	})
	if err != nil {
		return 0, blob.MarkTransient(fmt.Errorf("failed to store part at %d: %w", offset, err))
	}

	return offset + length, nil
}

// Size returns the end offset of the last part.
func (s *Store) Size(ctx context.Context, uploadID string) (int64, error) {
	parts, err := s.listParts(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, blob.ErrNotFound
	}
	last := parts[len(parts)-1]
	return last.start + last.size, nil
}

// sizeFromParts is Size but treats a missing blob as size 0, for the first
// append of a session.
func (s *Store) sizeFromParts(ctx context.Context, uploadID string) (int64, error) {
	size, err := s.Size(ctx, uploadID)
	if errors.Is(err, blob.ErrNotFound) {
		return 0, nil
	}
	return size, err
}

// ReadRange streams [offset, offset+length) across the part objects.
func (s *Store) ReadRange(ctx context.Context, uploadID string, offset, length int64) (io.ReadCloser, error) {
	parts, err := s.listParts(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, blob.ErrNotFound
	}

	last := parts[len(parts)-1]
	size := last.start + last.size
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("read offset %d out of range for blob of %d bytes", offset, size)
	}

	end := size
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	return &partsReader{
		ctx:    ctx,
		store:  s,
		parts:  parts,
		offset: offset,
		end:    end,
	}, nil
}

// Delete removes all part objects for the upload in batches.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	parts, err := s.listParts(ctx, uploadID)
	if err != nil {
		return err
	}

	const batchSize = 1000
	for start := 0; start < len(parts); start += batchSize {
		batch := parts[start:min(start+batchSize, len(parts))]

		objects := make([]types.ObjectIdentifier, 0, len(batch))
		for _, p := range batch {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(p.key)})
		}

		err := s.withRetry(ctx, func() error {
			_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{
					Objects: objects,
					Quiet:   aws.Bool(true),
				},
			})
			return err
		})
		if err != nil {
			return blob.MarkTransient(fmt.Errorf("failed to delete parts: %w", err))
		}
	}
	return nil
}

// HealthCheck verifies bucket access.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

func (s *Store) Close() error {
	return nil
}

// withRetry runs op with exponential backoff on transient errors.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	backoff := s.retry.initialBackoff
	var lastErr error

	for attempt := uint(0); attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.retry.maxBackoff {
				backoff = s.retry.maxBackoff
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// isRetryableError classifies S3 failures worth retrying in place.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			return true
		case "InternalError", "ServiceUnavailable":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}

	return blob.IsTransient(err)
}

var _ blob.Store = (*Store)(nil)
