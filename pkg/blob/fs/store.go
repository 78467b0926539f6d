// Package fs provides a filesystem-backed blob store.
//
// Each upload is a single file under the base path, named by its session ID.
// The file size on disk is the authoritative received-byte count, so the
// store survives a process restart without any sidecar state.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/reelhaven/reelhaven/pkg/blob"
	"github.com/reelhaven/reelhaven/pkg/bufpool"
)

// Store is a filesystem-backed implementation of blob.Store.
type Store struct {
	mu       sync.RWMutex
	basePath string
	fileMode os.FileMode
	fsync    bool
	closed   bool
}

// Config holds configuration for the filesystem blob store.
type Config struct {
	// BasePath is the root directory for in-flight upload blobs.
	BasePath string

	// FileMode is the permission mode for created files.
	// Default: 0644
	FileMode os.FileMode

	// Fsync forces an fsync after every append. Slower but guarantees the
	// reported offset is durable across power loss. Default: true.
	Fsync bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath: basePath,
		FileMode: 0644,
		Fsync:    true,
	}
}

// New creates a filesystem blob store rooted at cfg.BasePath, creating the
// directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Store{
		basePath: cfg.BasePath,
		fileMode: cfg.FileMode,
		fsync:    cfg.Fsync,
	}, nil
}

// blobPath returns the on-disk path for an upload ID. IDs are opaque and may
// not contain path separators.
func (s *Store) blobPath(uploadID string) string {
	return filepath.Join(s.basePath, filepath.Base(uploadID)+".part")
}

// Append writes length bytes at offset, which must equal the current file
// size. A failed copy truncates the file back to offset so a retry of the
// same chunk lines up again.
func (s *Store) Append(ctx context.Context, uploadID string, offset int64, r io.Reader, length int64) (int64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, blob.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := s.blobPath(uploadID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, s.fileMode)
	if err != nil {
		return 0, blob.MarkTransient(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, blob.MarkTransient(err)
	}
	if info.Size() != offset {
		return 0, &blob.OffsetError{Expected: info.Size(), Given: offset}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, blob.MarkTransient(err)
	}

	buf := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(buf)

	written, copyErr := io.CopyBuffer(f, io.LimitReader(r, length), buf)
	if copyErr == nil && written < length {
		copyErr = io.ErrUnexpectedEOF
	}
	if copyErr != nil {
		// Roll back the partial write so the blob size stays authoritative.
		if truncErr := f.Truncate(offset); truncErr != nil {
			return 0, blob.MarkTransient(fmt.Errorf("append failed (%v) and truncate failed: %w", copyErr, truncErr))
		}
		return 0, blob.MarkTransient(fmt.Errorf("short append after %d of %d bytes: %w", written, length, copyErr))
	}

	if s.fsync {
		if err := f.Sync(); err != nil {
			if truncErr := f.Truncate(offset); truncErr != nil {
				return 0, blob.MarkTransient(fmt.Errorf("fsync failed (%v) and truncate failed: %w", err, truncErr))
			}
			return 0, blob.MarkTransient(fmt.Errorf("fsync failed: %w", err))
		}
	}

	return offset + written, nil
}

// Size returns the current blob size from the filesystem.
func (s *Store) Size(ctx context.Context, uploadID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, blob.ErrStoreClosed
	}

	info, err := os.Stat(s.blobPath(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, blob.ErrNotFound
		}
		return 0, blob.MarkTransient(err)
	}
	return info.Size(), nil
}

// ReadRange returns a reader over [offset, offset+length) of the blob.
func (s *Store) ReadRange(ctx context.Context, uploadID string, offset, length int64) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blob.ErrStoreClosed
	}

	f, err := os.Open(s.blobPath(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrNotFound
		}
		return nil, blob.MarkTransient(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, blob.MarkTransient(err)
	}
	if offset < 0 || offset > info.Size() {
		f.Close()
		return nil, fmt.Errorf("read offset %d out of range for blob of %d bytes", offset, info.Size())
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, blob.MarkTransient(err)
	}

	if length < 0 {
		return f, nil
	}
	return &limitedFile{f: f, r: io.LimitReader(f, length)}, nil
}

// Delete removes the blob. Missing blobs are ignored.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
	}

	err := os.Remove(s.blobPath(uploadID))
	if err != nil && !os.IsNotExist(err) {
		return blob.MarkTransient(err)
	}
	return nil
}

// List returns the upload IDs that currently have blobs on disk. The startup
// sweeper uses it to find orphans left behind by a crash.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blob.ErrStoreClosed
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, blob.MarkTransient(err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".part" {
			ids = append(ids, name[:len(name)-len(ext)])
		}
	}
	return ids, nil
}

// HealthCheck verifies the base path is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	_, err := os.Stat(s.basePath)
	return err
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// limitedFile closes the underlying file when the range reader is closed.
type limitedFile struct {
	f *os.File
	r io.Reader
}

func (l *limitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFile) Close() error               { return l.f.Close() }

var _ blob.Store = (*Store)(nil)
