// Package memory provides an in-memory blob store for tests and local
// development. Contents are lost on restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/reelhaven/reelhaven/pkg/blob"
)

// Store is an in-memory implementation of blob.Store.
type Store struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

// New creates an empty in-memory blob store.
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Append(ctx context.Context, uploadID string, offset int64, r io.Reader, length int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(io.LimitReader(r, length))
	if err != nil {
		return 0, blob.MarkTransient(err)
	}
	if int64(len(data)) < length {
		return 0, blob.MarkTransient(io.ErrUnexpectedEOF)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, blob.ErrStoreClosed
	}

	current := s.blobs[uploadID]
	if int64(len(current)) != offset {
		return 0, &blob.OffsetError{Expected: int64(len(current)), Given: offset}
	}

	s.blobs[uploadID] = append(current, data...)
	return int64(len(s.blobs[uploadID])), nil
}

func (s *Store) Size(ctx context.Context, uploadID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, blob.ErrStoreClosed
	}
	data, ok := s.blobs[uploadID]
	if !ok {
		return 0, blob.ErrNotFound
	}
	return int64(len(data)), nil
}

func (s *Store) ReadRange(ctx context.Context, uploadID string, offset, length int64) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blob.ErrStoreClosed
	}
	data, ok := s.blobs[uploadID]
	if !ok {
		return nil, blob.ErrNotFound
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("read offset %d out of range for blob of %d bytes", offset, len(data))
	}

	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	// Copy so the reader stays valid if the blob is appended to or deleted.
	section := make([]byte, end-offset)
	copy(section, data[offset:end])
	return io.NopCloser(bytes.NewReader(section)), nil
}

func (s *Store) Delete(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	delete(s.blobs, uploadID)
	return nil
}

// List returns the upload IDs currently held in memory.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blob.ErrStoreClosed
	}
	ids := make([]string, 0, len(s.blobs))
	for id := range s.blobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.blobs = nil
	return nil
}

var _ blob.Store = (*Store)(nil)
