package pin

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore is a filesystem content-addressed store. Content lives at
//
//	root/sha256/ab/cd/<fullhex>
//
// with the first two byte pairs as fan-out directories. Writes go through a
// temp file and rename, so a partially written object is never visible
// under its address.
type FSStore struct {
	root string
}

// NewFSStore creates the store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("cas root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "sha256"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cas root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) contentPath(addr Address) string {
	h := addr.Hex()
	return filepath.Join(s.root, "sha256", h[0:2], h[2:4], h)
}

func (s *FSStore) Put(ctx context.Context, r io.Reader) (Address, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(s.root, "put-*.tmp")
	if err != nil {
		return "", 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}

	var sum [sha256.Size]byte
	h.Sum(sum[:0])
	addr := NewAddress(sum)

	dest := s.contentPath(addr)
	if _, err := os.Stat(dest); err == nil {
		// Identical content already pinned.
		return addr, size, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", 0, err
	}
	return addr, size, nil
}

func (s *FSStore) Get(ctx context.Context, addr Address) (io.ReadCloser, error) {
	f, err := os.Open(s.contentPath(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *FSStore) Has(ctx context.Context, addr Address) (bool, error) {
	_, err := os.Stat(s.contentPath(addr))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FSStore) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

var _ Store = (*FSStore)(nil)
