package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
)

// Workdirs hands out scratch directories for pipeline runs. Every upload
// gets its own directory so a crashed run leaves an identifiable orphan
// that the startup sweep can reclaim.
type Workdirs struct {
	root string
}

// NewWorkdirs creates the manager rooted at root, creating it if needed.
func NewWorkdirs(root string) (*Workdirs, error) {
	if root == "" {
		return nil, fmt.Errorf("workdir root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workdir root: %w", err)
	}
	return &Workdirs{root: root}, nil
}

// Acquire returns a clean scratch directory for the upload, removing any
// leftovers from a previous attempt first. Stage outputs land in
// deterministic paths under it, which is what makes retries idempotent.
func (w *Workdirs) Acquire(uploadID string) (string, error) {
	dir := filepath.Join(w.root, filepath.Base(uploadID))
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Release removes the upload's scratch directory.
func (w *Workdirs) Release(uploadID string) error {
	return os.RemoveAll(filepath.Join(w.root, filepath.Base(uploadID)))
}

// SweepOrphans removes scratch directories older than maxAge whose upload
// is not in the live set. Run at startup and periodically.
func (w *Workdirs) SweepOrphans(live map[string]bool, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() || live[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, e.Name())); err != nil {
			logger.Warn("failed to remove orphaned workdir",
				logger.UploadID(e.Name()),
				logger.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}
