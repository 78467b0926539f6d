// Package blob defines the temporary byte store that resumable uploads
// append into while a session is open.
//
// A blob is addressed by its upload session ID. Writers append strictly at
// the current end of the blob; the store is the single source of truth for
// how many bytes have been durably written. Once a session completes, the
// pipeline reads the blob back out and the blob is deleted after the
// artifacts are pinned.
package blob

import (
	"context"
	"io"
)

// Store is the backing byte store for in-flight uploads.
//
// All implementations must be safe for concurrent use. Appends to the same
// upload ID are serialized by the caller; the store still guards against
// out-of-order writes via the offset check so that a stale retry can never
// corrupt a blob.
type Store interface {
	// Append writes length bytes from r at the given offset. The offset must
	// equal the current size of the blob; otherwise an *OffsetError is
	// returned and nothing is written. On success the new size is returned.
	//
	// Append is all-or-nothing: a failed write leaves the blob at its
	// previous size.
	Append(ctx context.Context, uploadID string, offset int64, r io.Reader, length int64) (int64, error)

	// Size returns the number of durably written bytes. A blob that has
	// never been appended to has size 0.
	Size(ctx context.Context, uploadID string) (int64, error)

	// ReadRange returns a reader over [offset, offset+length). A negative
	// length means read to the end of the blob. The caller must close the
	// returned reader.
	ReadRange(ctx context.Context, uploadID string, offset, length int64) (io.ReadCloser, error)

	// Delete removes all bytes for the upload. Deleting a blob that does not
	// exist is not an error.
	Delete(ctx context.Context, uploadID string) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
