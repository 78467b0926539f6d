package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown upload IDs, and for uploads owned
	// by someone else so IDs cannot be probed across accounts.
	ErrNotFound = errors.New("upload not found")

	// ErrTooLarge rejects declared sizes over the configured maximum.
	ErrTooLarge = errors.New("file exceeds maximum upload size")

	// ErrUnsupportedMIME rejects declared types outside the accept list.
	ErrUnsupportedMIME = errors.New("unsupported media type")

	// ErrInvalidInput covers malformed create and append parameters.
	ErrInvalidInput = errors.New("invalid request")

	// ErrGone is returned when a session exists but no longer accepts
	// bytes: aborted, failed, or already past ingestion.
	ErrGone = errors.New("upload session is no longer accepting data")

	// ErrStoreUnavailable signals a transient backend failure worth
	// retrying with the same chunk.
	ErrStoreUnavailable = errors.New("storage temporarily unavailable")
)

// ConflictError reports a request that contradicts session state. Offset
// carries the authoritative received-byte count so clients can resynchronize
// without an extra probe.
type ConflictError struct {
	Reason string
	Offset int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s (offset %d)", e.Reason, e.Offset)
}

// IsConflict extracts a ConflictError if err is one.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
