package blob

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrNotFound is returned when a blob does not exist. Size and ReadRange
	// return it; Append creates the blob on first write instead.
	ErrNotFound = errors.New("blob not found")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("blob store is closed")

	// ErrOffsetMismatch is the sentinel matched by OffsetError via errors.Is.
	ErrOffsetMismatch = errors.New("offset mismatch")
)

// OffsetError reports an append that did not line up with the end of the
// blob. Expected carries the authoritative size so the caller can tell the
// client where to resume from.
type OffsetError struct {
	Expected int64
	Given    int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset mismatch: blob is at %d, append requested at %d", e.Expected, e.Given)
}

func (e *OffsetError) Is(target error) bool {
	return target == ErrOffsetMismatch
}

// transientError marks a failure that is worth retrying with the same
// request: network hiccups, throttling, backend 5xx. Offset mismatches and
// missing blobs are never transient.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so that IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error looks retryable. Explicitly marked
// errors always are; otherwise the usual network failure patterns are
// recognized.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOffsetMismatch) || errors.Is(err, ErrStoreClosed) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "temporary failure")
}
