package session

import "errors"

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates no session exists with the given ID.
	ErrNotFound = errors.New("session not found")

	// ErrDuplicateKey indicates a session already exists for the
	// (owner, idempotency key) pair.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrConflict indicates a compare-and-set lost the race: the session is
	// no longer in the expected state (or the received high-water mark moved).
	ErrConflict = errors.New("session state conflict")

	// ErrLeaseHeld indicates another worker currently holds the pipeline
	// lease for the session.
	ErrLeaseHeld = errors.New("session lease held")

	// ErrNotLeaseOwner indicates a lease release or renewal with the wrong
	// token. Releases are token-checked only; there is no fallback path.
	ErrNotLeaseOwner = errors.New("not lease owner")
)

// Pipeline failure codes recorded on failed sessions.
const (
	ErrCodeProbeFailed      = "probe_failed"
	ErrCodeUnsupportedCodec = "unsupported_codec"
	ErrCodeTranscodeFailed  = "transcode_failed"
	ErrCodeThumbnailFailed  = "thumbnail_failed"
	ErrCodePinFailed        = "pin_failed"
	ErrCodeIOFailed         = "io_failed"
)
