package session

import (
	"context"
	"time"
)

// Store persists upload sessions.
//
// The protocol layer mutates sessions while they are open (under its
// per-session lock); the pipeline mutates them afterwards via
// compare-and-set transitions. All implementations must be safe for
// concurrent use.
type Store interface {
	// Create inserts a new session. Returns ErrDuplicateKey when a session
	// already exists for (OwnerID, IdempotencyKey).
	Create(ctx context.Context, s *Session) error

	// Get returns the session by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// GetByIdempotencyKey returns the session for (ownerID, key), or
	// ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*Session, error)

	// ListByOwner returns the owner's sessions, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Session, error)

	// AdvanceReceived moves the received high-water mark from `from` to
	// `to`, but only while the session is open and currently at `from`.
	// Returns ErrConflict if the guard fails. If `to` equals the declared
	// size the session transitions open -> uploaded in the same write.
	AdvanceReceived(ctx context.Context, id string, from, to int64) error

	// CompareAndSetState transitions state from -> to atomically, applying
	// touch to the record in the same write. Returns ErrConflict when the
	// session is not in `from`.
	CompareAndSetState(ctx context.Context, id string, from, to State, touch func(*Session)) error

	// SetFailed marks the session failed with the given error code, from
	// any non-terminal state. Idempotent on already-failed sessions.
	SetFailed(ctx context.Context, id, errorCode string) error

	// AppendWarning attaches a non-fatal warning to the session.
	AppendWarning(ctx context.Context, id, warning string) error

	// SetPinRecord stores the content address once pinning succeeds.
	SetPinRecord(ctx context.Context, id, contentAddress string, size int64, verifiedAt *time.Time) error

	// SetManifestPath records (or rewrites) the adaptive manifest path.
	SetManifestPath(ctx context.Context, id, path string) error

	// AcquireLease claims the pipeline lease for the session until
	// now+ttl. Returns ErrLeaseHeld when a live lease exists for another
	// owner. Re-acquiring one's own lease extends it.
	AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) error

	// ReleaseLease releases the lease if owner matches the current holder;
	// ErrNotLeaseOwner otherwise. The release is token-checked only.
	ReleaseLease(ctx context.Context, id, owner string) error

	// SaveRendition upserts a rendition record for (session, name).
	SaveRendition(ctx context.Context, r *Rendition) error

	// ListRenditions returns renditions for a session, ascending bitrate.
	ListRenditions(ctx context.Context, sessionID string) ([]*Rendition, error)

	// ListExpired returns up to limit sessions in a terminal state whose
	// last update is older than the cutoff. Used by the retention sweeper.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*Session, error)

	// ListByStates returns up to limit sessions in any of the given states
	// whose last update is older than the cutoff, oldest first. Used by the
	// recovery sweep to find uploads stranded between queue and pipeline.
	ListByStates(ctx context.Context, states []State, cutoff time.Time, limit int) ([]*Session, error)

	// Delete removes the session and its rendition records.
	Delete(ctx context.Context, id string) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}
