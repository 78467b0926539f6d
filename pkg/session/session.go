// Package session defines the upload session model: the authoritative record
// of one in-flight or completed upload, its lifecycle state machine, and the
// store interface that persists it.
package session

import (
	"fmt"
	"time"
)

// State is the lifecycle state of an upload session.
//
// Transitions are forward-only:
//
//	open -> uploaded -> processing -> playable -> hd_ready
//
// with two branches: any non-terminal state can move to aborted, and
// processing/playable can move to failed. failed and aborted are terminal;
// hd_ready is the normal terminal.
type State string

const (
	StateOpen       State = "open"
	StateUploaded   State = "uploaded"
	StateProcessing State = "processing"
	StatePlayable   State = "playable"
	StateHDReady    State = "hd_ready"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transitions are allowed out of s,
// other than retention purge.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateAborted || s == StateHDReady
}

// Abortable reports whether an abort request is allowed from s.
// Aborting an already-aborted session is idempotent and handled separately.
func (s State) Abortable() bool {
	return s != StateFailed && s != StateAborted
}

// rank orders the forward chain. Branch states are handled explicitly in
// CanTransitionTo.
func (s State) rank() int {
	switch s {
	case StateOpen:
		return 0
	case StateUploaded:
		return 1
	case StateProcessing:
		return 2
	case StatePlayable:
		return 3
	case StateHDReady:
		return 4
	default:
		return -1
	}
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s State) CanTransitionTo(next State) bool {
	switch next {
	case StateAborted:
		return s.Abortable()
	case StateFailed:
		return s != StateFailed && s != StateAborted
	default:
		sr, nr := s.rank(), next.rank()
		return sr >= 0 && nr >= 0 && nr == sr+1
	}
}

// Fingerprint is the (filename, size, lastModified) tuple bound at session
// creation. It detects a client resuming with a different file.
type Fingerprint struct {
	Filename     string
	Size         int64
	LastModified int64 // unix milliseconds as reported by the client
}

// String renders the canonical encoding stored on the session record.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s:%d:%d", f.Filename, f.Size, f.LastModified)
}

// Equal reports whether two fingerprints are byte-identical.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f == other
}

// Session is the durable record of one upload. GORM model.
//
// Invariants maintained by the store and the protocol layer:
//   - ReceivedBytes <= DeclaredSize at all times
//   - ReceivedBytes is frozen once State leaves open
//   - ErrorCode is set iff State == failed
type Session struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        string `gorm:"index;index:idx_owner_idem,unique,priority:1;size:255;not null" json:"owner_id"`
	IdempotencyKey string `gorm:"index:idx_owner_idem,unique,priority:2;size:255;not null" json:"-"`

	Filename     string `gorm:"size:1024" json:"filename"`
	DeclaredMIME string `gorm:"size:255" json:"declared_mime"`
	DeclaredSize int64  `gorm:"not null" json:"declared_size"`
	ChunkSize    int64  `gorm:"not null" json:"chunk_size"`

	ReceivedBytes int64  `gorm:"not null;default:0" json:"received_bytes"`
	Fingerprint   string `gorm:"size:1300" json:"-"`

	State     State  `gorm:"size:32;not null;index" json:"state"`
	ErrorCode string `gorm:"size:64" json:"error_code,omitempty"`
	Warning   string `gorm:"size:1024" json:"warning,omitempty"`

	DraftID string `gorm:"size:36" json:"draft_id,omitempty"`

	// Pin record, set once pinning succeeds.
	ContentAddress string     `gorm:"size:128" json:"content_address,omitempty"`
	PinSize        int64      `json:"pin_size,omitempty"`
	PinVerifiedAt  *time.Time `json:"pin_verified_at,omitempty"`

	// ManifestPath is the adaptive manifest path, set when the first
	// rendition completes and rewritten as later renditions land.
	ManifestPath string `gorm:"size:1024" json:"manifest_path,omitempty"`

	// Pipeline lease. A worker holds the lease for the duration of one
	// attempt; expiry makes the session claimable again.
	LeaseOwner     string     `gorm:"size:64" json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	FirstPlayableAt *time.Time `json:"first_playable_at,omitempty"`
	HDReadyAt       *time.Time `json:"hd_ready_at,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "upload_sessions"
}

// ParsedFingerprint decodes the stored fingerprint tuple.
func (s *Session) ParsedFingerprint() (Fingerprint, error) {
	var f Fingerprint
	// Filename may contain ':'; size and mtime are the last two fields.
	last := -1
	mid := -1
	for i := len(s.Fingerprint) - 1; i >= 0; i-- {
		if s.Fingerprint[i] == ':' {
			if last == -1 {
				last = i
			} else {
				mid = i
				break
			}
		}
	}
	if last == -1 || mid == -1 {
		return f, fmt.Errorf("malformed fingerprint %q", s.Fingerprint)
	}
	f.Filename = s.Fingerprint[:mid]
	if _, err := fmt.Sscanf(s.Fingerprint[mid+1:last], "%d", &f.Size); err != nil {
		return f, fmt.Errorf("malformed fingerprint size: %w", err)
	}
	if _, err := fmt.Sscanf(s.Fingerprint[last+1:], "%d", &f.LastModified); err != nil {
		return f, fmt.Errorf("malformed fingerprint mtime: %w", err)
	}
	return f, nil
}

// Complete reports whether every declared byte has been received.
func (s *Session) Complete() bool {
	return s.ReceivedBytes == s.DeclaredSize
}

// Progress returns upload progress in [0,1].
func (s *Session) Progress() float64 {
	if s.DeclaredSize == 0 {
		return 1
	}
	return float64(s.ReceivedBytes) / float64(s.DeclaredSize)
}

// Rendition is one transcoder output recorded against a session.
type Rendition struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string `gorm:"index;size:36;not null" json:"-"`

	Name    string `gorm:"size:32;not null" json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int64  `json:"bitrate"`
	FPS     int    `json:"fps"`

	ManifestPath string `gorm:"size:1024" json:"manifest_path"`
	SegmentCount int    `json:"segment_count"`

	// Status is "done" or "failed". Failed renditions stay recorded so the
	// status endpoint can explain a partial ladder.
	Status string `gorm:"size:16;not null" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

// TableName returns the table name for Rendition.
func (Rendition) TableName() string {
	return "upload_renditions"
}

// RenditionDone and RenditionFailed are the recorded rendition statuses.
const (
	RenditionDone   = "done"
	RenditionFailed = "failed"
)

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Session{},
		&Rendition{},
	}
}
