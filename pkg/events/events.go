// Package events publishes upload lifecycle notifications to downstream
// consumers (feed indexing, notifications, analytics).
//
// Delivery is best effort and asynchronous: publishing never blocks the
// upload or pipeline path. When the buffer is full events are dropped and
// counted rather than applying backpressure to the hot path.
package events

import (
	"context"
	"time"
)

// Type enumerates the lifecycle notifications.
type Type string

const (
	TypeSessionCreated Type = "session.created"
	TypeUploaded       Type = "session.uploaded"
	TypePlayable       Type = "session.playable"
	TypeHDReady        Type = "session.hd_ready"
	TypeFailed         Type = "session.failed"
	TypeAborted        Type = "session.aborted"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      Type      `json:"type"`
	UploadID  string    `json:"upload_id"`
	OwnerID   string    `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`

	// ErrorCode is set for session.failed events.
	ErrorCode string `json:"error_code,omitempty"`
}

// New builds an event stamped with the current time.
func New(t Type, uploadID, ownerID string) Event {
	return Event{
		Type:      t,
		UploadID:  uploadID,
		OwnerID:   ownerID,
		Timestamp: time.Now().UTC(),
	}
}

// Sink consumes events. Implementations must tolerate duplicate delivery:
// pipeline retries can re-emit an event for the same transition.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}
