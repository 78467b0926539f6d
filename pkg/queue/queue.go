// Package queue provides the at-least-once job queue that drives the
// post-processing pipeline.
//
// A job references an upload session by ID and nothing else; all state lives
// in the session store, so redelivering a job that was already processed is
// harmless. Consumers take jobs under a visibility lease: an acked job is
// gone, a nacked or expired lease puts the job back with its attempt count
// intact.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	// Callers surface it as backpressure instead of waiting.
	ErrQueueFull = errors.New("queue is full")

	// ErrClosed is returned for operations on a closed queue.
	ErrClosed = errors.New("queue is closed")
)

// Job is a unit of pipeline work.
type Job struct {
	// UploadID identifies the session to process.
	UploadID string `json:"upload_id"`

	// Attempt counts deliveries of the current stage, starting at 0.
	Attempt int `json:"attempt"`

	// EarliestRunAt delays delivery for backoff. Zero means immediately.
	EarliestRunAt time.Time `json:"earliest_run_at,omitempty"`

	// EnqueuedAt is set by the queue on first enqueue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Lease is a leased job. The holder must Ack or Nack it before the
// visibility window ends, or the job is redelivered to another worker.
type Lease struct {
	Job Job

	// token identifies the leased record inside the queue.
	token string
}

// Token exposes the lease identity for logging.
func (l *Lease) Token() string { return l.token }

// Queue is the pipeline work queue.
type Queue interface {
	// Enqueue adds a job. Returns ErrQueueFull at capacity.
	Enqueue(ctx context.Context, job Job) error

	// Lease blocks until a job is ready or the context is done, then hides
	// the job for the visibility window and returns it.
	Lease(ctx context.Context, visibility time.Duration) (*Lease, error)

	// Ack removes the leased job permanently.
	Ack(ctx context.Context, lease *Lease) error

	// Nack returns the job to the queue with its attempt count incremented,
	// delayed by the given backoff.
	Nack(ctx context.Context, lease *Lease, backoff time.Duration) error

	// Len reports ready plus leased jobs.
	Len(ctx context.Context) (int, error)

	Close() error
}
