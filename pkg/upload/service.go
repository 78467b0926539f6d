// Package upload implements the resumable upload service: session creation
// with idempotency keys, byte-exact chunk appends against the blob store,
// probing, aborting and status.
//
// The blob store's durable size is the single source of truth for how many
// bytes have been received. The session row mirrors it and is advanced only
// after a chunk is durably written, so a crash between the two leaves the
// session behind the blob, never ahead; probes reconcile the difference.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/reelhaven/reelhaven/internal/bytesize"
	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/blob"
	"github.com/reelhaven/reelhaven/pkg/draft"
	"github.com/reelhaven/reelhaven/pkg/events"
	"github.com/reelhaven/reelhaven/pkg/queue"
	"github.com/reelhaven/reelhaven/pkg/session"
)

// Config tunes the upload service.
type Config struct {
	// MaxFileSize caps the declared size. Default: 20 GiB.
	MaxFileSize int64

	// MinChunkSize, MaxChunkSize and ChunkSizeStep bound the negotiated
	// chunk size. Requested sizes are clamped into range and rounded down
	// to a step multiple. Defaults: 256 KiB, 64 MiB, 256 KiB.
	MinChunkSize  int64
	MaxChunkSize  int64
	ChunkSizeStep int64

	// DefaultChunkSize is used when the client does not request one.
	// Default: 8 MiB.
	DefaultChunkSize int64

	// AcceptedMIMETypes lists the declared types the service ingests.
	AcceptedMIMETypes []string

	// AppendTimeout bounds a single chunk write. Default: 5 minutes.
	AppendTimeout time.Duration

	// StrictChunks rejects non-final chunks that are not exactly the
	// negotiated chunk size.
	StrictChunks bool
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = int64(20 * bytesize.GiB)
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = int64(256 * bytesize.KiB)
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = int64(64 * bytesize.MiB)
	}
	if c.ChunkSizeStep <= 0 {
		c.ChunkSizeStep = int64(256 * bytesize.KiB)
	}
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = int64(8 * bytesize.MiB)
	}
	if len(c.AcceptedMIMETypes) == 0 {
		c.AcceptedMIMETypes = []string{
			"video/mp4",
			"video/quicktime",
			"video/x-matroska",
		}
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = 5 * time.Minute
	}
}

// Service coordinates sessions, blobs, drafts and the pipeline queue.
type Service struct {
	cfg      Config
	sessions session.Store
	blobs    blob.Store
	drafts   draft.Store
	jobs     queue.Queue
	bus      *events.Dispatcher
	locks    *sessionLocks
	metrics  Metrics
}

// NewService wires the upload service. drafts and bus may be nil in tests.
func NewService(cfg Config, sessions session.Store, blobs blob.Store, drafts draft.Store, jobs queue.Queue, bus *events.Dispatcher) *Service {
	cfg.ApplyDefaults()
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		blobs:    blobs,
		drafts:   drafts,
		jobs:     jobs,
		bus:      bus,
		locks:    newSessionLocks(),
	}
}

// SetMetrics attaches a metrics sink. A nil sink disables recording.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// CreateRequest carries the parameters of a session create.
type CreateRequest struct {
	IdempotencyKey string
	Filename       string
	MIME           string
	Size           int64
	ChunkSize      int64 // requested; 0 means service default
	Fingerprint    *session.Fingerprint
}

// Create opens an upload session. Repeating a create with the same
// idempotency key returns the existing session (existing=true) as long as
// the declared size and fingerprint still match; a mismatch means the
// client picked a different file and is rejected instead of silently
// resuming into the wrong blob.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (sess *session.Session, existing bool, err error) {
	if req.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}
	if req.Size <= 0 {
		return nil, false, fmt.Errorf("%w: declared size must be positive", ErrInvalidInput)
	}
	if req.Size > s.cfg.MaxFileSize {
		return nil, false, fmt.Errorf("%w: %d bytes declared, limit is %d", ErrTooLarge, req.Size, s.cfg.MaxFileSize)
	}
	if !slices.Contains(s.cfg.AcceptedMIMETypes, req.MIME) {
		return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedMIME, req.MIME)
	}

	if prior, err := s.sessions.GetByIdempotencyKey(ctx, ownerID, req.IdempotencyKey); err == nil {
		if err := s.checkResumable(prior, req); err != nil {
			return nil, false, err
		}
		return prior, true, nil
	} else if !errors.Is(err, session.ErrNotFound) {
		return nil, false, err
	}

	sess = &session.Session{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		IdempotencyKey: req.IdempotencyKey,
		Filename:       req.Filename,
		DeclaredMIME:   req.MIME,
		DeclaredSize:   req.Size,
		ChunkSize:      s.negotiateChunkSize(req.ChunkSize),
		State:          session.StateOpen,
	}
	if req.Fingerprint != nil {
		sess.Fingerprint = req.Fingerprint.String()
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, session.ErrDuplicateKey) {
			// Lost a race with a concurrent create for the same key.
			prior, gerr := s.sessions.GetByIdempotencyKey(ctx, ownerID, req.IdempotencyKey)
			if gerr != nil {
				return nil, false, err
			}
			if cerr := s.checkResumable(prior, req); cerr != nil {
				return nil, false, cerr
			}
			return prior, true, nil
		}
		return nil, false, err
	}

	if s.drafts != nil {
		if err := s.drafts.Save(ctx, sess.ID, ownerID, draft.Metadata{Title: req.Filename}); err != nil {
			logger.Warn("failed to seed draft", logger.UploadID(sess.ID), logger.Err(err))
		} else {
			sess.DraftID = sess.ID
			_ = s.sessions.CompareAndSetState(ctx, sess.ID, session.StateOpen, session.StateOpen,
				func(u *session.Session) { u.DraftID = sess.ID })
		}
	}

	if s.metrics != nil {
		s.metrics.SessionCreated()
	}
	s.publish(events.New(events.TypeSessionCreated, sess.ID, ownerID))
	logger.Info("upload session created",
		logger.UploadID(sess.ID),
		logger.OwnerID(ownerID),
		"declared_size", sess.DeclaredSize,
		"chunk_size", sess.ChunkSize)

	return sess, false, nil
}

// checkResumable verifies a repeated create still describes the same file.
func (s *Service) checkResumable(prior *session.Session, req CreateRequest) error {
	if prior.DeclaredSize != req.Size {
		if s.metrics != nil {
			s.metrics.Conflict("size")
		}
		return &ConflictError{
			Reason: fmt.Sprintf("declared size changed from %d to %d", prior.DeclaredSize, req.Size),
			Offset: prior.ReceivedBytes,
		}
	}
	if req.Fingerprint != nil && prior.Fingerprint != "" {
		bound, err := prior.ParsedFingerprint()
		if err == nil && !bound.Equal(*req.Fingerprint) {
			if s.metrics != nil {
				s.metrics.Conflict("fingerprint")
			}
			return &ConflictError{
				Reason: "file fingerprint changed, start a new upload",
				Offset: prior.ReceivedBytes,
			}
		}
	}
	return nil
}

// negotiateChunkSize clamps the requested size into the configured range
// and rounds down to a step multiple.
func (s *Service) negotiateChunkSize(requested int64) int64 {
	size := requested
	if size <= 0 {
		size = s.cfg.DefaultChunkSize
	}
	if size < s.cfg.MinChunkSize {
		size = s.cfg.MinChunkSize
	}
	if size > s.cfg.MaxChunkSize {
		size = s.cfg.MaxChunkSize
	}
	return size - size%s.cfg.ChunkSizeStep
}

// Probe returns the authoritative received offset without consuming any
// body. When the blob store is ahead of the session row (crash between
// blob write and row update), the row is caught up here.
func (s *Service) Probe(ctx context.Context, ownerID, id string) (*session.Session, int64, error) {
	sess, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, 0, err
	}
	if sess.State != session.StateOpen {
		return sess, sess.ReceivedBytes, nil
	}

	blobSize, err := s.blobs.Size(ctx, id)
	if errors.Is(err, blob.ErrNotFound) {
		blobSize = 0
	} else if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if blobSize > sess.ReceivedBytes {
		if err := s.sessions.AdvanceReceived(ctx, id, sess.ReceivedBytes, blobSize); err == nil {
			sess.ReceivedBytes = blobSize
			if blobSize == sess.DeclaredSize {
				sess.State = session.StateUploaded
				s.enqueuePipeline(ctx, sess)
			}
		}
	}
	return sess, sess.ReceivedBytes, nil
}

// AppendRequest carries one chunk.
type AppendRequest struct {
	Start       int64
	Length      int64
	Total       int64 // declared total from Content-Range; -1 when unknown
	Body        io.Reader
	Fingerprint *session.Fingerprint // optional, from the fingerprint header
}

// Append writes one chunk. Semantics:
//
//   - start == received: the chunk is written, the new offset returned.
//   - start < received: the chunk was already stored; the body is discarded
//     and the current offset returned so retries converge (replayed=true).
//   - start > received: out-of-order, rejected with a ConflictError
//     carrying the authoritative offset.
//
// When the final byte lands the session flips to uploaded and a pipeline
// job is enqueued.
func (s *Service) Append(ctx context.Context, ownerID, id string, req AppendRequest) (offset int64, completed bool, err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AppendTimeout)
	defer cancel()

	if err := s.locks.acquire(ctx, id); err != nil {
		return 0, false, err
	}
	defer s.locks.releaseHeld(id)

	sess, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return 0, false, err
	}

	switch sess.State {
	case session.StateOpen:
	case session.StateAborted, session.StateFailed:
		return 0, false, ErrGone
	default:
		// Ingestion finished. A stale retry of the final chunk gets the
		// authoritative offset back instead of an error.
		if req.Start < sess.ReceivedBytes {
			return sess.ReceivedBytes, true, nil
		}
		return 0, false, ErrGone
	}

	if err := s.validateChunk(sess, req); err != nil {
		return 0, false, err
	}

	received := sess.ReceivedBytes
	if req.Start < received {
		// Already have these bytes. Do not touch the blob.
		return received, false, nil
	}
	if req.Start > received {
		if s.metrics != nil {
			s.metrics.Conflict("offset")
		}
		return 0, false, &ConflictError{
			Reason: fmt.Sprintf("out-of-order chunk at %d", req.Start),
			Offset: received,
		}
	}

	newOffset, err := s.blobs.Append(ctx, id, req.Start, req.Body, req.Length)
	if err != nil {
		var offErr *blob.OffsetError
		if errors.As(err, &offErr) {
			// The session row was stale; trust the blob.
			if offErr.Expected > req.Start {
				_ = s.sessions.AdvanceReceived(ctx, id, received, offErr.Expected)
				return offErr.Expected, false, nil
			}
			return 0, false, &ConflictError{Reason: "offset mismatch", Offset: offErr.Expected}
		}
		if blob.IsTransient(err) {
			return 0, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return 0, false, err
	}

	if err := s.sessions.AdvanceReceived(ctx, id, received, newOffset); err != nil {
		// The blob write is durable; the row catches up on the next probe.
		logger.Warn("failed to advance received bytes",
			logger.UploadID(id),
			logger.Offset(newOffset),
			logger.Err(err))
	}

	if s.metrics != nil {
		s.metrics.AppendObserved(req.Length, time.Since(start))
	}

	if newOffset == sess.DeclaredSize {
		sess.ReceivedBytes = newOffset
		sess.State = session.StateUploaded
		if s.metrics != nil {
			s.metrics.UploadCompleted(newOffset)
		}
		s.enqueuePipeline(ctx, sess)
		logger.Info("upload complete",
			logger.UploadID(id),
			"bytes", newOffset)
		return newOffset, true, nil
	}
	return newOffset, false, nil
}

// validateChunk checks the chunk's shape against the session.
func (s *Service) validateChunk(sess *session.Session, req AppendRequest) error {
	if req.Length <= 0 {
		return fmt.Errorf("%w: empty chunk", ErrInvalidInput)
	}
	if req.Total >= 0 && req.Total != sess.DeclaredSize {
		return &ConflictError{
			Reason: fmt.Sprintf("total %d does not match declared size %d, the file changed",
				req.Total, sess.DeclaredSize),
			Offset: sess.ReceivedBytes,
		}
	}
	if req.Fingerprint != nil && sess.Fingerprint != "" {
		bound, err := sess.ParsedFingerprint()
		if err == nil && !bound.Equal(*req.Fingerprint) {
			return &ConflictError{
				Reason: "file fingerprint changed mid-upload",
				Offset: sess.ReceivedBytes,
			}
		}
	}
	if req.Start+req.Length > sess.DeclaredSize {
		return fmt.Errorf("%w: chunk [%d, %d) exceeds declared size %d",
			ErrInvalidInput, req.Start, req.Start+req.Length, sess.DeclaredSize)
	}
	if req.Length > sess.ChunkSize {
		return fmt.Errorf("%w: chunk of %d exceeds negotiated chunk size %d",
			ErrInvalidInput, req.Length, sess.ChunkSize)
	}
	if s.cfg.StrictChunks {
		final := req.Start+req.Length == sess.DeclaredSize
		if !final && req.Length != sess.ChunkSize {
			return fmt.Errorf("%w: non-final chunk must be exactly %d bytes",
				ErrInvalidInput, sess.ChunkSize)
		}
	}
	return nil
}

// Abort cancels an upload. Idempotent: aborting an aborted session
// succeeds. The blob and any pipeline artifacts are cleaned up best-effort;
// the retention sweeper picks up leftovers.
func (s *Service) Abort(ctx context.Context, ownerID, id string) error {
	sess, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if sess.State == session.StateAborted {
		return nil
	}
	if !sess.State.Abortable() {
		return &ConflictError{Reason: fmt.Sprintf("cannot abort %s upload", sess.State), Offset: sess.ReceivedBytes}
	}

	if err := s.sessions.CompareAndSetState(ctx, id, sess.State, session.StateAborted, nil); err != nil {
		if errors.Is(err, session.ErrConflict) {
			// Raced with the pipeline or another abort; re-check.
			cur, gerr := s.sessions.Get(ctx, id)
			if gerr == nil && cur.State == session.StateAborted {
				return nil
			}
		}
		return err
	}

	if err := s.blobs.Delete(ctx, id); err != nil {
		logger.Warn("failed to delete blob on abort", logger.UploadID(id), logger.Err(err))
	}
	if s.drafts != nil {
		if err := s.drafts.Delete(ctx, id); err != nil {
			logger.Warn("failed to delete draft on abort", logger.UploadID(id), logger.Err(err))
		}
	}

	if s.metrics != nil {
		s.metrics.UploadAborted()
	}
	s.publish(events.New(events.TypeAborted, id, ownerID))
	logger.Info("upload aborted", logger.UploadID(id), logger.OwnerID(ownerID))
	return nil
}

// Status returns the session and its renditions.
func (s *Service) Status(ctx context.Context, ownerID, id string) (*session.Session, []*session.Rendition, error) {
	sess, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	renditions, err := s.sessions.ListRenditions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, renditions, nil
}

// List returns the owner's sessions, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]*session.Session, error) {
	return s.sessions.ListByOwner(ctx, ownerID, limit)
}

// SaveDraft updates the editable metadata attached to an upload.
func (s *Service) SaveDraft(ctx context.Context, ownerID, id string, m draft.Metadata) error {
	if s.drafts == nil {
		return fmt.Errorf("%w: drafts are not enabled", ErrInvalidInput)
	}
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return err
	}
	return s.drafts.Save(ctx, id, ownerID, m)
}

// GetDraft returns the editable metadata attached to an upload.
func (s *Service) GetDraft(ctx context.Context, ownerID, id string) (*draft.Draft, error) {
	if s.drafts == nil {
		return nil, ErrNotFound
	}
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	d, err := s.drafts.Get(ctx, id)
	if errors.Is(err, draft.ErrNotFound) {
		return nil, ErrNotFound
	}
	return d, err
}

// getOwned loads a session and hides other owners' sessions behind
// ErrNotFound.
func (s *Service) getOwned(ctx context.Context, ownerID, id string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// enqueuePipeline hands a completed upload to the pipeline. Failures are
// logged, not surfaced: the session is already uploaded, and the recovery
// sweep re-enqueues stranded sessions.
func (s *Service) enqueuePipeline(ctx context.Context, sess *session.Session) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, queue.Job{UploadID: sess.ID}); err != nil {
		logger.Warn("failed to enqueue pipeline job",
			logger.UploadID(sess.ID),
			logger.Err(err))
		return
	}
	s.publish(events.New(events.TypeUploaded, sess.ID, sess.OwnerID))
}

func (s *Service) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
