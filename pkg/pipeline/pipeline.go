// Package pipeline turns uploaded bytes into playable video. Workers lease
// jobs from the queue, claim the session lease, and drive each upload
// through probe, transcode, manifest, thumbnail, and pin stages, advancing
// the session state machine as milestones land.
//
// Every stage is idempotent: the workdir is wiped on acquire, renditions
// overwrite their previous output, and the deterministic archive pins to the
// same address on every attempt. A redelivered job therefore repeats work
// but never corrupts state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/blob"
	"github.com/reelhaven/reelhaven/pkg/events"
	"github.com/reelhaven/reelhaven/pkg/media"
	"github.com/reelhaven/reelhaven/pkg/pin"
	"github.com/reelhaven/reelhaven/pkg/queue"
	"github.com/reelhaven/reelhaven/pkg/session"
)

// Config controls the orchestrator.
type Config struct {
	// Concurrency is the number of pipeline workers (default: 2).
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// Visibility is the queue visibility window per attempt. It must cover
	// the longest expected stage run (default: 30m).
	Visibility time.Duration `mapstructure:"visibility" yaml:"visibility"`

	// LeaseTTL is the session lease duration, renewed implicitly by
	// re-acquiring (default: 30m).
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`

	// MaxAttempts is the number of deliveries before a job is declared
	// failed (default: 3).
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// RetryBackoff is the base redelivery delay, doubled per attempt
	// (default: 5s).
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// RetryBackoffMax caps the redelivery delay (default: 10m).
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max" yaml:"retry_backoff_max"`

	// Ladder is the rendition ladder; sources smaller than a rung skip it.
	Ladder []media.Profile `mapstructure:"ladder" yaml:"ladder"`

	// StrictRenditions fails the whole session when any rendition fails,
	// instead of recording a warning and continuing (default: false).
	StrictRenditions bool `mapstructure:"strict_renditions" yaml:"strict_renditions"`

	// ThumbnailCount is the number of thumbnails extracted per upload
	// (default: 5).
	ThumbnailCount int `mapstructure:"thumbnail_count" yaml:"thumbnail_count"`

	// Retention is how long terminal sessions are kept before the sweeper
	// purges them (default: 720h).
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	// SweepInterval is how often the retention and recovery sweeps run
	// (default: 10m).
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// StrandedAfter is how long an uploaded or processing session may sit
	// untouched before the recovery sweep re-enqueues it (default: 30m).
	StrandedAfter time.Duration `mapstructure:"stranded_after" yaml:"stranded_after"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Visibility <= 0 {
		c.Visibility = 30 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 10 * time.Minute
	}
	if len(c.Ladder) == 0 {
		c.Ladder = media.DefaultLadder()
	}
	if c.ThumbnailCount <= 0 {
		c.ThumbnailCount = 5
	}
	if c.Retention <= 0 {
		c.Retention = 720 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.StrandedAfter <= 0 {
		c.StrandedAfter = 30 * time.Minute
	}
}

// Prober extracts stream information from a source file. Satisfied by
// media.Prober.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.SourceInfo, error)
}

// Transcoder produces renditions and thumbnails. Satisfied by
// media.Transcoder.
type Transcoder interface {
	TranscodeHLS(ctx context.Context, srcPath, outDir string, profile media.Profile, src *media.SourceInfo) (*media.RenditionResult, error)
	ExtractThumbnails(ctx context.Context, srcPath, outDir string, count int, duration time.Duration) ([]string, error)
}

// Orchestrator runs the pipeline workers and sweeps.
type Orchestrator struct {
	cfg Config

	sessions   session.Store
	blobs      blob.Store
	jobs       queue.Queue
	prober     Prober
	transcoder Transcoder
	workdirs   *media.Workdirs
	pinner     *pin.Pinner
	bus        *events.Dispatcher
	metrics    Metrics

	workerID string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewOrchestrator wires an orchestrator. bus may be nil.
func NewOrchestrator(
	cfg Config,
	sessions session.Store,
	blobs blob.Store,
	jobs queue.Queue,
	prober Prober,
	transcoder Transcoder,
	workdirs *media.Workdirs,
	pinner *pin.Pinner,
	bus *events.Dispatcher,
) *Orchestrator {
	cfg.ApplyDefaults()
	host, _ := os.Hostname()
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		blobs:      blobs,
		jobs:       jobs,
		prober:     prober,
		transcoder: transcoder,
		workdirs:   workdirs,
		pinner:     pinner,
		bus:        bus,
		workerID:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		stopCh:     make(chan struct{}),
	}
}

// SetMetrics attaches a metrics sink. A nil sink disables recording.
func (o *Orchestrator) SetMetrics(m Metrics) {
	o.metrics = m
}

// Start launches the workers and sweeps. It returns immediately.
func (o *Orchestrator) Start() {
	for i := 0; i < o.cfg.Concurrency; i++ {
		o.wg.Add(1)
		go o.workerLoop(i)
	}
	o.wg.Add(1)
	go o.sweepLoop()

	logger.Info("pipeline started",
		"workers", o.cfg.Concurrency,
		"worker_id", o.workerID)
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
	logger.Info("pipeline stopped", "worker_id", o.workerID)
}

func (o *Orchestrator) workerLoop(n int) {
	defer o.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-o.stopCh
		cancel()
	}()

	for {
		lease, err := o.jobs.Lease(ctx, o.cfg.Visibility)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Warn("queue lease failed", "worker", n, logger.Err(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		o.handle(ctx, lease)
	}
}

// handle runs one leased job to an ack or nack.
func (o *Orchestrator) handle(ctx context.Context, lease *queue.Lease) {
	job := lease.Job
	start := time.Now()

	sess, err := o.sessions.Get(ctx, job.UploadID)
	if errors.Is(err, session.ErrNotFound) {
		// Purged by retention or aborted and cleaned up.
		o.ack(ctx, lease)
		return
	}
	if err != nil {
		o.nack(ctx, lease)
		return
	}
	if sess.State.Terminal() {
		o.ack(ctx, lease)
		return
	}

	if err := o.sessions.AcquireLease(ctx, sess.ID, o.workerID, o.cfg.LeaseTTL); err != nil {
		if errors.Is(err, session.ErrLeaseHeld) {
			// Another worker owns it; try again after its lease window.
			o.nack(ctx, lease)
			return
		}
		logger.Warn("session lease failed", logger.UploadID(sess.ID), logger.Err(err))
		o.nack(ctx, lease)
		return
	}
	defer func() {
		if err := o.sessions.ReleaseLease(context.Background(), sess.ID, o.workerID); err != nil &&
			!errors.Is(err, session.ErrNotLeaseOwner) {
			logger.Warn("session lease release failed", logger.UploadID(sess.ID), logger.Err(err))
		}
	}()

	err = o.process(ctx, sess)
	switch {
	case err == nil:
		logger.Info("pipeline completed",
			logger.UploadID(sess.ID),
			logger.DurationMs(float64(time.Since(start).Milliseconds())))
		if o.metrics != nil {
			o.metrics.JobCompleted(time.Since(start))
		}
		o.ack(ctx, lease)

	case errors.Is(err, errSessionGone):
		o.ack(ctx, lease)

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-job: leave the job leased, the visibility sweep
		// redelivers it.

	default:
		if code, ok := asPermanent(err); ok {
			o.fail(ctx, sess, code, err)
			o.ack(ctx, lease)
			return
		}
		code, hasCode := failureCode(err)
		if job.Attempt+1 >= o.cfg.MaxAttempts {
			if !hasCode {
				code = CodeMaxRetries
			}
			o.fail(ctx, sess, code, err)
			o.ack(ctx, lease)
			return
		}
		logger.Warn("pipeline stage failed, retrying",
			logger.UploadID(sess.ID),
			logger.Attempt(job.Attempt),
			logger.Err(err))
		if hasCode && code == CodePinFailed {
			// The session stays at its current state; the warning tells the
			// creator why hd_ready is late.
			if werr := o.sessions.AppendWarning(ctx, sess.ID, "pinning failed, retrying"); werr != nil {
				logger.Warn("append warning failed", logger.UploadID(sess.ID), logger.Err(werr))
			}
		}
		if o.metrics != nil {
			o.metrics.JobRetried()
		}
		if nerr := o.jobs.Nack(ctx, lease, o.backoffFor(job.Attempt)); nerr != nil {
			logger.Warn("nack failed", logger.UploadID(sess.ID), logger.Err(nerr))
		}
	}
}

func (o *Orchestrator) ack(ctx context.Context, lease *queue.Lease) {
	if err := o.jobs.Ack(ctx, lease); err != nil && !errors.Is(err, queue.ErrClosed) {
		logger.Warn("ack failed", logger.UploadID(lease.Job.UploadID), logger.Err(err))
	}
}

func (o *Orchestrator) nack(ctx context.Context, lease *queue.Lease) {
	if err := o.jobs.Nack(ctx, lease, o.backoffFor(lease.Job.Attempt)); err != nil &&
		!errors.Is(err, queue.ErrClosed) {
		logger.Warn("nack failed", logger.UploadID(lease.Job.UploadID), logger.Err(err))
	}
}

// fail moves the session to failed and emits the event. Safe to call on a
// session that was concurrently aborted; SetFailed refuses terminal states.
func (o *Orchestrator) fail(ctx context.Context, sess *session.Session, code string, cause error) {
	logger.Error("pipeline failed",
		logger.UploadID(sess.ID),
		"code", code,
		logger.Err(cause))
	if o.metrics != nil {
		o.metrics.JobFailed(code)
	}
	if err := o.sessions.SetFailed(ctx, sess.ID, code); err != nil {
		if errors.Is(err, session.ErrConflict) {
			return
		}
		logger.Error("failed to mark session failed", logger.UploadID(sess.ID), logger.Err(err))
		return
	}
	if o.bus != nil {
		ev := events.New(events.TypeFailed, sess.ID, sess.OwnerID)
		ev.ErrorCode = code
		o.bus.Publish(ev)
	}
}

func (o *Orchestrator) backoffFor(attempt int) time.Duration {
	backoff := o.cfg.RetryBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= o.cfg.RetryBackoffMax {
			return o.cfg.RetryBackoffMax
		}
	}
	return backoff
}

func (o *Orchestrator) publish(t events.Type, sess *session.Session) {
	if o.bus != nil {
		o.bus.Publish(events.New(t, sess.ID, sess.OwnerID))
	}
}
