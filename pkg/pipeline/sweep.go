package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/queue"
	"github.com/reelhaven/reelhaven/pkg/session"
)

// sweepBatch bounds how many sessions one sweep pass touches.
const sweepBatch = 100

func (o *Orchestrator) sweepLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SweepInterval)
		o.sweepRetention(ctx)
		o.sweepStranded(ctx)
		o.sweepWorkdirs(ctx)
		cancel()
	}
}

// sweepRetention purges terminal sessions past the retention window,
// together with any partial blob they left behind. Pinned artifacts stay in
// the content store; only the session record and staging data are removed.
func (o *Orchestrator) sweepRetention(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.Retention)
	expired, err := o.sessions.ListExpired(ctx, cutoff, sweepBatch)
	if err != nil {
		logger.Warn("retention sweep query failed", logger.Err(err))
		return
	}

	for _, sess := range expired {
		if err := o.blobs.Delete(ctx, sess.ID); err != nil {
			logger.Warn("retention blob delete failed", logger.UploadID(sess.ID), logger.Err(err))
		}
		if err := o.sessions.Delete(ctx, sess.ID); err != nil {
			logger.Warn("retention session delete failed", logger.UploadID(sess.ID), logger.Err(err))
			continue
		}
		logger.Info("expired session purged",
			logger.UploadID(sess.ID),
			logger.State(string(sess.State)))
	}
}

// sweepStranded re-enqueues uploads that finished ingestion but never made
// it through the pipeline: a lost enqueue, a crashed worker whose queue
// entry was acked, or a queue wiped by a restart (memory backend).
func (o *Orchestrator) sweepStranded(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.StrandedAfter)
	stranded, err := o.sessions.ListByStates(ctx,
		[]session.State{session.StateUploaded, session.StateProcessing, session.StatePlayable},
		cutoff, sweepBatch)
	if err != nil {
		logger.Warn("recovery sweep query failed", logger.Err(err))
		return
	}

	for _, sess := range stranded {
		// A live lease means a worker is on it right now.
		if sess.LeaseExpiresAt != nil && sess.LeaseExpiresAt.After(time.Now()) {
			continue
		}
		err := o.jobs.Enqueue(ctx, queue.Job{UploadID: sess.ID})
		if errors.Is(err, queue.ErrQueueFull) {
			return
		}
		if err != nil {
			logger.Warn("recovery enqueue failed", logger.UploadID(sess.ID), logger.Err(err))
			continue
		}
		logger.Info("stranded session re-enqueued",
			logger.UploadID(sess.ID),
			logger.State(string(sess.State)))
	}
}

// sweepWorkdirs removes scratch directories whose sessions are no longer in
// flight, covering workers that died without releasing.
func (o *Orchestrator) sweepWorkdirs(ctx context.Context) {
	live := make(map[string]bool)
	active, err := o.sessions.ListByStates(ctx,
		[]session.State{session.StateUploaded, session.StateProcessing, session.StatePlayable},
		time.Now(), 0)
	if err != nil {
		logger.Warn("workdir sweep query failed", logger.Err(err))
		return
	}
	for _, sess := range active {
		live[sess.ID] = true
	}

	removed, err := o.workdirs.SweepOrphans(live, o.cfg.StrandedAfter)
	if err != nil {
		logger.Warn("workdir sweep failed", logger.Err(err))
		return
	}
	if removed > 0 {
		logger.Info("orphaned workdirs removed", "count", removed)
	}
}
