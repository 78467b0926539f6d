package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/blob"
	"github.com/reelhaven/reelhaven/pkg/bufpool"
	"github.com/reelhaven/reelhaven/pkg/events"
	"github.com/reelhaven/reelhaven/pkg/media"
	"github.com/reelhaven/reelhaven/pkg/session"
)

// process drives one session through the full pipeline. It is safe to call
// on a session in any post-upload state; completed stages are repeated
// idempotently after a crash.
func (o *Orchestrator) process(ctx context.Context, sess *session.Session) error {
	alreadyPlayable := false

	switch sess.State {
	case session.StateUploaded:
		err := o.sessions.CompareAndSetState(ctx, sess.ID, session.StateUploaded, session.StateProcessing, nil)
		if errors.Is(err, session.ErrConflict) {
			return o.resolveConflict(ctx, sess.ID)
		}
		if err != nil {
			return err
		}
	case session.StateProcessing:
		// Crash recovery: a previous worker died mid-pipeline. The workdir
		// wipe below makes rerunning every stage safe.
	case session.StatePlayable:
		// Crash recovery after the first rendition landed.
		alreadyPlayable = true
	default:
		return errSessionGone
	}

	dir, err := o.workdirs.Acquire(sess.ID)
	if err != nil {
		return fmt.Errorf("acquire workdir: %w", err)
	}
	defer func() {
		if err := o.workdirs.Release(sess.ID); err != nil {
			logger.Warn("workdir release failed", logger.UploadID(sess.ID), logger.Err(err))
		}
	}()

	srcPath := filepath.Join(dir, "source.bin")
	if err := o.exportSource(ctx, sess, srcPath); err != nil {
		return err
	}

	info, err := o.probe(ctx, sess, srcPath)
	if err != nil {
		return err
	}

	plan := media.PlanLadder(o.cfg.Ladder, info)
	hlsDir := filepath.Join(dir, "hls")

	results, err := o.transcodeLadder(ctx, sess, srcPath, hlsDir, plan, info, alreadyPlayable)
	if err != nil {
		return err
	}

	o.extractThumbnails(ctx, sess, srcPath, hlsDir, info)

	if err := o.pinArtifacts(ctx, sess, hlsDir); err != nil {
		return err
	}

	if err := o.finish(ctx, sess, results); err != nil {
		return err
	}

	if err := o.blobs.Delete(ctx, sess.ID); err != nil {
		// Artifacts are pinned and the session is terminal; an orphaned
		// blob only costs storage until the retention sweep.
		logger.Warn("source blob delete failed", logger.UploadID(sess.ID), logger.Err(err))
	}
	return nil
}

// exportSource copies the durable blob into the workdir so ffmpeg can seek.
func (o *Orchestrator) exportSource(ctx context.Context, sess *session.Session, dst string) error {
	rc, err := o.blobs.ReadRange(ctx, sess.ID, 0, -1)
	if errors.Is(err, blob.ErrNotFound) {
		return permanent(CodeSourceMissing, err)
	}
	if err != nil {
		return fmt.Errorf("open source blob: %w", err)
	}
	defer rc.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}
	defer f.Close()

	buf := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(buf)

	written, err := io.CopyBuffer(f, rc, buf)
	if err != nil {
		return fmt.Errorf("export source: %w", err)
	}
	if written != sess.DeclaredSize {
		return permanent(CodeSourceMissing,
			fmt.Errorf("blob has %d bytes, session declares %d", written, sess.DeclaredSize))
	}
	return nil
}

func (o *Orchestrator) probe(ctx context.Context, sess *session.Session, srcPath string) (*media.SourceInfo, error) {
	start := time.Now()
	info, err := o.prober.Probe(ctx, srcPath)
	o.observeStage("probe", start)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedCodec) {
			return nil, permanent(CodeUnsupportedCodec, err)
		}
		if errors.Is(err, media.ErrProbeFailed) {
			return nil, permanent(CodeProbeFailed, err)
		}
		return nil, err
	}
	logger.Info("source probed",
		logger.UploadID(sess.ID),
		"width", info.Width,
		"height", info.Height,
		"codec", info.VideoCodec,
		"duration", info.Duration)
	return info, nil
}

// transcodeLadder produces the planned renditions, lowest first. The first
// rung is mandatory and flips the session playable; later rungs degrade to
// warnings unless strict renditions are on.
func (o *Orchestrator) transcodeLadder(
	ctx context.Context,
	sess *session.Session,
	srcPath, hlsDir string,
	plan []media.Profile,
	info *media.SourceInfo,
	alreadyPlayable bool,
) ([]media.RenditionResult, error) {
	start := time.Now()
	first := plan[0]
	res, err := o.transcoder.TranscodeHLS(ctx, srcPath, hlsDir, first, info)
	if err != nil {
		return nil, stageFailure(CodeTranscodeFailed, fmt.Errorf("transcode %s: %w", first.Name, err))
	}
	if err := o.recordRendition(ctx, sess.ID, first, res, session.RenditionDone); err != nil {
		return nil, err
	}
	results := []media.RenditionResult{*res}

	if _, err := media.WriteMasterManifest(hlsDir, results); err != nil {
		return nil, stageFailure(CodeTranscodeFailed, fmt.Errorf("write master manifest: %w", err))
	}

	if !alreadyPlayable {
		err := o.sessions.CompareAndSetState(ctx, sess.ID,
			session.StateProcessing, session.StatePlayable,
			func(u *session.Session) {
				now := time.Now().UTC()
				u.FirstPlayableAt = &now
				u.ManifestPath = media.MasterManifestName
			})
		if errors.Is(err, session.ErrConflict) {
			return nil, o.resolveConflict(ctx, sess.ID)
		}
		if err != nil {
			return nil, err
		}
		o.publish(events.TypePlayable, sess)
		logger.Info("first rendition playable",
			logger.UploadID(sess.ID),
			logger.Rendition(first.Name))
	}

	for _, p := range plan[1:] {
		if err := o.checkLive(ctx, sess.ID); err != nil {
			return nil, err
		}
		res, err := o.transcoder.TranscodeHLS(ctx, srcPath, hlsDir, p, info)
		if err != nil {
			if o.cfg.StrictRenditions {
				return nil, stageFailure(CodeTranscodeFailed, fmt.Errorf("transcode %s: %w", p.Name, err))
			}
			logger.Warn("rendition failed, continuing",
				logger.UploadID(sess.ID),
				logger.Rendition(p.Name),
				logger.Err(err))
			if rerr := o.recordRendition(ctx, sess.ID, p, nil, session.RenditionFailed); rerr != nil {
				return nil, rerr
			}
			if werr := o.sessions.AppendWarning(ctx, sess.ID, "rendition "+p.Name+" failed"); werr != nil {
				logger.Warn("append warning failed", logger.UploadID(sess.ID), logger.Err(werr))
			}
			continue
		}
		if err := o.recordRendition(ctx, sess.ID, p, res, session.RenditionDone); err != nil {
			return nil, err
		}
		results = append(results, *res)
	}

	// Rewrite the master with the full ladder.
	if _, err := media.WriteMasterManifest(hlsDir, results); err != nil {
		return nil, stageFailure(CodeTranscodeFailed, fmt.Errorf("write master manifest: %w", err))
	}
	o.observeStage("transcode", start)
	return results, nil
}

// extractThumbnails is best effort; a video without thumbnails is still
// publishable.
func (o *Orchestrator) extractThumbnails(ctx context.Context, sess *session.Session, srcPath, hlsDir string, info *media.SourceInfo) {
	thumbDir := filepath.Join(hlsDir, "thumbs")
	if _, err := o.transcoder.ExtractThumbnails(ctx, srcPath, thumbDir, o.cfg.ThumbnailCount, info.Duration); err != nil {
		logger.Warn("thumbnail extraction failed", logger.UploadID(sess.ID), logger.Err(err))
		if werr := o.sessions.AppendWarning(ctx, sess.ID, "thumbnail extraction failed"); werr != nil {
			logger.Warn("append warning failed", logger.UploadID(sess.ID), logger.Err(werr))
		}
	}
}

func (o *Orchestrator) pinArtifacts(ctx context.Context, sess *session.Session, hlsDir string) error {
	start := time.Now()
	res, err := o.pinner.PinDirectory(ctx, sess.ID, hlsDir)
	o.observeStage("pin", start)
	if err != nil {
		return stageFailure(CodePinFailed, err)
	}
	now := time.Now().UTC()
	if err := o.sessions.SetPinRecord(ctx, sess.ID, res.Address.String(), res.Size, &now); err != nil {
		return fmt.Errorf("record pin: %w", err)
	}
	return nil
}

// finish flips the session to hd_ready.
func (o *Orchestrator) finish(ctx context.Context, sess *session.Session, results []media.RenditionResult) error {
	err := o.sessions.CompareAndSetState(ctx, sess.ID,
		session.StatePlayable, session.StateHDReady,
		func(u *session.Session) {
			now := time.Now().UTC()
			u.HDReadyAt = &now
		})
	if errors.Is(err, session.ErrConflict) {
		return o.resolveConflict(ctx, sess.ID)
	}
	if err != nil {
		return err
	}
	o.publish(events.TypeHDReady, sess)
	logger.Info("upload fully processed",
		logger.UploadID(sess.ID),
		"renditions", len(results))
	return nil
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.StageObserved(stage, time.Since(start))
	}
}

func (o *Orchestrator) recordRendition(ctx context.Context, sessionID string, p media.Profile, res *media.RenditionResult, status string) error {
	r := &session.Rendition{
		SessionID: sessionID,
		Name:      p.Name,
		Width:     p.Width,
		Height:    p.Height,
		Bitrate:   p.Bitrate,
		Status:    status,
	}
	if res != nil {
		r.ManifestPath = res.ManifestPath
		r.SegmentCount = res.SegmentCount
	}
	if o.metrics != nil {
		o.metrics.RenditionCompleted(p.Name, status)
	}
	return o.sessions.SaveRendition(ctx, r)
}

// checkLive is the abort tombstone check between long stages.
func (o *Orchestrator) checkLive(ctx context.Context, id string) error {
	sess, err := o.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return errSessionGone
	}
	if err != nil {
		return err
	}
	if sess.State == session.StateAborted || sess.State == session.StateFailed {
		return errSessionGone
	}
	return nil
}

// resolveConflict decides what a lost compare-and-set means: a concurrent
// abort stops the job silently, anything else is a real error.
func (o *Orchestrator) resolveConflict(ctx context.Context, id string) error {
	sess, err := o.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return errSessionGone
	}
	if err != nil {
		return err
	}
	switch sess.State {
	case session.StateAborted, session.StateFailed, session.StateHDReady:
		return errSessionGone
	default:
		return fmt.Errorf("unexpected state %q during transition", sess.State)
	}
}
