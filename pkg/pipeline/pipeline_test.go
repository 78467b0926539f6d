package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmemory "github.com/reelhaven/reelhaven/pkg/blob/memory"
	"github.com/reelhaven/reelhaven/pkg/media"
	"github.com/reelhaven/reelhaven/pkg/pin"
	"github.com/reelhaven/reelhaven/pkg/queue"
	"github.com/reelhaven/reelhaven/pkg/session"
	sessionstore "github.com/reelhaven/reelhaven/pkg/session/store"
)

type fakeProber struct {
	info *media.SourceInfo
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*media.SourceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

// fakeTranscoder fabricates a playlist and one segment per rendition.
type fakeTranscoder struct {
	failNames   map[string]bool
	onRendition func(name string)
}

func (f *fakeTranscoder) TranscodeHLS(ctx context.Context, srcPath, outDir string, p media.Profile, src *media.SourceInfo) (*media.RenditionResult, error) {
	if f.onRendition != nil {
		f.onRendition(p.Name)
	}
	if f.failNames[p.Name] {
		return nil, errors.New("encoder crashed")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, p.Name+".m3u8"), []byte("#EXTM3U\n"), 0644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, p.Name+"_000.ts"), []byte("segment"), 0644); err != nil {
		return nil, err
	}
	return &media.RenditionResult{Profile: p, ManifestPath: p.Name + ".m3u8", SegmentCount: 1}, nil
}

func (f *fakeTranscoder) ExtractThumbnails(ctx context.Context, srcPath, outDir string, count int, duration time.Duration) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(outDir, "thumb_00.jpg")
	if err := os.WriteFile(path, []byte("jpg"), 0644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

type pipelineFixture struct {
	orch       *Orchestrator
	store      *sessionstore.GORMStore
	blobs      *blobmemory.Store
	jobs       *queue.MemoryQueue
	prober     *fakeProber
	transcoder *fakeTranscoder
	casRoot    string
}

// breakPinStore makes every subsequent CAS write fail by replacing the store
// root with a regular file.
func (f *pipelineFixture) breakPinStore(t *testing.T) {
	t.Helper()
	require.NoError(t, os.RemoveAll(f.casRoot))
	require.NoError(t, os.WriteFile(f.casRoot, []byte("x"), 0644))
}

func newPipelineFixture(t *testing.T, cfg Config) *pipelineFixture {
	t.Helper()

	store, err := sessionstore.New(context.Background(), &sessionstore.Config{
		Type:   sessionstore.DatabaseTypeSQLite,
		SQLite: sessionstore.SQLiteConfig{Path: filepath.Join(t.TempDir(), "sessions.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs := blobmemory.New()
	jobs := queue.NewMemoryQueue(0)
	t.Cleanup(func() { _ = jobs.Close() })

	workdirs, err := media.NewWorkdirs(t.TempDir())
	require.NoError(t, err)

	casRoot := filepath.Join(t.TempDir(), "cas")
	casStore, err := pin.NewFSStore(casRoot)
	require.NoError(t, err)
	pinner := pin.NewPinner(casStore, pin.PinnerConfig{Verify: true, InitialBackoff: time.Millisecond})

	prober := &fakeProber{info: &media.SourceInfo{
		Width:      1920,
		Height:     1080,
		Duration:   time.Minute,
		VideoCodec: "h264",
		AudioCodec: "aac",
		HasAudio:   true,
	}}
	transcoder := &fakeTranscoder{failNames: map[string]bool{}}

	orch := NewOrchestrator(cfg, store, blobs, jobs, prober, transcoder, workdirs, pinner, nil)
	return &pipelineFixture{
		orch:       orch,
		store:      store,
		blobs:      blobs,
		jobs:       jobs,
		prober:     prober,
		transcoder: transcoder,
		casRoot:    casRoot,
	}
}

// seedUploaded creates a session in the uploaded state with its bytes in the
// blob store, as the protocol layer leaves it.
func seedUploaded(t *testing.T, f *pipelineFixture, content string) *session.Session {
	t.Helper()
	ctx := context.Background()

	sess := &session.Session{
		ID:             uuid.NewString(),
		OwnerID:        "alice",
		IdempotencyKey: uuid.NewString(),
		Filename:       "video.mp4",
		DeclaredMIME:   "video/mp4",
		DeclaredSize:   int64(len(content)),
		ChunkSize:      8 << 20,
		ReceivedBytes:  int64(len(content)),
		State:          session.StateUploaded,
	}
	require.NoError(t, f.store.Create(ctx, sess))
	_, err := f.blobs.Append(ctx, sess.ID, 0, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	return sess
}

func TestProcessFullPipeline(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	require.NoError(t, f.orch.process(ctx, sess))

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateHDReady, got.State)
	assert.Equal(t, media.MasterManifestName, got.ManifestPath)
	assert.NotNil(t, got.FirstPlayableAt)
	assert.NotNil(t, got.HDReadyAt)
	assert.True(t, strings.HasPrefix(got.ContentAddress, "sha256:"))
	assert.Positive(t, got.PinSize)
	assert.NotNil(t, got.PinVerifiedAt)

	// A 1080p source gets the ladder up to 1080p, all done.
	renditions, err := f.store.ListRenditions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, renditions, 4)
	for _, r := range renditions {
		assert.Equal(t, session.RenditionDone, r.Status)
		assert.Equal(t, 1, r.SegmentCount)
	}

	// The staging blob is cleaned up after pinning.
	_, err = f.blobs.Size(ctx, sess.ID)
	assert.Error(t, err)
}

func TestProcessReprocessesAfterCrash(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	// A previous worker died right after claiming the session.
	require.NoError(t, f.store.CompareAndSetState(ctx, sess.ID,
		session.StateUploaded, session.StateProcessing, nil))
	sess, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, f.orch.process(ctx, sess))

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateHDReady, got.State)
}

func TestProcessPartialLadder(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.transcoder.failNames["720p"] = true
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	require.NoError(t, f.orch.process(ctx, sess))

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateHDReady, got.State)
	assert.Contains(t, got.Warning, "720p")

	renditions, err := f.store.ListRenditions(ctx, sess.ID)
	require.NoError(t, err)
	byName := map[string]string{}
	for _, r := range renditions {
		byName[r.Name] = r.Status
	}
	assert.Equal(t, session.RenditionFailed, byName["720p"])
	assert.Equal(t, session.RenditionDone, byName["1080p"])
}

func TestProcessStrictRenditions(t *testing.T) {
	f := newPipelineFixture(t, Config{StrictRenditions: true})
	f.transcoder.failNames["720p"] = true
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	err := f.orch.process(ctx, sess)
	require.Error(t, err)
	_, isPermanent := asPermanent(err)
	assert.False(t, isPermanent) // retryable; attempts decide when to fail
}

func TestProcessFirstRenditionFailureIsRetryable(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.transcoder.failNames["240p"] = true
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	err := f.orch.process(ctx, sess)
	require.Error(t, err)

	// The session stays in processing, not failed: the worker decides.
	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateProcessing, got.State)
}

func TestProcessAbortedMidLadder(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	// Abort lands between the 360p and 720p rungs.
	f.transcoder.onRendition = func(name string) {
		if name == "360p" {
			require.NoError(t, f.store.CompareAndSetState(ctx, sess.ID,
				session.StatePlayable, session.StateAborted, nil))
		}
	}

	err := f.orch.process(ctx, sess)
	assert.ErrorIs(t, err, errSessionGone)

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateAborted, got.State)
}

func TestHandleUnsupportedCodecFailsSession(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.prober.err = media.ErrUnsupportedCodec
	ctx := context.Background()
	sess := seedUploaded(t, f, "not a video")

	require.NoError(t, f.jobs.Enqueue(ctx, queue.Job{UploadID: sess.ID}))
	lease, err := f.jobs.Lease(ctx, time.Minute)
	require.NoError(t, err)

	f.orch.handle(ctx, lease)

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateFailed, got.State)
	assert.Equal(t, CodeUnsupportedCodec, got.ErrorCode)

	// Permanent failures consume the job.
	n, err := f.jobs.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleExhaustedRetriesFailSession(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxAttempts: 1})
	f.transcoder.failNames["240p"] = true
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	require.NoError(t, f.jobs.Enqueue(ctx, queue.Job{UploadID: sess.ID}))
	lease, err := f.jobs.Lease(ctx, time.Minute)
	require.NoError(t, err)

	f.orch.handle(ctx, lease)

	// The status endpoint reports the stage that gave up, not a generic
	// retry code.
	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateFailed, got.State)
	assert.Equal(t, CodeTranscodeFailed, got.ErrorCode)
}

func TestHandleExhaustedPinRetriesFailSession(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxAttempts: 1})
	f.breakPinStore(t)
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	require.NoError(t, f.jobs.Enqueue(ctx, queue.Job{UploadID: sess.ID}))
	lease, err := f.jobs.Lease(ctx, time.Minute)
	require.NoError(t, err)

	f.orch.handle(ctx, lease)

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateFailed, got.State)
	assert.Equal(t, CodePinFailed, got.ErrorCode)
}

func TestHandlePinRetryKeepsStateAndWarns(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxAttempts: 3})
	f.breakPinStore(t)
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	require.NoError(t, f.jobs.Enqueue(ctx, queue.Job{UploadID: sess.ID}))
	lease, err := f.jobs.Lease(ctx, time.Minute)
	require.NoError(t, err)

	f.orch.handle(ctx, lease)

	// Renditions landed, so the session is playable and stays there while
	// pinning retries; the creator sees why via the warning.
	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatePlayable, got.State)
	assert.Contains(t, got.Warning, "pinning failed")

	// The job went back to the queue for another attempt.
	n, err := f.jobs.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleMissingSessionAcks(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.jobs.Enqueue(ctx, queue.Job{UploadID: "no-such-session"}))
	lease, err := f.jobs.Lease(ctx, time.Minute)
	require.NoError(t, err)

	f.orch.handle(ctx, lease)

	n, err := f.jobs.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackoffCapped(t *testing.T) {
	f := newPipelineFixture(t, Config{
		RetryBackoff:    5 * time.Second,
		RetryBackoffMax: time.Minute,
	})

	assert.Equal(t, 5*time.Second, f.orch.backoffFor(0))
	assert.Equal(t, 10*time.Second, f.orch.backoffFor(1))
	assert.Equal(t, time.Minute, f.orch.backoffFor(10))
}

func TestSweepRetention(t *testing.T) {
	f := newPipelineFixture(t, Config{Retention: time.Hour})
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")
	require.NoError(t, f.store.SetFailed(ctx, sess.ID, CodeProbeFailed))

	// Backdate the last update past the retention window.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.store.DB().Model(&session.Session{}).
		Where("id = ?", sess.ID).
		UpdateColumn("updated_at", old).Error)

	f.orch.sweepRetention(ctx)

	_, err := f.store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = f.blobs.Size(ctx, sess.ID)
	assert.Error(t, err)
}

func TestSweepStranded(t *testing.T) {
	f := newPipelineFixture(t, Config{StrandedAfter: time.Hour})
	ctx := context.Background()
	sess := seedUploaded(t, f, "fake video bytes")

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.store.DB().Model(&session.Session{}).
		Where("id = ?", sess.ID).
		UpdateColumn("updated_at", old).Error)

	f.orch.sweepStranded(ctx)

	lease, err := f.jobs.Lease(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, lease.Job.UploadID)
}
