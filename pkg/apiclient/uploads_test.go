package apiclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelhaven/reelhaven/pkg/api"
	blobmemory "github.com/reelhaven/reelhaven/pkg/blob/memory"
	"github.com/reelhaven/reelhaven/pkg/draft"
	"github.com/reelhaven/reelhaven/pkg/queue"
	sessionstore "github.com/reelhaven/reelhaven/pkg/session/store"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

type env struct {
	client *Client
	blobs  *blobmemory.Store
}

// newEnv runs the real upload service behind the real router and points a
// client at it, so the whole protocol is exercised over the wire.
func newEnv(t *testing.T) *env {
	t.Helper()

	store, err := sessionstore.New(context.Background(), &sessionstore.Config{
		Type:   sessionstore.DatabaseTypeSQLite,
		SQLite: sessionstore.SQLiteConfig{Path: filepath.Join(t.TempDir(), "sessions.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	drafts, err := draft.NewGORMStore(store.DB())
	require.NoError(t, err)

	jobs := queue.NewMemoryQueue(0)
	t.Cleanup(func() { _ = jobs.Close() })

	blobs := blobmemory.New()
	svc := upload.NewService(upload.Config{
		MinChunkSize:  4,
		ChunkSizeStep: 4,
		MaxChunkSize:  1 << 20,
	}, store, blobs, drafts, jobs, nil)

	cfg := api.Config{Auth: api.AuthConfig{DevMode: true}}
	cfg.ApplyDefaults()
	srv := httptest.NewServer(api.NewRouter(cfg, svc, nil))
	t.Cleanup(srv.Close)

	client := New(srv.URL)
	client.SetOwnerID("alice")
	return &env{client: client, blobs: blobs}
}

func TestUploadEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	data := make([]byte, 1000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	req := CreateUploadRequest{
		IdempotencyKey: "key-1",
		Filename:       "clip.mp4",
		MIMEType:       "video/mp4",
		Size:           int64(len(data)),
		ChunkSize:      256,
		LastModifiedMs: 1111,
	}

	sess, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.UploadID)
	assert.Positive(t, sess.ChunkSize)

	var lastSent int64
	err = e.client.UploadWithOptions(ctx, sess, req, bytes.NewReader(data), UploadOptions{
		Progress: func(sent, total int64) { lastSent = sent },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), lastSent)

	status, err := e.client.Status(ctx, sess.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "uploaded", status.Status)
	assert.Equal(t, int64(1000), status.BytesReceived)

	// Uploading again converges via the probe short-circuit.
	require.NoError(t, e.client.Upload(ctx, sess, req, bytes.NewReader(data)))
}

func TestUploadResumesFromServerOffset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("reel"), 250) // 1000 bytes

	req := CreateUploadRequest{
		IdempotencyKey: "key-1",
		Filename:       "clip.mp4",
		MIMEType:       "video/mp4",
		Size:           int64(len(data)),
		ChunkSize:      256,
	}
	sess, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)

	// First chunk lands out of band, as if a previous run died after one
	// chunk.
	_, _, err = e.client.putChunk(ctx, sess.UploadID, "", 0, int64(len(data)), data[:256])
	require.NoError(t, err)

	require.NoError(t, e.client.Upload(ctx, sess, req, bytes.NewReader(data)))

	status, err := e.client.Status(ctx, sess.UploadID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), status.BytesReceived)
}

func TestUploadFastForwardsOnConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("x"), 512)
	req := CreateUploadRequest{
		IdempotencyKey: "key-1",
		Filename:       "clip.mp4",
		MIMEType:       "video/mp4",
		Size:           int64(len(data)),
		ChunkSize:      256,
	}
	sess, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)

	// Sending ahead of the server's offset draws a 409 with the
	// authoritative offset.
	_, _, err = e.client.putChunk(ctx, sess.UploadID, "", 256, int64(len(data)), data[256:])
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, int64(0), apiErr.Offset)

	// The chunk loop recovers from the same situation on its own.
	require.NoError(t, e.client.Upload(ctx, sess, req, bytes.NewReader(data)))
}

func TestCreateUploadIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req := CreateUploadRequest{
		IdempotencyKey: "key-1",
		Filename:       "clip.mp4",
		MIMEType:       "video/mp4",
		Size:           1000,
	}
	first, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)
	second, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.UploadID, second.UploadID)
}

func TestAbortAndDraft(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req := CreateUploadRequest{
		IdempotencyKey: "key-1",
		Filename:       "clip.mp4",
		MIMEType:       "video/mp4",
		Size:           1000,
	}
	sess, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)

	require.NoError(t, e.client.SaveDraft(ctx, sess.UploadID, draft.Metadata{
		Title:      "My clip",
		Visibility: draft.VisibilityUnlisted,
	}))

	require.NoError(t, e.client.Abort(ctx, sess.UploadID))
	require.NoError(t, e.client.Abort(ctx, sess.UploadID), "abort is idempotent")

	_, _, err = e.client.putChunk(ctx, sess.UploadID, "", 0, 1000, []byte("data"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsGone())
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("y"), 512)
	req := CreateUploadRequest{
		IdempotencyKey: "key-1",
		Filename:       "clip.mp4",
		MIMEType:       "video/mp4",
		Size:           int64(len(data)),
		ChunkSize:      256,
	}
	sess, err := e.client.CreateUpload(ctx, req)
	require.NoError(t, err)

	// A flaky front proxy that 503s every other chunk PUT.
	backend, err := url.Parse(e.client.baseURL)
	require.NoError(t, err)
	proxy := httputil.NewSingleHostReverseProxy(backend)

	var appends atomic.Int64
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.Header.Get("Content-Range") != "bytes */*" {
			if appends.Add(1)%2 == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		proxy.ServeHTTP(w, r)
	}))
	t.Cleanup(flaky.Close)

	client := New(flaky.URL)
	client.SetOwnerID("alice")
	err = client.UploadWithOptions(ctx, sess, req, bytes.NewReader(data), UploadOptions{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	status, err := e.client.Status(ctx, sess.UploadID)
	require.NoError(t, err)
	assert.Equal(t, int64(512), status.BytesReceived)
}
