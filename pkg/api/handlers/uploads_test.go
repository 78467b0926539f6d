package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelhaven/reelhaven/pkg/api"
	blobmemory "github.com/reelhaven/reelhaven/pkg/blob/memory"
	"github.com/reelhaven/reelhaven/pkg/draft"
	"github.com/reelhaven/reelhaven/pkg/queue"
	sessionstore "github.com/reelhaven/reelhaven/pkg/session/store"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

// newTestServer wires a real upload service behind the router in dev mode,
// so tests authenticate with the X-Owner-ID header.
func newTestServer(t *testing.T) *httptest.Server {
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

	svc := upload.NewService(upload.Config{}, store, blobmemory.New(), drafts, jobs, nil)

	cfg := api.Config{Auth: api.AuthConfig{DevMode: true}}
	cfg.ApplyDefaults()

	srv := httptest.NewServer(api.NewRouter(cfg, svc, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, method, url string, headers map[string]string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Owner-ID", "alice")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type createdSession struct {
	UploadID   string `json:"uploadId"`
	SessionURL string `json:"sessionUrl"`
	ChunkSize  int64  `json:"chunkSize"`
	DraftID    string `json:"draftId"`
}

func createUpload(t *testing.T, srv *httptest.Server, key string, size int64) createdSession {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"filename": "clip.mp4",
		"mimeType": "video/mp4",
		"size":     size,
	})
	resp := doReq(t, http.MethodPost, srv.URL+"/v1/uploads", map[string]string{
		"Idempotency-Key": key,
		"Content-Type":    "application/json",
	}, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[createdSession](t, resp)
}

func appendBytes(t *testing.T, srv *httptest.Server, id string, start int64, total int64, data string) *http.Response {
	t.Helper()
	end := start + int64(len(data)) - 1
	return doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+id, map[string]string{
		"Content-Type":  "application/octet-stream",
		"Content-Range": fmt.Sprintf("bytes %d-%d/%d", start, end, total),
	}, []byte(data))
}

func TestCreateRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/uploads", strings.NewReader("{}"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndIdempotentReplay(t *testing.T) {
	srv := newTestServer(t)

	first := createUpload(t, srv, "key-1", 1000)
	assert.NotEmpty(t, first.UploadID)
	assert.Equal(t, "/v1/uploads/"+first.UploadID, first.SessionURL)
	assert.Positive(t, first.ChunkSize)

	second := createUpload(t, srv, "key-1", 1000)
	assert.Equal(t, first.UploadID, second.UploadID)
	assert.Equal(t, first.SessionURL, second.SessionURL)
	assert.Equal(t, first.ChunkSize, second.ChunkSize)
}

func TestCreateRejections(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"filename": "a.mp4", "mimeType": "video/mp4", "size": 1000})
	resp := doReq(t, http.MethodPost, srv.URL+"/v1/uploads", nil, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing Idempotency-Key")

	huge, _ := json.Marshal(map[string]any{"filename": "a.mp4", "mimeType": "video/mp4", "size": int64(21) << 40})
	resp = doReq(t, http.MethodPost, srv.URL+"/v1/uploads", map[string]string{"Idempotency-Key": "k2"}, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	zipped, _ := json.Marshal(map[string]any{"filename": "a.zip", "mimeType": "application/zip", "size": 1000})
	resp = doReq(t, http.MethodPost, srv.URL+"/v1/uploads", map[string]string{"Idempotency-Key": "k3"}, zipped)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestAppendProbeAndComplete(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	resp := appendBytes(t, srv, sess.UploadID, 0, 10, "01234")
	assert.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Upload-Offset"))

	// Probe reports the high-water mark.
	probe := doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID, map[string]string{
		"Content-Range": "bytes */*",
	}, nil)
	assert.Equal(t, http.StatusPermanentRedirect, probe.StatusCode)
	assert.Equal(t, "5", probe.Header.Get("Upload-Offset"))
	assert.Equal(t, "bytes=0-4", probe.Header.Get("Range"))

	// Final chunk completes with 201.
	resp = appendBytes(t, srv, sess.UploadID, 5, 10, "56789")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	done := decode[map[string]any](t, resp)
	assert.Equal(t, sess.UploadID, done["uploadId"])
	assert.Equal(t, float64(10), done["size"])

	// Probe after completion returns 201 too.
	probe = doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID, map[string]string{
		"Content-Range": "bytes */*",
	}, nil)
	assert.Equal(t, http.StatusCreated, probe.StatusCode)
}

func TestAppendReplayReturnsOffset(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	resp := appendBytes(t, srv, sess.UploadID, 0, 10, "01234")
	require.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)

	// Same chunk again: not an error, offset unchanged.
	resp = appendBytes(t, srv, sess.UploadID, 0, 10, "01234")
	assert.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Upload-Offset"))
}

func TestAppendOutOfOrderConflict(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	resp := appendBytes(t, srv, sess.UploadID, 5, 10, "56789")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	// Authoritative offset rides on the 409 so the client can fast-forward.
	assert.Equal(t, "0", resp.Header.Get("Upload-Offset"))
}

func TestAppendMalformedRange(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	for _, header := range []string{"", "bytes 5-2/10", "bytes 0-4/3", "chunks 0-4/10", "bytes x-4/10"} {
		resp := doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID, map[string]string{
			"Content-Range": header,
		}, []byte("01234"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "header %q", header)
	}
}

func TestAppendAfterAbortIsGone(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	resp := doReq(t, http.MethodDelete, srv.URL+"/v1/uploads/"+sess.UploadID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Abort is idempotent.
	resp = doReq(t, http.MethodDelete, srv.URL+"/v1/uploads/"+sess.UploadID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = appendBytes(t, srv, sess.UploadID, 0, 10, "01234")
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// Probing reveals the terminal state directly instead of offering an
	// offset whose append would 410.
	resp = doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID, map[string]string{
		"Content-Range": "bytes */*",
	}, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestProbeFingerprintMismatch(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"filename":       "a.mp4",
		"mimeType":       "video/mp4",
		"size":           1000,
		"lastModifiedMs": 1111,
	})
	resp := doReq(t, http.MethodPost, srv.URL+"/v1/uploads", map[string]string{
		"Idempotency-Key": "key-1",
	}, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[createdSession](t, resp)

	// Same name, different mtime: the client picked up a different file.
	probe := doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID, map[string]string{
		"Content-Range":      "bytes */*",
		"Upload-Fingerprint": "a.mp4:1000:2222",
	}, nil)
	assert.Equal(t, http.StatusConflict, probe.StatusCode)

	// Matching fingerprint passes.
	probe = doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID, map[string]string{
		"Content-Range":      "bytes */*",
		"Upload-Fingerprint": "a.mp4:1000:1111",
	}, nil)
	assert.Equal(t, http.StatusPermanentRedirect, probe.StatusCode)
}

func TestStatusAndList(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	resp := appendBytes(t, srv, sess.UploadID, 0, 10, "01234")
	require.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)

	status := doReq(t, http.MethodGet, srv.URL+"/v1/uploads/"+sess.UploadID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, status.StatusCode)
	st := decode[map[string]any](t, status)
	assert.Equal(t, "open", st["status"])
	assert.Equal(t, float64(5), st["bytesReceived"])
	assert.Equal(t, float64(10), st["totalBytes"])
	assert.InDelta(t, 0.5, st["progress"], 0.001)

	list := doReq(t, http.MethodGet, srv.URL+"/v1/uploads?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	lst := decode[map[string][]map[string]any](t, list)
	require.Len(t, lst["uploads"], 1)
	assert.Equal(t, sess.UploadID, lst["uploads"][0]["uploadId"])
}

func TestStatusHiddenAcrossOwners(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/uploads/"+sess.UploadID+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Owner-ID", "mallory")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDraftRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	sess := createUpload(t, srv, "key-1", 10)
	require.NotEmpty(t, sess.DraftID)

	patch, _ := json.Marshal(map[string]any{
		"title":       "My clip",
		"description": "raw footage",
		"visibility":  "unlisted",
	})
	resp := doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID+"/draft", nil, patch)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	get := doReq(t, http.MethodGet, srv.URL+"/v1/uploads/"+sess.UploadID+"/draft", nil, nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	meta := decode[map[string]any](t, get)
	assert.Equal(t, "My clip", meta["title"])
	assert.Equal(t, "unlisted", meta["visibility"])

	bad, _ := json.Marshal(map[string]any{"visibility": "broadcast"})
	resp = doReq(t, http.MethodPut, srv.URL+"/v1/uploads/"+sess.UploadID+"/draft", nil, bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/health/ready", "/health/stores"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}
