package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/reelhaven/reelhaven/pkg/draft"
)

const uploadsPath = "/v1/uploads"

// CreateUploadRequest describes the file being uploaded.
type CreateUploadRequest struct {
	// IdempotencyKey makes the create retry-safe. Required. Reuse the same
	// key to recover an interrupted session.
	IdempotencyKey string

	Filename string
	MIMEType string
	Size     int64

	// ChunkSize is the requested chunk size; 0 accepts the server default.
	ChunkSize int64

	// LastModifiedMs binds a fingerprint so the server rejects a resume
	// with a different file. 0 skips fingerprinting.
	LastModifiedMs int64
}

// fingerprint renders the header value bound at creation.
func (r CreateUploadRequest) fingerprint() string {
	if r.LastModifiedMs == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", r.Filename, r.Size, r.LastModifiedMs)
}

// UploadSession is the server's answer to a create.
type UploadSession struct {
	UploadID   string `json:"uploadId"`
	SessionURL string `json:"sessionUrl"`
	ChunkSize  int64  `json:"chunkSize"`
	DraftID    string `json:"draftId,omitempty"`
}

// CreateUpload opens (or recovers) an upload session.
func (c *Client) CreateUpload(ctx context.Context, req CreateUploadRequest) (*UploadSession, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}

	body := map[string]any{
		"filename": req.Filename,
		"mimeType": req.MIMEType,
		"size":     req.Size,
	}
	if req.ChunkSize > 0 {
		body["chunkSize"] = req.ChunkSize
	}
	if req.LastModifiedMs > 0 {
		body["lastModifiedMs"] = req.LastModifiedMs
	}

	var session UploadSession
	err := c.do(ctx, http.MethodPost, uploadsPath+"?uploadType=resumable",
		map[string]string{"Idempotency-Key": req.IdempotencyKey}, body, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Probe asks the server for the authoritative received offset. completed is
// set when every declared byte has already landed.
func (c *Client) Probe(ctx context.Context, uploadID, fingerprint string) (offset int64, completed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+uploadsPath+"/"+uploadID, nil)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Range", "bytes */*")
	if fingerprint != "" {
		req.Header.Set("Upload-Fingerprint", fingerprint)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		offset, err = parseUploadOffset(resp)
		return offset, false, err
	case http.StatusCreated:
		return 0, true, nil
	default:
		return 0, false, parseAPIError(resp, body)
	}
}

// Abort cancels the upload. Idempotent.
func (c *Client) Abort(ctx context.Context, uploadID string) error {
	return c.do(ctx, http.MethodDelete, uploadsPath+"/"+uploadID, nil, nil, nil)
}

// RenditionStatus is one transcoder output reported by the status endpoint.
type RenditionStatus struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Status       string `json:"status"`
	SegmentCount int    `json:"segmentCount,omitempty"`
}

// UploadStatus is the session status payload.
type UploadStatus struct {
	UploadID             string            `json:"uploadId"`
	Status               string            `json:"status"`
	BytesReceived        int64             `json:"bytesReceived"`
	TotalBytes           int64             `json:"totalBytes"`
	Progress             float64           `json:"progress"`
	CID                  string            `json:"cid,omitempty"`
	PlaybackURL          string            `json:"playbackUrl,omitempty"`
	ErrorCode            string            `json:"errorCode,omitempty"`
	Warning              string            `json:"warning,omitempty"`
	FirstPlayableReadyAt *string           `json:"firstPlayableReadyAt,omitempty"`
	HDReadyAt            *string           `json:"hdReadyAt,omitempty"`
	Renditions           []RenditionStatus `json:"renditions,omitempty"`
}

// Status fetches the status of one upload.
func (c *Client) Status(ctx context.Context, uploadID string) (*UploadStatus, error) {
	var status UploadStatus
	if err := c.do(ctx, http.MethodGet, uploadsPath+"/"+uploadID+"/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// List fetches the caller's sessions, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]UploadStatus, error) {
	path := uploadsPath
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Uploads []UploadStatus `json:"uploads"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Uploads, nil
}

// SaveDraft updates the metadata draft attached to an upload.
func (c *Client) SaveDraft(ctx context.Context, uploadID string, m draft.Metadata) error {
	return c.do(ctx, http.MethodPut, uploadsPath+"/"+uploadID+"/draft", nil, m, nil)
}

// GetDraft fetches the metadata draft attached to an upload.
func (c *Client) GetDraft(ctx context.Context, uploadID string) (*draft.Metadata, error) {
	var m draft.Metadata
	if err := c.do(ctx, http.MethodGet, uploadsPath+"/"+uploadID+"/draft", nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UploadOptions tunes the resumable chunk loop.
type UploadOptions struct {
	// MaxRetries bounds consecutive transient failures per position.
	// Making progress resets the budget. Default: 5.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per consecutive failure.
	// Default: 1s.
	RetryBackoff time.Duration

	// Progress, when set, is called after each accepted chunk.
	Progress func(sent, total int64)
}

// Upload runs the resumable chunk loop until the file is fully uploaded.
//
// The server's Upload-Offset is the sole source of truth: the loop always
// seeks to whatever offset the server reports, so replays, fast-forwards
// after 409, and resumes after a crash all converge without special cases.
func (c *Client) Upload(ctx context.Context, session *UploadSession, req CreateUploadRequest, content io.ReadSeeker) error {
	opts := UploadOptions{}
	return c.UploadWithOptions(ctx, session, req, content, opts)
}

// UploadWithOptions is Upload with explicit retry tuning.
func (c *Client) UploadWithOptions(ctx context.Context, session *UploadSession, req CreateUploadRequest, content io.ReadSeeker, opts UploadOptions) error {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}

	fingerprint := req.fingerprint()

	offset, completed, err := c.Probe(ctx, session.UploadID, fingerprint)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	if completed {
		return nil
	}

	chunk := make([]byte, session.ChunkSize)
	retries := 0
	backoff := opts.RetryBackoff

	for offset < req.Size {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := content.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek to %d failed: %w", offset, err)
		}

		n := session.ChunkSize
		if remaining := req.Size - offset; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(content, chunk[:n]); err != nil {
			return fmt.Errorf("read at %d failed: %w", offset, err)
		}

		newOffset, done, err := c.putChunk(ctx, session.UploadID, fingerprint, offset, req.Size, chunk[:n])
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				if apiErr.IsConflict() && apiErr.Offset != offset {
					// The server knows better; fast-forward silently.
					offset = apiErr.Offset
					continue
				}
				if !apiErr.Retryable() {
					return err
				}
			}
			retries++
			if retries > opts.MaxRetries {
				return fmt.Errorf("upload failed after %d retries: %w", opts.MaxRetries, err)
			}
			if serr := sleepCtx(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
			continue
		}

		if newOffset > offset {
			retries = 0
			backoff = opts.RetryBackoff
		}
		offset = newOffset
		if opts.Progress != nil {
			opts.Progress(offset, req.Size)
		}
		if done {
			return nil
		}
	}
	return nil
}

// putChunk sends one chunk and returns the server's new offset. done is set
// on the 201 completion response.
func (c *Client) putChunk(ctx context.Context, uploadID, fingerprint string, start, total int64, data []byte) (offset int64, done bool, err error) {
	end := start + int64(len(data)) - 1

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+uploadsPath+"/"+uploadID, bytes.NewReader(data))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	req.ContentLength = int64(len(data))
	if fingerprint != "" {
		req.Header.Set("Upload-Fingerprint", fingerprint)
	}
	c.authorize(req)

	// Chunks stream for as long as they need; no client-side timeout.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		offset, err = parseUploadOffset(resp)
		return offset, false, err
	case http.StatusCreated:
		return total, true, nil
	default:
		return 0, false, parseAPIError(resp, body)
	}
}

func parseUploadOffset(resp *http.Response) (int64, error) {
	raw := resp.Header.Get("Upload-Offset")
	if raw == "" {
		return 0, errors.New("server response missing Upload-Offset")
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad Upload-Offset %q: %w", raw, err)
	}
	return offset, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
