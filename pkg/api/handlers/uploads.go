package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reelhaven/reelhaven/pkg/api/middleware"
	"github.com/reelhaven/reelhaven/pkg/draft"
	"github.com/reelhaven/reelhaven/pkg/session"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

// Protocol headers.
const (
	// HeaderUploadOffset carries the authoritative received-byte count. It
	// is the sole source of truth for resume; clients tracking progress
	// locally will desynchronize.
	HeaderUploadOffset = "Upload-Offset"

	// HeaderIdempotencyKey makes session creation retry-safe.
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderFingerprint is the optional "filename:size:lastModifiedMs"
	// tuple sent on probe and append to detect file substitution.
	HeaderFingerprint = "Upload-Fingerprint"
)

// UploadHandler serves the resumable upload protocol.
type UploadHandler struct {
	svc      *upload.Service
	basePath string
}

// NewUploadHandler creates the handler. basePath is the mount point used to
// build session URLs, e.g. "/v1/uploads".
func NewUploadHandler(svc *upload.Service, basePath string) *UploadHandler {
	return &UploadHandler{svc: svc, basePath: strings.TrimSuffix(basePath, "/")}
}

type createRequest struct {
	Filename       string `json:"filename"`
	MIMEType       string `json:"mimeType"`
	Size           int64  `json:"size"`
	ChunkSize      int64  `json:"chunkSize,omitempty"`
	LastModifiedMs int64  `json:"lastModifiedMs,omitempty"`
}

type createResponse struct {
	UploadID   string `json:"uploadId"`
	SessionURL string `json:"sessionUrl"`
	ChunkSize  int64  `json:"chunkSize"`
	DraftID    string `json:"draftId,omitempty"`
}

type completedResponse struct {
	UploadID string `json:"uploadId"`
	Size     int64  `json:"size"`
	DraftID  string `json:"draftId,omitempty"`
}

// Create handles POST {base}?uploadType=resumable.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		BadRequest(w, "Idempotency-Key header is required")
		return
	}

	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	req := upload.CreateRequest{
		IdempotencyKey: key,
		Filename:       body.Filename,
		MIME:           body.MIMEType,
		Size:           body.Size,
		ChunkSize:      body.ChunkSize,
	}
	if body.LastModifiedMs > 0 {
		req.Fingerprint = &session.Fingerprint{
			Filename:     body.Filename,
			Size:         body.Size,
			LastModified: body.LastModifiedMs,
		}
	}

	sess, _, err := h.svc.Create(r.Context(), owner, req)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	// Replayed creates return the same body byte for byte, so retries of the
	// create request itself converge.
	WriteJSON(w, http.StatusCreated, createResponse{
		UploadID:   sess.ID,
		SessionURL: h.basePath + "/" + sess.ID,
		ChunkSize:  sess.ChunkSize,
		DraftID:    sess.DraftID,
	})
}

// Put handles PUT {base}/{uploadID}: both the probe form
// (Content-Range: bytes */*) and the append form
// (Content-Range: bytes start-end/total).
func (h *UploadHandler) Put(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "uploadID")

	cr, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	fp, err := parseFingerprint(r.Header.Get(HeaderFingerprint))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if cr.probe {
		h.probe(w, r, owner, id, fp)
		return
	}
	h.append(w, r, owner, id, cr, fp)
}

func (h *UploadHandler) probe(w http.ResponseWriter, r *http.Request, owner, id string, fp *session.Fingerprint) {
	sess, offset, err := h.svc.Probe(r.Context(), owner, id)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	if err := checkFingerprint(sess, fp); err != nil {
		Conflict(w, err.Error())
		return
	}

	if sess.State != session.StateOpen && sess.Complete() {
		WriteJSON(w, http.StatusCreated, completedResponse{
			UploadID: sess.ID,
			Size:     sess.DeclaredSize,
			DraftID:  sess.DraftID,
		})
		return
	}

	// A terminal session that never completed will 410 every append; tell
	// the client now instead of inviting one.
	if sess.State.Terminal() {
		Gone(w, fmt.Sprintf("upload session is %s", sess.State))
		return
	}

	w.Header().Set(HeaderUploadOffset, strconv.FormatInt(offset, 10))
	if offset > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", offset-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

func (h *UploadHandler) append(w http.ResponseWriter, r *http.Request, owner, id string, cr contentRange, fp *session.Fingerprint) {
	length := cr.end - cr.start + 1
	if r.ContentLength >= 0 && r.ContentLength != length {
		BadRequest(w, fmt.Sprintf("Content-Length %d does not match Content-Range span %d",
			r.ContentLength, length))
		return
	}

	offset, completed, err := h.svc.Append(r.Context(), owner, id, upload.AppendRequest{
		Start:       cr.start,
		Length:      length,
		Total:       cr.total,
		Body:        r.Body,
		Fingerprint: fp,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	if completed {
		sess, _, serr := h.svc.Status(r.Context(), owner, id)
		resp := completedResponse{UploadID: id, Size: offset}
		if serr == nil {
			resp.DraftID = sess.DraftID
		}
		WriteJSON(w, http.StatusCreated, resp)
		return
	}

	w.Header().Set(HeaderUploadOffset, strconv.FormatInt(offset, 10))
	w.WriteHeader(http.StatusPermanentRedirect)
}

// Abort handles DELETE {base}/{uploadID}. Idempotent.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "uploadID")

	if err := h.svc.Abort(r.Context(), owner, id); err != nil {
		h.writeUploadError(w, err)
		return
	}
	WriteNoContent(w)
}

type renditionStatus struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Status       string `json:"status"`
	SegmentCount int    `json:"segmentCount,omitempty"`
}

type statusResponse struct {
	UploadID             string            `json:"uploadId"`
	Status               session.State     `json:"status"`
	BytesReceived        int64             `json:"bytesReceived"`
	TotalBytes           int64             `json:"totalBytes"`
	Progress             float64           `json:"progress"`
	CID                  string            `json:"cid,omitempty"`
	PlaybackURL          string            `json:"playbackUrl,omitempty"`
	ErrorCode            string            `json:"errorCode,omitempty"`
	Warning              string            `json:"warning,omitempty"`
	FirstPlayableReadyAt *string           `json:"firstPlayableReadyAt,omitempty"`
	HDReadyAt            *string           `json:"hdReadyAt,omitempty"`
	Renditions           []renditionStatus `json:"renditions,omitempty"`
}

// Status handles GET {base}/{uploadID}/status.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "uploadID")

	sess, renditions, err := h.svc.Status(r.Context(), owner, id)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toStatusResponse(sess, renditions))
}

// List handles GET {base}: the caller's sessions, newest first.
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := h.svc.List(r.Context(), owner, limit)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	out := make([]statusResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toStatusResponse(sess, nil))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"uploads": out})
}

// PutDraft handles PUT {base}/{uploadID}/draft.
func (h *UploadHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "uploadID")

	var m draft.Metadata
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := m.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.svc.SaveDraft(r.Context(), owner, id, m); err != nil {
		h.writeUploadError(w, err)
		return
	}
	WriteNoContent(w)
}

// GetDraft handles GET {base}/{uploadID}/draft.
func (h *UploadHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "uploadID")

	d, err := h.svc.GetDraft(r.Context(), owner, id)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, d.Metadata())
}

func toStatusResponse(sess *session.Session, renditions []*session.Rendition) statusResponse {
	resp := statusResponse{
		UploadID:      sess.ID,
		Status:        sess.State,
		BytesReceived: sess.ReceivedBytes,
		TotalBytes:    sess.DeclaredSize,
		Progress:      sess.Progress(),
		CID:           sess.ContentAddress,
		ErrorCode:     sess.ErrorCode,
		Warning:       sess.Warning,
	}
	if sess.ManifestPath != "" {
		resp.PlaybackURL = "/media/" + sess.ID + "/" + sess.ManifestPath
	}
	if sess.FirstPlayableAt != nil {
		t := sess.FirstPlayableAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.FirstPlayableReadyAt = &t
	}
	if sess.HDReadyAt != nil {
		t := sess.HDReadyAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.HDReadyAt = &t
	}
	for _, rend := range renditions {
		resp.Renditions = append(resp.Renditions, renditionStatus{
			Name:         rend.Name,
			Width:        rend.Width,
			Height:       rend.Height,
			Status:       rend.Status,
			SegmentCount: rend.SegmentCount,
		})
	}
	return resp
}

// checkFingerprint rejects a probe whose fingerprint no longer matches the
// one bound at creation: the client is holding a session for a different
// file.
func checkFingerprint(sess *session.Session, fp *session.Fingerprint) error {
	if fp == nil || sess.Fingerprint == "" {
		return nil
	}
	bound, err := sess.ParsedFingerprint()
	if err != nil {
		return nil
	}
	if !bound.Equal(*fp) {
		return errors.New("file fingerprint changed, start a new upload")
	}
	return nil
}

// writeUploadError maps upload service errors onto protocol status codes.
func (h *UploadHandler) writeUploadError(w http.ResponseWriter, err error) {
	if ce, ok := upload.IsConflict(err); ok {
		// The authoritative offset rides along so the client can
		// fast-forward without an extra probe.
		w.Header().Set(HeaderUploadOffset, strconv.FormatInt(ce.Offset, 10))
		Conflict(w, ce.Reason)
		return
	}

	switch {
	case errors.Is(err, upload.ErrNotFound):
		NotFound(w, "upload not found")
	case errors.Is(err, upload.ErrGone):
		Gone(w, err.Error())
	case errors.Is(err, upload.ErrTooLarge):
		PayloadTooLarge(w, err.Error())
	case errors.Is(err, upload.ErrUnsupportedMIME):
		UnsupportedMediaType(w, err.Error())
	case errors.Is(err, upload.ErrInvalidInput):
		BadRequest(w, err.Error())
	case errors.Is(err, upload.ErrStoreUnavailable):
		ServiceUnavailable(w, err.Error())
	default:
		InternalServerError(w, "internal error")
	}
}
