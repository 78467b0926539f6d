package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// APIError represents an error response from the API, decoded from the
// RFC 7807 problem body when one is present.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`

	// Offset is the authoritative received-byte count carried on 409
	// conflicts, so the uploader can fast-forward without a probe.
	Offset int64 `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Title, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Title, e.StatusCode)
}

// IsNotFound returns true for 404 responses.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true for 409 responses.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsGone returns true for 410 responses: the session no longer accepts data.
func (e *APIError) IsGone() bool {
	return e.StatusCode == http.StatusGone
}

// Retryable reports whether the request can be retried as-is. Server errors
// and 503 are transient; everything else needs a different request.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}

// parseAPIError builds an APIError from a non-2xx response.
func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/problem+json") {
		_ = json.Unmarshal(body, apiErr)
		apiErr.StatusCode = resp.StatusCode
	}
	if apiErr.Title == "" {
		apiErr.Title = http.StatusText(resp.StatusCode)
		apiErr.Detail = strings.TrimSpace(string(body))
	}

	if raw := resp.Header.Get("Upload-Offset"); raw != "" {
		if offset, err := strconv.ParseInt(raw, 10, 64); err == nil {
			apiErr.Offset = offset
		}
	}
	return apiErr
}
