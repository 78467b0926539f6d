// Package apiclient provides the ReelHaven API client used by reelhavenctl:
// session creation, resumable chunk upload with probe-based fast-forward,
// abort, status and draft updates.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the ReelHaven API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	ownerID    string
}

// New creates a new API client.
//
// The 30 second timeout covers the JSON endpoints only; chunk uploads use a
// separate untimed client since a chunk may legitimately stream for minutes.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken sets the Bearer token used for authentication.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetOwnerID sets the dev-mode X-Owner-ID header, used against servers
// running with auth dev mode instead of a token.
func (c *Client) SetOwnerID(ownerID string) {
	c.ownerID = ownerID
}

// authorize attaches the configured credentials to a request.
func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.ownerID != "" {
		req.Header.Set("X-Owner-ID", c.ownerID)
	}
}

// do performs a JSON request and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
