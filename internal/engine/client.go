// Package engine implements the HTTP client for the remote
// workflow-execution engine.
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultAPIVersion is the engine API path version used when none is
// configured.
const DefaultAPIVersion = "v1"

// Client issues query, release-hold and abort calls against one engine.
// Non-2xx answers come back as a Response; the error return is reserved for
// transport failures (connection refused, DNS, timeout, truncated body).
type Client struct {
	baseURL    string
	apiVersion string
	auth       Auth
	httpClient *http.Client
}

// NewClient creates a client for the engine at baseURL. A trailing slash on
// baseURL is tolerated. Empty apiVersion falls back to DefaultAPIVersion;
// nil auth falls back to NoAuth.
func NewClient(baseURL, apiVersion string, auth Auth) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if auth == nil {
		auth = NoAuth()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		auth:       auth,
		httpClient: http.DefaultClient,
	}
}

// SetHTTPClient overrides the underlying HTTP client for testing.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Query fetches workflow metadata matching the filter.
func (c *Client) Query(ctx context.Context, f Filter) (*Response, error) {
	u := fmt.Sprintf("%s/api/workflows/%s/query?%s", c.baseURL, c.apiVersion, f.Values().Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	return c.do(req)
}

// ReleaseHold asks the engine to start the held workflow id.
func (c *Client) ReleaseHold(ctx context.Context, id string) (*Response, error) {
	u := fmt.Sprintf("%s/api/workflows/%s/%s/releaseHold", c.baseURL, c.apiVersion, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build releaseHold request: %w", err)
	}
	return c.do(req)
}

// Abort asks the engine to abort the workflow id.
func (c *Client) Abort(ctx context.Context, id string) (*Response, error) {
	u := fmt.Sprintf("%s/api/workflows/%s/%s/abort", c.baseURL, c.apiVersion, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build abort request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	if err := c.auth.Apply(req); err != nil {
		return nil, fmt.Errorf("apply credentials: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
