// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// ScenePath is the backend route serving scene descriptors by marker id.
const ScenePath = "/api/rookie/ar-scenes/by-marker-id/"

// DefaultMaxBytes bounds Download when no limit is configured.
const DefaultMaxBytes = 64 << 20

// Client talks to the scene backend and downloads marker images and assets.
// It holds no per-activation state; the base URL comes from the activation request.
type Client struct {
	baseURL    string
	userAgent  string
	maxBytes   int64
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBytes bounds the size of downloaded bodies.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// New creates a new API client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxBytes:   DefaultMaxBytes,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBase returns a copy of c pointed at another backend, sharing the HTTP client.
func (c *Client) WithBase(baseURL string) *Client {
	cp := *c
	cp.baseURL = strings.TrimRight(baseURL, "/")
	return &cp
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, core.Wrap(core.ErrNetwork, "failed to create request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.Wrap(core.ErrNetwork, "request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, core.Errorf(core.ErrNetwork, "GET %s returned status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

// FetchScene fetches the scene descriptor bound to markerID. Transport errors
// and non-2xx statuses are ErrNetwork; undecodable bodies are ErrDecode.
func (c *Client) FetchScene(ctx context.Context, markerID string) (*core.SceneDescriptor, error) {
	if strings.TrimSpace(markerID) == "" {
		return nil, core.Errorf(core.ErrInvalidInput, "marker id is empty")
	}
	resp, err := c.get(ctx, c.baseURL+ScenePath+url.QueryEscape(markerID))
	if err != nil {
		return nil, fmt.Errorf("fetch scene %q: %w", markerID, err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp, "scene "+markerID)
	if err != nil {
		return nil, err
	}

	var scene core.SceneDescriptor
	if err := json.Unmarshal(body, &scene); err != nil {
		return nil, core.Wrap(core.ErrDecode, fmt.Sprintf("decode scene %q", markerID), err)
	}
	return &scene, nil
}

// FetchSceneAt fetches from baseURL instead of the configured base. The
// orchestrator uses it because every activation names its own backend.
func (c *Client) FetchSceneAt(ctx context.Context, baseURL, markerID string) (*core.SceneDescriptor, error) {
	return c.WithBase(baseURL).FetchScene(ctx, markerID)
}

// Download fetches rawURL into memory. Bodies over the configured limit are
// rejected rather than truncated.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.readBody(resp, rawURL)
}

// readBody reads at most maxBytes. A longer body is ErrNetwork, never a
// truncated read.
func (c *Client) readBody(resp *http.Response, what string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, core.Wrap(core.ErrNetwork, "read "+what, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, core.Errorf(core.ErrNetwork, "%s exceeds %d bytes", what, c.maxBytes)
	}
	return data, nil
}

// Healthcheck checks if the backend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	resp.Body.Close()
	return nil
}
