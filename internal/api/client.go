package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linkstash/linkstash/internal/health"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/router"
)

// MaxResponseBodySize is the maximum size of response body to read (1MB)
const MaxResponseBodySize = 1 << 20

// Client talks to a running action server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithAPIKey sets the key sent in X-API-Key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the timeout for HTTP requests.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// device polling can hold a request for minutes
			Timeout: 15 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Dispatch posts req to /actions. A response with Success false is
// returned as-is; only transport and protocol failures are errors.
func (c *Client) Dispatch(ctx context.Context, req router.Request) (router.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return router.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		return router.Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(DefaultAPIKeyHeader, c.apiKey)
	}
	if id := logging.GetCorrelationID(ctx); id != "" {
		httpReq.Header.Set(logging.CorrelationIDHeader, id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return router.Response{}, fmt.Errorf("action request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
	if err != nil {
		return router.Response{}, fmt.Errorf("failed to read action response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest:
		var out router.Response
		if err := json.Unmarshal(data, &out); err != nil {
			return router.Response{}, fmt.Errorf("failed to decode action response: %w", err)
		}
		return out, nil
	default:
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return router.Response{}, fmt.Errorf("action server returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return router.Response{}, fmt.Errorf("action server returned status %d", resp.StatusCode)
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
	// GitHub is set when the server runs a background probe.
	GitHub *health.CheckResult `json:"github,omitempty"`
}

// Health performs a health check on the server.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if id := logging.GetCorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseBodySize)).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &health, nil
}

// Close closes the client and cleans up resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
