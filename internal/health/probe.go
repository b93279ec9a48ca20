package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Probe checks that the GitHub REST API answers.
type Probe struct {
	client  Doer
	url     string
	timeout time.Duration
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Latency    time.Duration
	StatusCode int
	Available  bool
	Message    string
}

// NewProbe creates a probe against apiBaseURL. It requests /rate_limit,
// which does not count against the caller's budget.
func NewProbe(apiBaseURL string, client Doer, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Probe{
		client:  client,
		url:     strings.TrimRight(apiBaseURL, "/") + "/rate_limit",
		timeout: timeout,
	}
}

// Check performs one request. Transport failures are reported in the
// result rather than as an error; err is only set for a malformed URL.
func (p *Probe) Check(ctx context.Context) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &ProbeResult{Latency: latency, Message: err.Error()}, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result := &ProbeResult{Latency: latency, StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode < 400:
		result.Available = true
		result.Message = "ok"
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		// rate limited, but reachable
		result.Available = true
		result.Message = "rate limited"
	default:
		result.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result, nil
}
