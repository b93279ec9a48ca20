// Package health probes the GitHub API in the background so /health can
// say whether saves are likely to go through.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/linkstash/linkstash/internal/logging"
)

// Status values reported by the checker.
const (
	StatusUnknown     = "unknown"
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
	StatusUnreachable = "unreachable"
)

// Config contains the health checker configuration.
type Config struct {
	Interval time.Duration
	// SlowThreshold marks a successful probe slower than this as degraded.
	SlowThreshold time.Duration
}

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status              string        `json:"status"`
	Latency             time.Duration `json:"latency_ns"`
	StatusCode          int           `json:"status_code,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CheckedAt           time.Time     `json:"checked_at"`
	Error               string        `json:"error,omitempty"`
}

// Checker runs the probe periodically and keeps the latest result.
type Checker struct {
	cfg    Config
	probe  *Probe
	logger *logging.Logger

	mu       sync.RWMutex
	last     *CheckResult
	failures int

	muRun   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewChecker creates a checker. A nil logger discards output.
func NewChecker(cfg Config, probe *Probe, logger *logging.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Checker{
		cfg:    cfg,
		probe:  probe,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// CheckOnce probes now and stores the result.
func (c *Checker) CheckOnce(ctx context.Context) *CheckResult {
	result := &CheckResult{CheckedAt: time.Now()}

	pr, err := c.probe.Check(ctx)
	if err != nil {
		pr = &ProbeResult{Message: err.Error()}
	}
	result.Latency = pr.Latency
	result.StatusCode = pr.StatusCode

	c.mu.Lock()
	switch {
	case !pr.Available:
		c.failures++
		result.Status = StatusUnreachable
		result.Error = pr.Message
	case pr.Latency > c.cfg.SlowThreshold || pr.Message != "ok":
		c.failures = 0
		result.Status = StatusDegraded
		if pr.Message != "ok" {
			result.Error = pr.Message
		}
	default:
		c.failures = 0
		result.Status = StatusHealthy
	}
	result.ConsecutiveFailures = c.failures
	prev := c.last
	c.last = result
	c.mu.Unlock()

	if prev == nil || prev.Status != result.Status {
		c.logger.Info("github health changed",
			"status", result.Status,
			"latency_ms", result.Latency.Milliseconds(),
			"error", result.Error,
		)
	}
	return result
}

// Last returns a copy of the newest result, or an unknown result before
// the first probe.
func (c *Checker) Last() CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return CheckResult{Status: StatusUnknown}
	}
	return *c.last
}

// Start probes immediately and then on every interval until Stop or ctx
// is done.
func (c *Checker) Start(ctx context.Context) {
	c.muRun.Lock()
	if c.running {
		c.muRun.Unlock()
		return
	}
	c.running = true
	c.muRun.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Checker) run(ctx context.Context) {
	defer c.wg.Done()

	c.CheckOnce(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// Stop stops the checker and waits for the loop to exit.
func (c *Checker) Stop() {
	c.muRun.Lock()
	if !c.running {
		c.muRun.Unlock()
		return
	}
	c.running = false
	c.muRun.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

// IsRunning returns whether the checker is running.
func (c *Checker) IsRunning() bool {
	c.muRun.Lock()
	defer c.muRun.Unlock()
	return c.running
}
