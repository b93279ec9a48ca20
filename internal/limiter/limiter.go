// Package limiter caps how many operations may run at once per key.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linkstash/linkstash/internal/metrics"
)

// Limiter manages per-key concurrency limits.
type Limiter struct {
	metrics      *metrics.Metrics
	defaultLimit int64
	current      map[string]*int64 // key -> atomic counter
	mu           sync.RWMutex
}

// New creates a limiter that allows defaultLimit holders per key.
// A limit of zero or less means unlimited.
func New(defaultLimit int, m *metrics.Metrics) *Limiter {
	return &Limiter{
		metrics:      m,
		defaultLimit: int64(defaultLimit),
		current:      make(map[string]*int64),
	}
}

func (l *Limiter) counter(key string) *int64 {
	l.mu.RLock()
	counterPtr, ok := l.current[key]
	l.mu.RUnlock()
	if ok {
		return counterPtr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if counterPtr, ok := l.current[key]; ok {
		return counterPtr
	}
	counter := int64(0)
	l.current[key] = &counter
	return &counter
}

// Acquire attempts to acquire a slot for key.
// Returns true if acquired, false if limit reached.
func (l *Limiter) Acquire(key string) bool {
	limit, counterPtr := l.defaultLimit, l.counter(key)
	if limit <= 0 {
		atomic.AddInt64(counterPtr, 1)
		l.metrics.RecordLimiterAcquire("success")
		return true
	}

	for {
		current := atomic.LoadInt64(counterPtr)
		if current >= limit {
			l.metrics.RecordLimiterAcquire("denied")
			return false
		}
		if atomic.CompareAndSwapInt64(counterPtr, current, current+1) {
			l.metrics.RecordLimiterAcquire("success")
			return true
		}
	}
}

// Release releases a slot for key.
func (l *Limiter) Release(key string) {
	l.mu.RLock()
	counterPtr, ok := l.current[key]
	l.mu.RUnlock()
	if !ok {
		return
	}

	for {
		current := atomic.LoadInt64(counterPtr)
		if current <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(counterPtr, current, current-1) {
			return
		}
	}
}

// GetCurrent returns the number of holders for key.
func (l *Limiter) GetCurrent(key string) int64 {
	l.mu.RLock()
	counterPtr, ok := l.current[key]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counterPtr)
}

// Waiter provides blocking acquisition with timeout.
type Waiter struct {
	limiter      *Limiter
	key          string
	timeout      time.Duration
	pollInterval time.Duration
}

// NewWaiter creates a waiter for blocking acquisition.
func (l *Limiter) NewWaiter(key string, timeout time.Duration) *Waiter {
	return &Waiter{
		limiter:      l,
		key:          key,
		timeout:      timeout,
		pollInterval: 10 * time.Millisecond,
	}
}

// Acquire blocks until a slot is available, the timeout passes or ctx is done.
func (w *Waiter) Acquire(ctx context.Context) error {
	start := time.Now()
	deadline := start.Add(w.timeout)
	for {
		if w.limiter.Acquire(w.key) {
			w.limiter.metrics.RecordLimiterWait("success", time.Since(start).Seconds())
			return nil
		}
		if time.Now().After(deadline) {
			w.limiter.metrics.RecordLimiterWait("timeout", time.Since(start).Seconds())
			return fmt.Errorf("timeout waiting for a slot on %s", w.key)
		}
		select {
		case <-ctx.Done():
			w.limiter.metrics.RecordLimiterWait("cancelled", time.Since(start).Seconds())
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}
