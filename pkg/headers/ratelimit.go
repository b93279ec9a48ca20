// Package headers parses the rate limit headers GitHub attaches to API responses.
package headers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimit is the budget reported by one response.
type RateLimit struct {
	Resource  string
	Limit     int64
	Remaining int64
	Used      int64
	Reset     time.Time
}

// Exhausted reports whether no requests remain until Reset.
func (r RateLimit) Exhausted() bool {
	return r.Limit > 0 && r.Remaining <= 0
}

// ResetIn is the wait until the window resets, never negative.
func (r RateLimit) ResetIn(now time.Time) time.Duration {
	if r.Reset.IsZero() || !r.Reset.After(now) {
		return 0
	}
	return r.Reset.Sub(now)
}

// ParseRateLimit extracts the X-RateLimit-* headers. It reports false when
// the response carries none.
func ParseRateLimit(h http.Header) (RateLimit, bool) {
	limit, okLimit := parseIntHeader(h, "X-RateLimit-Limit")
	remaining, okRemaining := parseIntHeader(h, "X-RateLimit-Remaining")
	if !okLimit && !okRemaining {
		return RateLimit{}, false
	}

	rl := RateLimit{
		Resource:  strings.TrimSpace(h.Get("X-RateLimit-Resource")),
		Limit:     limit,
		Remaining: remaining,
	}
	if rl.Resource == "" {
		rl.Resource = "core"
	}
	if used, ok := parseIntHeader(h, "X-RateLimit-Used"); ok {
		rl.Used = used
	} else if limit > 0 {
		rl.Used = limit - remaining
	}
	if reset, ok := parseIntHeader(h, "X-RateLimit-Reset"); ok && reset > 0 {
		rl.Reset = time.Unix(reset, 0)
	}
	return rl, true
}

// RetryAfter parses a Retry-After header given in seconds, as sent with
// secondary rate limits. It returns 0 when absent.
func RetryAfter(h http.Header) time.Duration {
	secs, ok := parseIntHeader(h, "Retry-After")
	if !ok || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func parseIntHeader(headers http.Header, key string) (int64, bool) {
	val := strings.TrimSpace(headers.Get(key))
	if val == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
