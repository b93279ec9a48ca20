package headers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimit(t *testing.T) {
	t.Run("full headers", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-RateLimit-Limit", "5000")
		h.Set("X-RateLimit-Remaining", "4990")
		h.Set("X-RateLimit-Used", "10")
		h.Set("X-RateLimit-Reset", "1700000000")
		h.Set("X-RateLimit-Resource", "core")

		rl, ok := ParseRateLimit(h)
		require.True(t, ok)
		assert.Equal(t, "core", rl.Resource)
		assert.Equal(t, int64(5000), rl.Limit)
		assert.Equal(t, int64(4990), rl.Remaining)
		assert.Equal(t, int64(10), rl.Used)
		assert.Equal(t, time.Unix(1700000000, 0), rl.Reset)
		assert.False(t, rl.Exhausted())
	})

	t.Run("used derived and default resource", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-RateLimit-Limit", "60")
		h.Set("X-RateLimit-Remaining", "0")

		rl, ok := ParseRateLimit(h)
		require.True(t, ok)
		assert.Equal(t, "core", rl.Resource)
		assert.Equal(t, int64(60), rl.Used)
		assert.True(t, rl.Exhausted())
		assert.True(t, rl.Reset.IsZero())
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := ParseRateLimit(http.Header{})
		assert.False(t, ok)

		h := http.Header{}
		h.Set("X-RateLimit-Limit", "not-a-number")
		_, ok = ParseRateLimit(h)
		assert.False(t, ok)
	})
}

func TestResetIn(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.Equal(t, 30*time.Second, RateLimit{Reset: time.Unix(1030, 0)}.ResetIn(now))
	assert.Zero(t, RateLimit{Reset: time.Unix(900, 0)}.ResetIn(now))
	assert.Zero(t, RateLimit{}.ResetIn(now))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, RetryAfter(h))
	h.Set("Retry-After", "60")
	assert.Equal(t, time.Minute, RetryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Zero(t, RetryAfter(h))
}
