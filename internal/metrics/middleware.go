package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkstash/linkstash/internal/logging"
)

// Middleware records HTTP metrics for each request. Every response with a
// status of 400 or above also counts as an "http" error for its route.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		c.Next()
		m.DecHTTPRequestsInFlight()

		code := c.Writer.Status()
		status := strconv.Itoa(code)
		endpoint := c.FullPath()
		if endpoint == "" {
			// unmatched paths share one label
			endpoint = "unmatched"
		}

		m.RecordRequestLatency(endpoint, c.Request.Method, status, time.Since(start).Seconds())
		m.RecordHTTPRequest(endpoint, c.Request.Method, status)

		if code >= http.StatusBadRequest {
			m.RecordError("http", endpoint)
		}
		if code >= http.StatusInternalServerError || len(c.Errors) > 0 {
			logger.ErrorWithContext(c.Request.Context(), "request failed",
				"endpoint", endpoint, "status", code, "error", c.Errors.String())
		}
	}
}
