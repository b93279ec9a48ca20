package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkstash/linkstash/internal/logging"
)

// AuditMiddleware records requests the server turned away. Dispatched
// actions are audited by the router itself.
func AuditMiddleware(sink logging.AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}

		eventType := logging.APIAccess
		if status == http.StatusUnauthorized {
			eventType = logging.AuthFailure
		}
		event := logging.NewAuditEvent(eventType, c.Request.Method+" "+c.Request.URL.Path, logging.StatusFailure).
			WithIPAddress(c.ClientIP()).
			WithResource(c.Request.URL.Path).
			WithSeverity(logging.SeverityWarning).
			WithDetail("status", status).
			WithDetail("latency_ms", time.Since(start).Milliseconds()).
			WithDetail("user_agent", c.Request.UserAgent())
		if len(c.Errors) > 0 {
			event.ErrorMessage = c.Errors.String()
		}
		sink.Record(event)
	}
}
