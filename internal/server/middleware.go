package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// maxArgLogLen is the maximum length for logged query strings before truncation.
const maxArgLogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 100 * time.Millisecond

// LoggingMiddleware returns middleware that logs all requests with timing.
// Failed requests (5xx or handler errors) are logged at ERROR, slow requests
// (>100ms) at WARN and everything else at DEBUG.
// Query strings are truncated to 200 characters.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
		}

		if q := c.Request.URL.RawQuery; q != "" {
			attrs = append(attrs, "query", truncate(q, maxArgLogLen))
		}

		if status >= 500 || len(c.Errors) > 0 {
			if len(c.Errors) > 0 {
				attrs = append(attrs, "error", c.Errors.String())
			}
			logger.Error("request failed", attrs...)
		} else if duration > slowRequestThreshold {
			logger.Warn("slow request", attrs...)
		} else {
			logger.Debug("request completed", attrs...)
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
