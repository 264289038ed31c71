package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medical-examination-assistant/internal/observe"
)

// Metrics records request duration by route template. A nil recorder is a no-op.
func Metrics(m *observe.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
