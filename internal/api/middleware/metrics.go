package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/metrics"
)

// Metrics counts served requests by method, matched route and status.
// Unmatched paths share one label to keep cardinality bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status())
	}
}
