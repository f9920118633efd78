package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/paperpilot/internal/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// LoggerMiddleware returns a Gin middleware that injects a request-scoped logger.
// Parameters:
//   - log: base logger to enrich with request fields; nil uses the default.
//
// Returns:
//   - gin.HandlerFunc: middleware handler.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetDefault()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Reuse the caller's request ID when present
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}

		ctx := log.WithFields(logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		}).WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		// Also store logger in Gin's context for convenience
		c.Set("logger", logger.FromContext(ctx))
		c.Header(RequestIDHeader, requestID)

		logger.CtxDebug(ctx, "Request started: method=%s, path=%s, client_ip=%s",
			c.Request.Method, path, c.ClientIP())

		c.Next()

		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}

		entry := logger.With(logger.Fields{
			logger.FieldStatus: status,
			logger.FieldSize:   c.Writer.Size(),
			"route":            c.FullPath(),
		}).WithDuration(start)
		if status >= 500 {
			entry.Warn(ctx, "Request failed: method=%s, path=%s", c.Request.Method, fullPath)
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
	}
}

// GetLogger extracts logger from Gin context or request context.
// Parameters:
//   - c: Gin request context.
//
// Returns:
//   - *logger.Logger: request-scoped logger or default logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get("logger"); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
