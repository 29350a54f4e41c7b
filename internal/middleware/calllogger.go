package middleware

import (
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Receives finished calls, implemented by service.CallRecorder
type CallSink interface {
	Record(entry *models.CallLog)
}

// Records every relayed request once the handler has written its response
func CallLogger(sink CallSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)

		var apiKeyID *uuid.UUID
		if value, exists := c.Get(APIKeyIDContextKey); exists {
			if id, ok := value.(uuid.UUID); ok {
				apiKeyID = &id
			}
		}

		route := c.GetString(proxy.RouteKey)
		if route == "" {
			route = "unmatched"
		}

		sink.Record(&models.CallLog{
			Timestamp:      start,
			RequestID:      c.GetString("request_id"),
			APIKeyID:       apiKeyID,
			Route:          route,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(duration.Milliseconds()),
			ClientIP:       c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		})
	}
}
