package middleware

import (
	"log"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logs one line per request. Relayed calls also carry their route name and,
// when present, the gateway key that made them.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		requestID := c.GetString("request_id")

		route := c.GetString(proxy.RouteKey)
		if route == "" {
			log.Printf("[%s] %s %s - %d - %v - %s", requestID, method, path, statusCode, latency, c.ClientIP())
			return
		}

		caller := c.ClientIP()
		if id, ok := c.Value(APIKeyIDContextKey).(uuid.UUID); ok {
			caller = "key " + id.String()
		}

		log.Printf("[%s] %s %s (%s) - %d - %v - %s", requestID, method, path, route, statusCode, latency, caller)
	}
}
