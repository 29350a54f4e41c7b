package middleware

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	APIKeyContextKey   = "api_key"
	APIKeyIDContextKey = "api_key_id"
)

// Resolves gateway keys, implemented by service.APIKeyService
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// Checks the X-API-Key header. A present but unknown key is always rejected;
// a missing key is rejected only when required is true.
func APIKeyValidator(keys KeyValidator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKeyHeader := c.GetHeader("X-API-Key")

		if apiKeyHeader == "" {
			if required {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "API key required",
				})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		apiKey, err := keys.Validate(c.Request.Context(), apiKeyHeader)
		if err != nil || apiKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set(APIKeyContextKey, apiKey)
		c.Set(APIKeyIDContextKey, apiKey.ID)

		// Request context ends with the request
		go keys.UpdateLastUsed(context.Background(), apiKey.ID)

		c.Next()
	}
}
