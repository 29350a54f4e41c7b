package middleware

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/config"
	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/ratelimit"
	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/gin-gonic/gin"
)

type limiterFactory func(algorithm string, limit int, window time.Duration) ratelimit.Limiter

// Applies the inbound per-client limit of the caller's tier. Keys are the API
// key ID when one was validated, the client IP otherwise.
func RateLimitWithTier(redis *storage.RedisClient, tiers []config.RateLimiterTier) gin.HandlerFunc {
	return rateLimitWith(func(algorithm string, limit int, window time.Duration) ratelimit.Limiter {
		return ratelimit.NewLimiter(redis, algorithm, limit, window)
	}, tiers)
}

func rateLimitWith(newLimiter limiterFactory, tiers []config.RateLimiterTier) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]ratelimit.Limiter)

	limiterFor := func(tier config.RateLimiterTier) ratelimit.Limiter {
		mu.Lock()
		defer mu.Unlock()

		if l, ok := limiters[tier.Name]; ok {
			return l
		}
		l := newLimiter(tier.Algorithm, tier.RequestsPerMinute, time.Minute)
		limiters[tier.Name] = l
		return l
	}

	return func(c *gin.Context) {
		tier, key := resolveTier(c, tiers)
		limiter := limiterFor(tier)

		ctx := c.Request.Context()
		allowed, err := limiter.Allow(ctx, tier.Name+":"+key)
		if err != nil {
			log.Printf("[%s] Rate limit check failed: %v", c.GetString("request_id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limit check failed",
			})
			c.Abort()
			return
		}

		remaining, _ := limiter.Remaining(ctx, tier.Name+":"+key)
		resetTime, _ := limiter.Reset(ctx, tier.Name+":"+key)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))
		c.Header("X-RateLimit-Tier", tier.Name)

		if !allowed {
			retryAfter := int(time.Until(resetTime).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"tier":        tier.Name,
				"limit":       tier.RequestsPerMinute,
				"retry_after": resetTime.Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Returns the tier that applies to the request and the key it is counted under
func resolveTier(c *gin.Context, tiers []config.RateLimiterTier) (config.RateLimiterTier, string) {
	fallback := config.RateLimiterTier{Name: "basic", RequestsPerMinute: 60, Algorithm: config.AlgorithmFixedWindow}
	if len(tiers) > 0 {
		fallback = tiers[0]
	}

	value, exists := c.Get(APIKeyContextKey)
	apiKey, ok := value.(*models.APIKey)
	if !exists || !ok || apiKey == nil {
		return fallback, c.ClientIP()
	}

	if tier := findTierConfig(tiers, apiKey.Tier); tier != nil {
		return *tier, apiKey.ID.String()
	}
	return fallback, apiKey.ID.String()
}

func findTierConfig(tiers []config.RateLimiterTier, name string) *config.RateLimiterTier {
	for i := range tiers {
		if tiers[i].Name == name {
			return &tiers[i]
		}
	}

	return nil
}
