package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/storage"
)

const (
	AlgorithmConcurrency        = "concurrency"
	AlgorithmSlidingWindow      = "sliding_window"
	AlgorithmRedisSlidingWindow = "redis_sliding_window"
)

// Builds an inbound per-client limiter
func NewLimiter(redis *storage.RedisClient, algorithm string, limit int, window time.Duration) Limiter {
	switch algorithm {
	case "token_bucket":
		return NewTokenBucket(redis, limit, float64(limit)/window.Seconds())
	case "sliding_window":
		return NewSlidingWindowLimiter(redis, limit, window)
	default:
		return NewFixedWindow(redis, limit, window)
	}
}

// Builds the upstream admission gate
func NewGate(algorithm string, capacity int, window time.Duration, redis *storage.RedisClient) (Gate, error) {
	switch algorithm {
	case AlgorithmConcurrency, "":
		return NewConcurrencyGate(capacity), nil
	case AlgorithmSlidingWindow:
		return NewWindowGate(capacity, window), nil
	case AlgorithmRedisSlidingWindow:
		if redis == nil {
			return nil, fmt.Errorf("admission algorithm %q requires redis", algorithm)
		}
		return NewRedisWindowGate(NewSlidingWindowLimiter(redis, capacity, window), "upstream"), nil
	default:
		return nil, fmt.Errorf("unknown admission algorithm: %s", algorithm)
	}
}
