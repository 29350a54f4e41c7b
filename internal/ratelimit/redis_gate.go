package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const minRedisPoll = 50 * time.Millisecond

// Admission gate backed by the Redis sliding window, so every proxy replica
// that talks to the same upstream account draws from one budget.
type RedisWindowGate struct {
	limiter  *SlidingWindowLimiter
	key      string
	inFlight atomic.Int64
}

func NewRedisWindowGate(limiter *SlidingWindowLimiter, key string) *RedisWindowGate {
	if key == "" {
		key = "upstream"
	}
	return &RedisWindowGate{limiter: limiter, key: key}
}

func (g *RedisWindowGate) Acquire(ctx context.Context) error {
	for {
		allowed, err := g.limiter.Allow(ctx, g.key)
		if err != nil {
			return fmt.Errorf("admission check failed: %w", err)
		}
		if allowed {
			g.inFlight.Add(1)
			return nil
		}

		wait := minRedisPoll
		if reset, err := g.limiter.Reset(ctx, g.key); err == nil {
			if until := time.Until(reset); until > wait {
				wait = until
			}
		}
		if wait > g.limiter.Window() {
			wait = g.limiter.Window()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *RedisWindowGate) Release() {
	g.inFlight.Add(-1)
}

func (g *RedisWindowGate) Capacity() int {
	return g.limiter.Limit()
}

func (g *RedisWindowGate) InFlight() int {
	return int(g.inFlight.Load())
}
