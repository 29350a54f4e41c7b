package ratelimit

import (
	"context"
	"time"
)

// Limiter decides per key whether one more inbound request fits the budget.
// Unlike Gate it never blocks: callers reject with 429 when Allow is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)

	Remaining(ctx context.Context, key string) (int, error)

	Limit() int

	Window() time.Duration

	Reset(ctx context.Context, key string) (time.Time, error)
}
