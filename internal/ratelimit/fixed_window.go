package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/redis/go-redis/v9"
)

type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewFixedWindow(redis *storage.RedisClient, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
	}
}

func (f *FixedWindowLimiter) windowIndex(now time.Time) int64 {
	seconds := int64(f.window.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return now.Unix() / seconds
}

func (f *FixedWindowLimiter) key(key string, now time.Time) string {
	return fmt.Sprintf("ratelimit:fixed:%s:%d", key, f.windowIndex(now))
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := f.key(key, time.Now())

	count, err := f.redis.Incr(ctx, redisKey)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := f.redis.Expire(ctx, redisKey, f.window); err != nil {
			return false, err
		}
	}

	return count <= int64(f.limit), nil
}

func (f *FixedWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	val, err := f.redis.Get(ctx, f.key(key, time.Now()))
	if err == redis.Nil {
		return f.limit, nil
	}
	if err != nil {
		return 0, err
	}

	count, _ := strconv.Atoi(val)
	remaining := f.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

// Returns the start of the next window
func (f *FixedWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	seconds := int64(f.window.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	next := (f.windowIndex(time.Now()) + 1) * seconds
	return time.Unix(next, 0), nil
}
