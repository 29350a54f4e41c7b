package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis sorted-set sliding window. Members are scored by their admission
// time in nanoseconds, so the window can be shared by several processes.
type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewSlidingWindowLimiter(redis *storage.RedisClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
	}
}

func slidingKey(key string) string {
	return fmt.Sprintf("ratelimit:sliding:%s", key)
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := slidingKey(key)
	now := time.Now()
	windowStart := now.Add(-s.window)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	// Trim, add and count in one transaction; undo the add if over the limit
	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, s.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if countCmd.Val() > int64(s.limit) {
		if err := s.redis.ZRem(ctx, redisKey, member); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func (s *SlidingWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	now := time.Now()
	windowStart := now.Add(-s.window)

	count, err := s.redis.ZCount(ctx, slidingKey(key), strconv.FormatInt(windowStart.UnixNano(), 10), strconv.FormatInt(now.UnixNano(), 10))
	if err != nil {
		return 0, err
	}

	remaining := s.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

// Returns when the oldest admission in the window expires
func (s *SlidingWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	oldest, err := s.redis.ZRangeWithScores(ctx, slidingKey(key), 0, 0)
	if err != nil || len(oldest) == 0 {
		return time.Now(), err
	}

	return time.Unix(0, int64(oldest[0].Score)).Add(s.window), nil
}
