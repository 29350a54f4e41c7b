package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/redis/go-redis/v9"
)

type TokenBucket struct {
	redis      *storage.RedisClient
	capacity   int     // Total capacity of the bucket
	refillRate float64 // Tokens per second
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, refillRate float64) *TokenBucket {
	if refillRate <= 0 {
		refillRate = 1
	}
	return &TokenBucket{
		redis:      redis,
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func bucketKey(key string) string {
	return fmt.Sprintf("ratelimit:bucket:%s", key)
}

// Loads the bucket and applies the refill for the time elapsed since it was saved
func (t *TokenBucket) load(ctx context.Context, key string, now time.Time) (bucketState, error) {
	data, err := t.redis.Get(ctx, bucketKey(key))
	if err == redis.Nil {
		return bucketState{Tokens: float64(t.capacity), LastRefill: now}, nil
	}
	if err != nil {
		return bucketState{}, err
	}

	var state bucketState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return bucketState{Tokens: float64(t.capacity), LastRefill: now}, nil
	}

	elapsed := now.Sub(state.LastRefill).Seconds()
	state.Tokens = math.Min(state.Tokens+elapsed*t.refillRate, float64(t.capacity))
	state.LastRefill = now
	return state, nil
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	state, err := t.load(ctx, key, now)
	if err != nil {
		return false, err
	}

	allowed := state.Tokens >= 1
	if allowed {
		state.Tokens--
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return false, err
	}
	if err := t.redis.Set(ctx, bucketKey(key), stateJSON, time.Hour); err != nil {
		return false, err
	}

	return allowed, nil
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	state, err := t.load(ctx, key, time.Now())
	if err != nil {
		return 0, err
	}
	return int(state.Tokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

// Time to refill an empty bucket
func (t *TokenBucket) Window() time.Duration {
	return time.Duration(float64(t.capacity) / t.refillRate * float64(time.Second))
}

func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	now := time.Now()
	state, err := t.load(ctx, key, now)
	if err != nil {
		return time.Time{}, err
	}

	missing := float64(t.capacity) - state.Tokens
	return now.Add(time.Duration(missing / t.refillRate * float64(time.Second))), nil
}
