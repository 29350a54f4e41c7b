package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *storage.RedisClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, storage.NewRedisFromClient(client)
}

func TestSlidingWindowLimiter_SharedKeyAcrossLimiters(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	// Two replicas configured alike, drawing from one key
	a := NewSlidingWindowLimiter(rdb, 3, time.Minute)
	b := NewSlidingWindowLimiter(rdb, 3, time.Minute)

	allowed := 0
	for i := 0; i < 10; i++ {
		limiter := a
		if i%2 == 1 {
			limiter = b
		}
		ok, err := limiter.Allow(ctx, "upstream")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if ok {
			allowed++
		}
	}

	if allowed != 3 {
		t.Errorf("allowed = %d, want 3", allowed)
	}

	members, err := mr.ZMembers(slidingKey("upstream"))
	if err != nil {
		t.Fatalf("ZMembers() error = %v", err)
	}
	if len(members) != 3 {
		t.Errorf("window holds %d members, want 3: denied attempts must be removed", len(members))
	}

	remaining, err := a.Remaining(ctx, "upstream")
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 0 {
		t.Errorf("Remaining() = %d, want 0", remaining)
	}

	if ok, _ := a.Allow(ctx, "other"); !ok {
		t.Error("Allow() on another key was denied")
	}
}

func TestSlidingWindowLimiter_AdmitsAgainAfterWindow(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	limiter := NewSlidingWindowLimiter(rdb, 1, 100*time.Millisecond)

	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatal("first Allow() denied")
	}
	if ok, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatal("second Allow() inside the window was admitted")
	}

	reset, err := limiter.Reset(ctx, "k")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if until := time.Until(reset); until <= 0 || until > 100*time.Millisecond {
		t.Errorf("Reset() is %s away, want within the window", until)
	}

	time.Sleep(150 * time.Millisecond)
	if ok, err := limiter.Allow(ctx, "k"); !ok || err != nil {
		t.Errorf("Allow() after the window = %v, %v", ok, err)
	}
}

func TestRedisWindowGate_CapsAdmissionsAcrossGates(t *testing.T) {
	_, rdb := newTestRedis(t)

	const limit = 3
	window := 300 * time.Millisecond
	gates := []*RedisWindowGate{
		NewRedisWindowGate(NewSlidingWindowLimiter(rdb, limit, window), "capital"),
		NewRedisWindowGate(NewSlidingWindowLimiter(rdb, limit, window), "capital"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), window/2)
	defer cancel()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(gate *RedisWindowGate) {
			defer wg.Done()
			if err := gate.Acquire(ctx); err != nil {
				return
			}
			admitted.Add(1)
			gate.Release()
		}(gates[i%2])
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Errorf("admitted within one window = %d, want %d", got, limit)
	}
	for i, gate := range gates {
		if gate.InFlight() != 0 {
			t.Errorf("gate %d InFlight() = %d after release", i, gate.InFlight())
		}
		if gate.Capacity() != limit {
			t.Errorf("gate %d Capacity() = %d", i, gate.Capacity())
		}
	}
}

func TestRedisWindowGate_WaitsForWindow(t *testing.T) {
	_, rdb := newTestRedis(t)
	gate := NewRedisWindowGate(NewSlidingWindowLimiter(rdb, 1, 200*time.Millisecond), "")

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	gate.Release()

	start := time.Now()
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	gate.Release()

	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Errorf("second Acquire() returned after %s, want it to wait for the window", waited)
	}
}

func TestRedisWindowGate_AcquireHonoursContext(t *testing.T) {
	_, rdb := newTestRedis(t)
	gate := NewRedisWindowGate(NewSlidingWindowLimiter(rdb, 1, time.Hour), "upstream")

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := gate.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire() took %s to notice the deadline", elapsed)
	}
	if gate.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", gate.InFlight())
	}
}

func TestRedisWindowGate_ReportsRedisFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	gate := NewRedisWindowGate(NewSlidingWindowLimiter(rdb, 1, time.Minute), "upstream")

	mr.SetError("ERR injected failure")
	defer mr.SetError("")

	if err := gate.Acquire(context.Background()); err == nil {
		t.Error("Acquire() succeeded while redis was failing")
	}
}

func TestFixedWindowLimiter_AllowAndRemaining(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	limiter := NewFixedWindow(rdb, 2, time.Hour)

	want := []bool{true, true, false}
	for i, w := range want {
		ok, err := limiter.Allow(ctx, "client")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if ok != w {
			t.Errorf("Allow() #%d = %v, want %v", i+1, ok, w)
		}
	}

	if remaining, _ := limiter.Remaining(ctx, "client"); remaining != 0 {
		t.Errorf("Remaining() = %d, want 0", remaining)
	}
	if remaining, _ := limiter.Remaining(ctx, "fresh"); remaining != 2 {
		t.Errorf("Remaining() for an unseen key = %d, want 2", remaining)
	}
}

func TestNewGate_RedisSlidingWindow(t *testing.T) {
	_, rdb := newTestRedis(t)

	gate, err := NewGate(AlgorithmRedisSlidingWindow, 25, time.Minute, rdb)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	if _, ok := gate.(*RedisWindowGate); !ok {
		t.Errorf("NewGate() = %T, want *RedisWindowGate", gate)
	}
}
