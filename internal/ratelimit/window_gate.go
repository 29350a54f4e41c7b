package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Admits at most limit calls in any rolling window. Unlike ConcurrencyGate
// it counts starts, not overlap, so bursts of short calls cannot exceed a
// strict per-minute budget.
type WindowGate struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	admissions []time.Time // oldest first
	inFlight   atomic.Int64
	now        func() time.Time
}

func NewWindowGate(limit int, window time.Duration) *WindowGate {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &WindowGate{
		limit:      limit,
		window:     window,
		admissions: make([]time.Time, 0, limit),
		now:        time.Now,
	}
}

func (g *WindowGate) Acquire(ctx context.Context) error {
	for {
		wait := g.tryAdmit()
		if wait == 0 {
			g.inFlight.Add(1)
			return nil
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

// Records an admission and returns 0, or returns how long until the oldest
// admission leaves the window.
func (g *WindowGate) tryAdmit() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)

	drop := 0
	for drop < len(g.admissions) && !g.admissions[drop].After(cutoff) {
		drop++
	}
	g.admissions = g.admissions[drop:]

	if len(g.admissions) < g.limit {
		g.admissions = append(g.admissions, now)
		return 0
	}

	wait := g.admissions[0].Add(g.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (g *WindowGate) Release() {
	g.inFlight.Add(-1)
}

func (g *WindowGate) Capacity() int {
	return g.limit
}

func (g *WindowGate) InFlight() int {
	return int(g.inFlight.Load())
}

func (g *WindowGate) Window() time.Duration {
	return g.window
}
