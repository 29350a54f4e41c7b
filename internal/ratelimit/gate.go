package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate admits outbound upstream calls. Acquire blocks until a slot is
// available or ctx is done; every successful Acquire must be paired with
// exactly one Release.
type Gate interface {
	Acquire(ctx context.Context) error

	Release()

	// Maximum admissions (concurrent or per window, depending on the gate)
	Capacity() int

	// Calls currently holding a slot
	InFlight() int
}

// Caps the number of concurrent upstream calls. This approximates the
// upstream requests-per-minute budget and is the default gate.
type ConcurrencyGate struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

func NewConcurrencyGate(capacity int) *ConcurrencyGate {
	if capacity <= 0 {
		capacity = 1
	}

	return &ConcurrencyGate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

func (g *ConcurrencyGate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

func (g *ConcurrencyGate) Capacity() int {
	return g.capacity
}

func (g *ConcurrencyGate) InFlight() int {
	return int(g.inFlight.Load())
}
