package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute, Now: clock.Now})

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("State() = %s, want open", cb.State())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2})

	_ = cb.Call(func() error { return errBoom })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Second, Now: clock.Now})

	_ = cb.Call(func() error { return errBoom })
	clock.Advance(11 * time.Second)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed after successful probe", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Second, Now: clock.Now})

	_ = cb.Call(func() error { return errBoom })
	clock.Advance(11 * time.Second)
	_ = cb.Call(func() error { return errBoom })

	if cb.State() != StateOpen {
		t.Errorf("State() = %s, want open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{MaxFailures: 1})
	_ = cb.Call(func() error { return errBoom })

	cb.Reset()

	m := cb.Metrics()
	if m.State != StateClosed || m.FailureCount != 0 {
		t.Errorf("Metrics() = %+v, want closed with no failures", m)
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	cb := New(Config{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return Ignore(errBoom) })
		if err != errBoom {
			t.Fatalf("call %d: err = %v, want errBoom unwrapped", i, err)
		}
	}

	m := cb.Metrics()
	if m.State != StateClosed || m.FailureCount != 0 {
		t.Errorf("Metrics() = %+v, want closed with no failures", m)
	}
}

func TestCircuitBreaker_IgnoredProbeLetsNextCallProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Second, Now: clock.Now})

	_ = cb.Call(func() error { return errBoom })
	clock.Advance(11 * time.Second)

	_ = cb.Call(func() error { return Ignore(errBoom) })
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %s, want half-open", cb.State())
	}

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("second probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_StaleOutcomeIsDropped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Second, Now: clock.Now})

	release := make(chan struct{})
	probeDone := make(chan error, 1)

	// Admitted while closed, finishes while another call probes
	err := cb.Call(func() error {
		_ = cb.Call(func() error { return errBoom })
		clock.Advance(11 * time.Second)

		go func() {
			probeDone <- cb.Call(func() error {
				<-release
				return errBoom
			})
		}()

		deadline := time.Now().Add(2 * time.Second)
		for cb.State() != StateHalfOpen {
			if time.Now().After(deadline) {
				t.Fatal("breaker never went half-open")
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("slow call err = %v", err)
	}

	if cb.State() != StateHalfOpen {
		t.Errorf("State() = %s, want half-open: a stale success must not close the breaker", cb.State())
	}
	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen while the probe is in flight", err)
	}

	close(release)
	if err := <-probeDone; !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("State() = %s, want open after the failed probe", cb.State())
	}
}
