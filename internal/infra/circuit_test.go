package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failOnce(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("downstream failure")
	})
}

func succeedOnce(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state to be closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for i := 0; i < 10; i++ {
		if err := succeedOnce(cb); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if cb.State() != CircuitClosed {
		t.Errorf("expected state to remain closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for i := 0; i < 3; i++ {
		_ = failOnce(cb)
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected state to be open after 3 failures, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	_ = failOnce(cb)
	_ = failOnce(cb)
	_ = succeedOnce(cb)

	if got := cb.Stats().ConsecutiveFailures; got != 0 {
		t.Fatalf("expected counter reset after success, got %d", got)
	}

	// Two more failures must not trip the breaker: failures are consecutive.
	_ = failOnce(cb)
	_ = failOnce(cb)

	if cb.State() != CircuitClosed {
		t.Errorf("expected state closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	_ = failOnce(cb)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open")
	}

	invoked := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("guarded function must not run while the circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
	}, WithClock(clock.Now))

	_ = failOnce(cb)
	clock.Advance(time.Minute + time.Second)

	if err := succeedOnce(cb); err != nil {
		t.Fatalf("expected trial to be admitted, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected state closed after trial success, got %s", cb.State())
	}
	if got := cb.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("expected counter zeroed, got %d", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
	}, WithClock(clock.Now))

	_ = failOnce(cb)
	clock.Advance(2 * time.Minute)

	_ = failOnce(cb)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected state open after trial failure, got %s", cb.State())
	}

	// openedAt was reset: a call before the new cooldown elapses is rejected.
	clock.Advance(30 * time.Second)
	if err := succeedOnce(cb); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen during renewed cooldown, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
	}, WithClock(clock.Now))

	_ = failOnce(cb)
	clock.Advance(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A second request while the trial is in flight must be rejected.
	if err := succeedOnce(cb); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen for concurrent trial, got %v", err)
	}
	close(release)
}

func TestCircuitBreaker_OpenRejectThenRecover(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}, WithClock(clock.Now))

	// Failures at t=0, t=1, t=2 open the circuit.
	for i := 0; i < 3; i++ {
		_ = failOnce(cb)
		clock.Advance(time.Second)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", cb.State())
	}

	// t=10: rejected.
	clock.Advance(7 * time.Second)
	if err := succeedOnce(cb); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen at t=10, got %v", err)
	}

	// t=61: trial admitted, success closes the breaker.
	clock.Advance(51 * time.Second)
	if err := succeedOnce(cb); err != nil {
		t.Fatalf("expected trial success at t=61, got %v", err)
	}
	stats := cb.Stats()
	if stats.State != CircuitClosed {
		t.Errorf("expected closed, got %s", stats.State)
	}
	if stats.ConsecutiveFailures != 0 {
		t.Errorf("expected consecutiveFailures=0, got %d", stats.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_StateReadIsIdempotent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	_ = failOnce(cb)

	first := cb.Stats()
	for i := 0; i < 5; i++ {
		if got := cb.Stats(); got != first {
			t.Fatalf("Stats() changed with no activity: %+v vs %+v", got, first)
		}
	}
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	_ = failOnce(cb)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open")
	}

	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if got := cb.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("expected counters zeroed, got %d", got)
	}
	if err := succeedOnce(cb); err != nil {
		t.Errorf("expected request admitted after reset, got %v", err)
	}
}

func TestCircuitBreaker_ExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	got, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (string, error) {
		return "processed", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "processed" {
		t.Errorf("got %q, want %q", got, "processed")
	}

	_, _ = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})

	zero, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (string, error) {
		t.Fatal("must not be invoked while open")
		return "", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if zero != "" {
		t.Errorf("expected zero value, got %q", zero)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	done := make(chan struct{}, 4)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		OnStateChange: func(from, to string) {
			mu.Lock()
			transitions = append(transitions, from+"->"+to)
			mu.Unlock()
			done <- struct{}{}
		},
	})

	_ = failOnce(cb)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestCircuitBreakerRegistry(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	webhook := reg.Get("webhook")
	if webhook != reg.Get("webhook") {
		t.Error("Get should return the same breaker for the same name")
	}

	_ = failOnce(webhook)

	open := reg.OpenCircuits()
	if len(open) != 1 || open[0] != "webhook" {
		t.Errorf("expected [webhook] open, got %v", open)
	}

	reg.ResetAll()
	if len(reg.OpenCircuits()) != 0 {
		t.Error("expected no open circuits after ResetAll")
	}

	stats := reg.Stats()
	if len(stats) != 1 || stats[0].Name != "webhook" {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
