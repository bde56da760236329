package health

import (
	"testing"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

func newTestCB(t *testing.T) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker("test-cb", DefaultCircuitBreakerConfig())
}

func newTestCBWithClock(t *testing.T, now func() time.Time) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker("test-cb", CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         1 * time.Second,
		HalfOpenRetries:  2,
	})
	cb.now = now
	return cb
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := newTestCB(t)
	if cb.State() != domain.CircuitClosed {
		t.Errorf("initial state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerClosedAllowsRequests(t *testing.T) {
	cb := newTestCB(t)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in closed state should succeed, got %v", err)
	}
}

func TestCircuitBreakerTripsToOpen(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != domain.CircuitOpen {
		t.Errorf("state after 3 failures = %s, want open", cb.State())
	}
}

func TestCircuitBreakerOpenBlocksRequests(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if err := cb.Allow(); err == nil {
		t.Error("Allow() in open state should return an error")
	}
}

func TestCircuitBreakerOpenTransitionsToHalfOpen(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)
	cb.now = func() time.Time { return clock }

	if cb.State() != domain.CircuitHalfOpen {
		t.Errorf("state after cooldown = %s, want half_open", cb.State())
	}
}

func TestCircuitBreakerHalfOpenAllowsProbes(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)
	cb.now = func() time.Time { return clock }

	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in half_open should succeed, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)
	cb.now = func() time.Time { return clock }

	cb.Allow() // transitions to half_open

	cb.RecordSuccess()
	cb.RecordSuccess()

	if cb.State() != domain.CircuitClosed {
		t.Errorf("state after %d successes in half_open = %s, want closed", 2, cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)
	cb.now = func() time.Time { return clock }

	cb.Allow()
	cb.RecordFailure()

	if cb.State() != domain.CircuitOpen {
		t.Errorf("state after failure in half_open = %s, want open", cb.State())
	}
}

func TestCircuitBreakerClosedSuccessResetsStreak(t *testing.T) {
	cb := newTestCB(t)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	snap := cb.Snapshot()
	if snap.Failures != 0 {
		t.Errorf("Failures after 2 failures + 1 success = %d, want 0 (streak broken)", snap.Failures)
	}
}

func TestCircuitBreakerSnapshot(t *testing.T) {
	cb := newTestCB(t)
	snap := cb.Snapshot()
	if snap.Name != "test-cb" {
		t.Errorf("Name = %q, want %q", snap.Name, "test-cb")
	}
	if snap.State != domain.CircuitClosed {
		t.Errorf("State = %s, want closed", snap.State)
	}
	if snap.TotalTrips != 0 {
		t.Errorf("TotalTrips = %d, want 0", snap.TotalTrips)
	}
}

func TestCircuitBreakerSnapshotCountsTrips(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	snap := cb.Snapshot()
	if snap.TotalTrips != 1 {
		t.Errorf("TotalTrips = %d, want 1", snap.TotalTrips)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := newTestCB(t)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	if cb.State() != domain.CircuitClosed {
		t.Errorf("State after Reset() = %s, want closed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after Reset() = %v, want nil", err)
	}
}
