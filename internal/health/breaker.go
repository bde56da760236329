// Package health is the HealthSupervisor: it runs a circuit breaker
// per probe, ticks every probe on an interval, and collapses their results
// into an overall status plus dedicated readiness/liveness views.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

// CircuitBreakerConfig configures one probe's circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip (default 3)
	Cooldown         time.Duration // time in OPEN before probing HALF_OPEN (default 30s)
	HalfOpenRetries  int           // successful probes in HALF_OPEN required to close (default 3)
}

// DefaultCircuitBreakerConfig returns the default breaker thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		HalfOpenRetries:  3,
	}
}

// ErrCircuitOpen is returned by Allow while a breaker is tripped.
var ErrCircuitOpen = domain.ErrCircuitOpen

// CircuitBreaker guards one probe, tracking closed/open/half_open transitions.
// Thread-safe for concurrent use.
type CircuitBreaker struct {
	mu         sync.Mutex
	name       string
	config     CircuitBreakerConfig
	state      domain.CircuitState
	failures   int
	successes  int // successes observed in half_open
	trippedAt  time.Time
	totalTrips int
	now        func() time.Time // injectable clock for deterministic tests
}

// NewCircuitBreaker creates a breaker named name, starting closed.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  domain.CircuitClosed,
		now:    time.Now,
	}
}

// Allow reports whether a probe attempt is currently permitted, auto-advancing
// open→half_open once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case domain.CircuitClosed:
		return nil
	case domain.CircuitOpen:
		if cb.now().Sub(cb.trippedAt) >= cb.config.Cooldown {
			cb.state = domain.CircuitHalfOpen
			cb.successes = 0
			return nil
		}
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	case domain.CircuitHalfOpen:
		return nil
	}
	return nil
}

// RecordSuccess records a successful probe result.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case domain.CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenRetries {
			cb.state = domain.CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	case domain.CircuitClosed:
		// The trip rule counts consecutive failures, so any success
		// clears the streak.
		cb.failures = 0
	}
}

// RecordFailure records a failed probe result. May trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case domain.CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = domain.CircuitOpen
			cb.trippedAt = cb.now()
			cb.totalTrips++
		}
	case domain.CircuitHalfOpen:
		cb.state = domain.CircuitOpen
		cb.trippedAt = cb.now()
		cb.totalTrips++
	}
}

// State returns the current state, auto-advancing open→half_open if the
// cooldown has elapsed.
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == domain.CircuitOpen && cb.now().Sub(cb.trippedAt) >= cb.config.Cooldown {
		cb.state = domain.CircuitHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// BreakerSnapshot is a point-in-time view of one probe's breaker.
type BreakerSnapshot struct {
	Name       string
	State      domain.CircuitState
	Failures   int
	TotalTrips int
	TrippedAt  time.Time
}

// Snapshot returns the current breaker state without mutating it via Allow.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := cb.state
	if st == domain.CircuitOpen && cb.now().Sub(cb.trippedAt) >= cb.config.Cooldown {
		st = domain.CircuitHalfOpen
		cb.state = st
		cb.successes = 0
	}
	return BreakerSnapshot{
		Name:       cb.name,
		State:      st,
		Failures:   cb.failures,
		TotalTrips: cb.totalTrips,
		TrippedAt:  cb.trippedAt,
	}
}

// Reset forces the breaker back to closed, clearing failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = domain.CircuitClosed
	cb.failures = 0
	cb.successes = 0
}
