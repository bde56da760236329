package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/metricsfacade"
)

// ProbeFunc returns the current result for one named subsystem. It
// must respect ctx's deadline; a timed-out probe counts as unhealthy.
type ProbeFunc func(ctx context.Context) domain.ProbeResult

// probe pairs a named check with its own circuit breaker and criticality.
type probe struct {
	name     string
	fn       ProbeFunc
	breaker  *CircuitBreaker
	critical bool // readiness-blocking
}

// SupervisorConfig tunes the tick interval, per-probe timeout, and default
// breaker behavior.
type SupervisorConfig struct {
	TickInterval    time.Duration
	ProbeTimeout    time.Duration
	Breaker         CircuitBreakerConfig
	DevelopmentMode bool // mocked counts as healthy for overall status
}

// DefaultSupervisorConfig returns the default probe interval and timeout.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		TickInterval: 30 * time.Second,
		ProbeTimeout: 5 * time.Second,
		Breaker:      DefaultCircuitBreakerConfig(),
	}
}

// Supervisor is the HealthSupervisor: a registry of named probes,
// each threaded through its own circuit breaker, collapsed into an overall
// status on every tick.
type Supervisor struct {
	mu     sync.RWMutex
	cfg    SupervisorConfig
	probes []*probe
	last   map[string]domain.ProbeResult
	now    func() time.Time
}

// NewSupervisor creates an empty supervisor; register probes with Register.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		cfg:  cfg,
		last: make(map[string]domain.ProbeResult),
		now:  time.Now,
	}
}

// Register adds a named probe. critical marks it as readiness-blocking.
func (s *Supervisor) Register(name string, fn ProbeFunc, critical bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes = append(s.probes, &probe{
		name:     name,
		fn:       fn,
		breaker:  NewCircuitBreaker(name, s.cfg.Breaker),
		critical: critical,
	})
}

// Run ticks every probe on cfg.TickInterval until ctx is cancelled. Intended
// to be started as a goroutine from the composition root.
func (s *Supervisor) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	s.mu.RLock()
	probes := make([]*probe, len(s.probes))
	copy(probes, s.probes)
	s.mu.RUnlock()

	results := make(map[string]domain.ProbeResult, len(probes))
	for _, p := range probes {
		results[p.name] = s.runOne(ctx, p)
	}

	s.mu.Lock()
	s.last = results
	s.mu.Unlock()
}

func (s *Supervisor) runOne(ctx context.Context, p *probe) domain.ProbeResult {
	if err := p.breaker.Allow(); err != nil {
		snap := p.breaker.Snapshot()
		remaining := s.cfg.Breaker.Cooldown - s.now().Sub(snap.TrippedAt)
		return domain.ProbeResult{
			Name:     p.name,
			Status:   domain.ProbeUnknown,
			Details:  map[string]interface{}{"cooldown_remaining": remaining.String()},
			Err:      errors.New("circuit open"),
			Critical: p.critical,
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan domain.ProbeResult, 1)
	go func() { done <- p.fn(probeCtx) }()

	var result domain.ProbeResult
	select {
	case result = <-done:
	case <-probeCtx.Done():
		result = domain.ProbeResult{Name: p.name, Status: domain.ProbeUnhealthy, Err: errors.New("probe timed out")}
	}
	result.Name = p.name
	result.Critical = p.critical
	if result.ResponseTimeMS == 0 {
		result.ResponseTimeMS = time.Since(start).Milliseconds()
	}

	switch result.Status {
	case domain.ProbeHealthy, domain.ProbeMocked:
		p.breaker.RecordSuccess()
	default:
		p.breaker.RecordFailure()
	}
	metricsfacade.CircuitBreakerState.WithLabelValues(p.name).Set(breakerGaugeValue(p.breaker.State()))
	return result
}

func breakerGaugeValue(state domain.CircuitState) float64 {
	switch state {
	case domain.CircuitHalfOpen:
		return 1
	case domain.CircuitOpen:
		return 2
	default:
		return 0
	}
}

// Report returns the latest snapshot across every registered probe.
func (s *Supervisor) Report() domain.HealthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	probes := make(map[string]domain.ProbeResult, len(s.last))
	for k, r := range s.last {
		probes[k] = r
	}
	return domain.HealthReport{
		Overall:   s.collapse(probes),
		Probes:    probes,
		Timestamp: s.now(),
	}
}

// collapse folds per-probe results into one status: majority-unhealthy wins
// outright; otherwise any unhealthy, unknown, or degraded probe degrades the
// whole. Unknown (breaker open, check skipped) degrades but does not count
// toward the unhealthy majority, since no check actually failed this tick.
func (s *Supervisor) collapse(probes map[string]domain.ProbeResult) domain.OverallStatus {
	if len(probes) == 0 {
		return domain.OverallHealthy
	}
	unhealthy, degraded := 0, 0
	for _, p := range probes {
		status := p.Status
		if s.cfg.DevelopmentMode && status == domain.ProbeMocked {
			status = domain.ProbeHealthy
		}
		switch status {
		case domain.ProbeUnhealthy:
			unhealthy++
		case domain.ProbeDegraded, domain.ProbeUnknown:
			degraded++
		}
	}
	if unhealthy*2 > len(probes) {
		return domain.OverallUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return domain.OverallDegraded
	}
	return domain.OverallHealthy
}

// Readiness reports ready iff no critical probe is unhealthy.
func (s *Supervisor) Readiness() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.last {
		if r.Critical && r.Status == domain.ProbeUnhealthy {
			return false
		}
	}
	return true
}

// Liveness always reports alive; it exists only to guard the process from
// restart storms driven by transient subsystem failures.
func (s *Supervisor) Liveness() bool { return true }
