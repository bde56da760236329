package health

import (
	"context"
	"testing"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

func alwaysHealthy(name string) ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		return domain.ProbeResult{Name: name, Status: domain.ProbeHealthy}
	}
}

func alwaysUnhealthy(name string) ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		return domain.ProbeResult{Name: name, Status: domain.ProbeUnhealthy}
	}
}

func TestSupervisorTickReportsHealthy(t *testing.T) {
	s := NewSupervisor(DefaultSupervisorConfig())
	s.Register("database", alwaysHealthy("database"), true)
	s.Register("system", alwaysHealthy("system"), false)

	s.tick(context.Background())

	report := s.Report()
	if report.Overall != domain.OverallHealthy {
		t.Errorf("Overall = %s, want healthy", report.Overall)
	}
	if len(report.Probes) != 2 {
		t.Fatalf("Probes = %d, want 2", len(report.Probes))
	}
}

func TestSupervisorDegradesOnMinorityUnhealthy(t *testing.T) {
	s := NewSupervisor(DefaultSupervisorConfig())
	s.Register("database", alwaysHealthy("database"), true)
	s.Register("network", alwaysUnhealthy("network"), false)
	s.Register("metrics", alwaysHealthy("metrics"), true)

	s.tick(context.Background())

	if got := s.Report().Overall; got != domain.OverallDegraded {
		t.Errorf("Overall = %s, want degraded", got)
	}
}

func TestSupervisorUnhealthyOnMajority(t *testing.T) {
	s := NewSupervisor(DefaultSupervisorConfig())
	s.Register("database", alwaysUnhealthy("database"), true)
	s.Register("network", alwaysUnhealthy("network"), false)
	s.Register("metrics", alwaysHealthy("metrics"), true)

	s.tick(context.Background())

	if got := s.Report().Overall; got != domain.OverallUnhealthy {
		t.Errorf("Overall = %s, want unhealthy", got)
	}
}

func TestSupervisorReadinessBlockedByCriticalProbe(t *testing.T) {
	s := NewSupervisor(DefaultSupervisorConfig())
	s.Register("database", alwaysUnhealthy("database"), true)
	s.Register("system", alwaysHealthy("system"), false)

	s.tick(context.Background())

	if s.Readiness() {
		t.Error("Readiness() should be false when a critical probe is unhealthy")
	}
	if !s.Liveness() {
		t.Error("Liveness() should always be true")
	}
}

func TestSupervisorReadinessIgnoresNonCriticalProbe(t *testing.T) {
	s := NewSupervisor(DefaultSupervisorConfig())
	s.Register("database", alwaysHealthy("database"), true)
	s.Register("network", alwaysUnhealthy("network"), false)

	s.tick(context.Background())

	if !s.Readiness() {
		t.Error("Readiness() should be true when only a non-critical probe is unhealthy")
	}
}

func TestSupervisorBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.Breaker = CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenRetries: 2}
	s := NewSupervisor(cfg)
	s.Register("database", alwaysUnhealthy("database"), true)

	for i := 0; i < 3; i++ {
		s.tick(context.Background())
	}
	s.tick(context.Background()) // breaker now open, probe skipped

	report := s.Report()
	if report.Probes["database"].Status != domain.ProbeUnknown {
		t.Errorf("database status = %s, want unknown while breaker is open", report.Probes["database"].Status)
	}
}

func TestSupervisorTimeoutCountsUnhealthy(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.ProbeTimeout = 10 * time.Millisecond
	s := NewSupervisor(cfg)
	s.Register("slow", func(ctx context.Context) domain.ProbeResult {
		<-ctx.Done()
		return domain.ProbeResult{}
	}, false)

	s.tick(context.Background())

	if s.Report().Probes["slow"].Status != domain.ProbeUnhealthy {
		t.Errorf("status = %s, want unhealthy on timeout", s.Report().Probes["slow"].Status)
	}
}
