package metricsfacade

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestGetCurrentPopulatesSnapshot(t *testing.T) {
	f := New()
	s := f.GetCurrent()
	if s.UptimeSec < 0 {
		t.Errorf("UptimeSec = %v, want >= 0", s.UptimeSec)
	}
	if s.CPUUsage <= 0 {
		t.Errorf("CPUUsage = %v, want > 0 (at least one goroutine)", s.CPUUsage)
	}
}

func TestAPIAndDeploymentCountersGatherable(t *testing.T) {
	APIRequestsTotal.WithLabelValues("/deployments", "2xx").Inc()
	APIRequestLatency.WithLabelValues("/deployments").Observe(0.02)
	DeploymentsCreated.Inc()
	DeploymentsActive.Set(3)
	ScalingActionsTotal.WithLabelValues("scale_up").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"controlplane_api_requests_total",
		"controlplane_api_request_latency_seconds",
		"controlplane_deployments_created_total",
		"controlplane_deployments_active",
		"controlplane_scaling_actions_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestWSAndErrorCountersGatherable(t *testing.T) {
	WSConnectionsActive.Set(5)
	WSMessagesSent.WithLabelValues("log").Inc()
	WSMessagesDropped.Inc()
	ErrorsTotal.WithLabelValues("timeout").Inc()
	CircuitBreakerState.WithLabelValues("database").Set(1)

	families, _ := prometheus.DefaultGatherer.Gather()
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"controlplane_ws_connections_active",
		"controlplane_ws_messages_sent_total",
		"controlplane_ws_messages_dropped_total",
		"controlplane_errors_total",
		"controlplane_circuit_breaker_state",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
