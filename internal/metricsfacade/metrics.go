// Package metricsfacade is the Metrics facade collaborator: the core
// only ever reads a GetCurrent() snapshot and records events through the
// counter/histogram API below. Collectors are registered globally via
// promauto so every constructor shares one process-wide registry.
package metricsfacade

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── API requests ───────────────────────────────────────────────────────────

var APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "controlplane",
	Name:      "api_requests_total",
	Help:      "Total API requests by route and status class.",
}, []string{"route", "status"})

var APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "controlplane",
	Name:      "api_request_latency_seconds",
	Help:      "API request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// ─── Deployments ────────────────────────────────────────────────────────────

var DeploymentsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "controlplane",
	Name:      "deployments_created_total",
	Help:      "Total deployments created.",
})

var DeploymentsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "controlplane",
	Name:      "deployments_active",
	Help:      "Deployments currently not in a terminal state.",
})

var DeploymentPipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "controlplane",
	Name:      "deployment_pipeline_seconds",
	Help:      "Time from pending to running (or failed).",
	Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120},
})

var ScalingActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "controlplane",
	Name:      "scaling_actions_total",
	Help:      "Total autoscaler actions by kind.",
}, []string{"kind"})

// ─── WebSocket gateway ──────────────────────────────────────────────────────

var WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "controlplane",
	Name:      "ws_connections_active",
	Help:      "Currently open WebSocket connections.",
})

var WSMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "controlplane",
	Name:      "ws_messages_sent_total",
	Help:      "Total frames sent by type.",
}, []string{"type"})

var WSMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "controlplane",
	Name:      "ws_messages_dropped_total",
	Help:      "Total frames dropped by backpressure.",
})

// ─── Errors ─────────────────────────────────────────────────────────────────

var ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "controlplane",
	Name:      "errors_total",
	Help:      "Total classified errors by category.",
}, []string{"category"})

// ─── Health ──────────────────────────────────────────────────────────────────

var CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "controlplane",
	Name:      "circuit_breaker_state",
	Help:      "Circuit breaker state per probe (0=closed, 1=half_open, 2=open).",
}, []string{"probe"})

// ─── Snapshot ───────────────────────────────────────────────────────────────

// Snapshot is the value returned by GetCurrent.
type Snapshot struct {
	CPUUsage    float64
	MemUsagePct float64
	Load        float64
	UptimeSec   float64
}

// Facade is the concrete Metrics facade handed to the core. It has no
// dependency on any particular system-stat library: self-reported Go runtime
// figures stand in for system.cpu.usage / system.memory.usage_pct, which is
// sufficient for a control plane that never runs user workloads in-process.
type Facade struct {
	startedAt time.Time
}

// New returns a Facade whose uptime clock starts now.
func New() *Facade {
	return &Facade{startedAt: time.Now()}
}

// GetCurrent returns the snapshot read by the health supervisor and exposed
// through the deployment monitor.
func (f *Facade) GetCurrent() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var memPct float64
	if ms.Sys > 0 {
		memPct = float64(ms.HeapAlloc) / float64(ms.Sys) * 100
	}

	return Snapshot{
		CPUUsage:    float64(runtime.NumGoroutine()),
		MemUsagePct: memPct,
		Load:        float64(runtime.NumGoroutine()) / float64(runtime.GOMAXPROCS(0)),
		UptimeSec:   time.Since(f.startedAt).Seconds(),
	}
}
