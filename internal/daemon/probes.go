package daemon

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/health"
	"github.com/coderunner/controlplane/internal/metricsfacade"
	"github.com/coderunner/controlplane/internal/store"
	"github.com/coderunner/controlplane/internal/wsgateway"
)

// registerProbes wires the six subsystem checks: database and
// metrics are critical (readiness-blocking); gateway, system, network, and
// configured dependencies are advisory.
func registerProbes(sup *health.Supervisor, db *store.DB, metrics *metricsfacade.Facade, gw *wsgateway.Gateway) {
	sup.Register("database", databaseProbe(db), true)
	sup.Register("metrics", metricsProbe(metrics), true)
	sup.Register("websocket_gateway", gatewayProbe(gw), false)
	sup.Register("system", systemProbe(metrics), false)
	sup.Register("network", networkProbe(), false)
	sup.Register("dependencies", dependenciesProbe(), false)
}

func databaseProbe(db *store.DB) health.ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		if err := db.Ping(); err != nil {
			return domain.ProbeResult{Status: domain.ProbeUnhealthy, Err: err}
		}
		return domain.ProbeResult{Status: domain.ProbeHealthy}
	}
}

func metricsProbe(m *metricsfacade.Facade) health.ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		snap := m.GetCurrent()
		return domain.ProbeResult{
			Status:  domain.ProbeHealthy,
			Details: map[string]interface{}{"uptime_sec": snap.UptimeSec},
		}
	}
}

func gatewayProbe(gw *wsgateway.Gateway) health.ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		if gw == nil {
			return domain.ProbeResult{Status: domain.ProbeMocked}
		}
		return domain.ProbeResult{Status: domain.ProbeHealthy}
	}
}

// systemProbe degrades once heap usage crosses 90% of what the runtime has
// reserved from the OS, the same cpu/memory feed the Autoscaler reads.
func systemProbe(m *metricsfacade.Facade) health.ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		snap := m.GetCurrent()
		status := domain.ProbeHealthy
		if snap.MemUsagePct > 90 {
			status = domain.ProbeDegraded
		}
		return domain.ProbeResult{
			Status: status,
			Details: map[string]interface{}{
				"goroutines":   runtime.NumGoroutine(),
				"mem_used_pct": snap.MemUsagePct,
			},
		}
	}
}

// networkProbe resolves a well-known hostname to confirm outbound DNS/HTTP
// still functions, the minimum needed for a cloud sandbox provider call.
func networkProbe() health.ProbeFunc {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) domain.ProbeResult {
		if _, err := net.DefaultResolver.LookupHost(ctx, "example.com"); err != nil {
			return domain.ProbeResult{Status: domain.ProbeDegraded, Err: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://example.com", nil)
		if err != nil {
			return domain.ProbeResult{Status: domain.ProbeDegraded, Err: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			return domain.ProbeResult{Status: domain.ProbeDegraded, Err: err}
		}
		resp.Body.Close()
		return domain.ProbeResult{Status: domain.ProbeHealthy}
	}
}

// dependenciesProbe is mocked until a real cloud sandbox provider and its
// configured endpoints are wired in.
func dependenciesProbe() health.ProbeFunc {
	return func(ctx context.Context) domain.ProbeResult {
		return domain.ProbeResult{Status: domain.ProbeMocked}
	}
}
