package metricsfacade

import (
	"sync"

	"github.com/coderunner/controlplane/internal/domain"
)

// PerDeployment blends the process-wide Facade snapshot with per-deployment
// request/error/latency counters into the raw metric map the Autoscaler
// and Resource Optimizer read. The core treats the real
// per-sandbox cpu/memory feed as a cloud-provider concern; this
// adapter is the composition root's stand-in, fed by httpapi's
// recordRequestMetrics middleware on every deployment-scoped request.
type PerDeployment struct {
	facade *Facade

	mu      sync.Mutex
	reqs    map[string]float64
	errs    map[string]float64
	latency map[string]float64
}

// NewPerDeployment wraps facade with per-deployment counters.
func NewPerDeployment(facade *Facade) *PerDeployment {
	return &PerDeployment{
		facade:  facade,
		reqs:    make(map[string]float64),
		errs:    make(map[string]float64),
		latency: make(map[string]float64),
	}
}

// Record registers one completed request against deploymentID, decaying the
// previous request-rate estimate by half so bursts don't linger forever.
func (p *PerDeployment) Record(deploymentID string, latencyMS float64, isError bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs[deploymentID] = p.reqs[deploymentID]*0.5 + 1
	p.latency[deploymentID] = latencyMS
	if isError {
		p.errs[deploymentID] = p.errs[deploymentID]*0.5 + 1
	} else {
		p.errs[deploymentID] *= 0.5
	}
}

// Snapshot implements autoscaler.MetricsSource.
func (p *PerDeployment) Snapshot(deploymentID string) map[domain.MetricKind]float64 {
	sys := p.facade.GetCurrent()
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[domain.MetricKind]float64{
		domain.MetricCPU:          sys.CPUUsage,
		domain.MetricMemory:       sys.MemUsagePct,
		domain.MetricRequests:     p.reqs[deploymentID],
		domain.MetricResponseTime: p.latency[deploymentID],
		domain.MetricErrorRate:    p.errs[deploymentID],
	}
}

// Sample implements optimizer.UsageSampler.
func (p *PerDeployment) Sample(deploymentID string) domain.ResourceSample {
	snap := p.Snapshot(deploymentID)
	return domain.ResourceSample{
		CPUPercent:  snap[domain.MetricCPU],
		MemPercent:  snap[domain.MetricMemory],
		NetworkIO:   0,
		DiskIO:      0,
		CostPerHour: 0.05,
	}
}
