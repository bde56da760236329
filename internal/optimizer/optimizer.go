// Package optimizer aggregates usage samples into cost analytics, efficiency
// scores, right-sizing recommendations, and budget alerts.
package optimizer

import (
	"math"
	"sync"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/store"
)

// Fixed cost-breakdown ratios: refined upstream, not derived here.
const (
	computeShare = 0.70
	storageShare = 0.15
	networkShare = 0.10
	otherShare   = 0.05
)

// idealUtilization is the "sweet spot" the efficiency formula targets.
const idealUtilization = 0.75

// BudgetAlertPublisher fans a budget:alert out over the WebSocket Gateway.
type BudgetAlertPublisher interface {
	PublishBudgetAlert(alert domain.BudgetAlert)
}

// UsageSampler collects the current raw usage for a deployment. Backed by
// the metrics facade's per-deployment adapter in the composition root.
type UsageSampler interface {
	Sample(deploymentID string) domain.ResourceSample
}

// Optimizer is the Resource Optimizer component.
type Optimizer struct {
	store   *store.DB
	sampler UsageSampler
	alerts  BudgetAlertPublisher
	now     func() time.Time

	mu          sync.Mutex
	budgets     map[string]domain.BudgetConfig
	lastAlerted map[string]string // deploymentID -> "2026-07:critical" style key
}

// New creates an Optimizer. alerts may be nil if budget fan-out is not wired.
func New(db *store.DB, sampler UsageSampler, alerts BudgetAlertPublisher) *Optimizer {
	return &Optimizer{
		store:       db,
		sampler:     sampler,
		alerts:      alerts,
		now:         time.Now,
		budgets:     make(map[string]domain.BudgetConfig),
		lastAlerted: make(map[string]string),
	}
}

// SetBudget registers a BudgetConfig for a deployment. Called from an HTTP
// handler goroutine while checkBudget runs from the daemon's background
// sampling loop, so the map is guarded.
func (o *Optimizer) SetBudget(cfg domain.BudgetConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.budgets[cfg.DeploymentID] = cfg
}

// TrackUsage collects one ResourceSample, appends it to the ring, and
// evaluates budget thresholds.
func (o *Optimizer) TrackUsage(deploymentID string) error {
	sample := o.sampler.Sample(deploymentID)
	if sample.Timestamp.IsZero() {
		sample.Timestamp = o.now()
	}
	if err := o.store.AppendResourceSample(deploymentID, sample); err != nil {
		return domain.Classify(domain.CategoryDependency, err)
	}
	o.checkBudget(deploymentID, sample.Timestamp)
	return nil
}

func (o *Optimizer) checkBudget(deploymentID string, at time.Time) {
	o.mu.Lock()
	cfg, ok := o.budgets[deploymentID]
	o.mu.Unlock()
	if !ok || o.alerts == nil {
		return
	}
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	samples, err := o.store.ListResourceSamples(deploymentID, monthStart.UnixMilli(), at.UnixMilli())
	if err != nil {
		return
	}
	var total float64
	for _, s := range samples {
		total += s.CostPerHour
	}
	month := at.Format("2006-01")
	pct := total / cfg.MonthlyLimitUSD * 100

	var level domain.BudgetAlertLevel
	switch {
	case pct >= cfg.CriticalPercent:
		level = domain.BudgetCritical
	case pct >= cfg.WarningPercent:
		level = domain.BudgetWarning
	default:
		return
	}

	key := month + ":" + string(level)
	o.mu.Lock()
	if o.lastAlerted[deploymentID] == key {
		o.mu.Unlock()
		return // idempotent per threshold per month
	}
	o.lastAlerted[deploymentID] = key
	o.mu.Unlock()
	o.alerts.PublishBudgetAlert(domain.BudgetAlert{
		DeploymentID: deploymentID,
		Level:        level,
		MonthToDate:  total,
		Limit:        cfg.MonthlyLimitUSD,
		Month:        month,
	})
}

// CostAnalytics averages samples in [start, end] and breaks cost down into
// fixed-ratio buckets.
func (o *Optimizer) CostAnalytics(deploymentID string, start, end time.Time) (domain.Analytics, error) {
	samples, err := o.store.ListResourceSamples(deploymentID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return domain.Analytics{}, domain.Classify(domain.CategoryDependency, err)
	}

	analytics := domain.Analytics{DeploymentID: deploymentID, Start: start, End: end, SampleCount: len(samples)}
	if len(samples) == 0 {
		return analytics, nil
	}

	var cpuSum, memSum, costSum float64
	for _, s := range samples {
		cpuSum += s.CPUPercent
		memSum += s.MemPercent
		costSum += s.CostPerHour
	}
	n := float64(len(samples))
	analytics.AvgCPU = cpuSum / n
	analytics.AvgMemory = memSum / n
	analytics.TotalCost = costSum
	analytics.Breakdown = domain.CostBreakdown{
		Compute: costSum * computeShare,
		Storage: costSum * storageShare,
		Network: costSum * networkShare,
		Other:   costSum * otherShare,
	}
	analytics.Efficiency = efficiency(analytics.AvgCPU/100, analytics.AvgMemory/100)
	return analytics, nil
}

// efficiency scores how close utilization sits to the ideal band, clamped to [0,1].
func efficiency(cpu, mem float64) float64 {
	e := 0.5*(1-math.Abs(cpu-idealUtilization)) + 0.3*(1-math.Abs(mem-idealUtilization)) + 0.2
	if e < 0 {
		return 0
	}
	if e > 1 {
		return 1
	}
	return e
}

// Recommendations applies the deterministic right-sizing rules over the
// trailing 24h of samples.
func (o *Optimizer) Recommendations(deploymentID string) ([]domain.Recommendation, error) {
	end := o.now()
	start := end.Add(-24 * time.Hour)
	analytics, err := o.CostAnalytics(deploymentID, start, end)
	if err != nil {
		return nil, err
	}
	if analytics.SampleCount == 0 {
		return nil, nil
	}

	var recs []domain.Recommendation
	avgCPU := analytics.AvgCPU
	avgMem := analytics.AvgMemory

	if avgCPU < 30 {
		recs = append(recs, domain.Recommendation{
			Kind: domain.RecDownsizeCPU, Description: "average CPU below 30%; downsize CPU allocation",
			EstimatedSavingsPct: 30,
		})
	}
	if avgMem < 40 {
		recs = append(recs, domain.Recommendation{
			Kind: domain.RecDownsizeMemory, Description: "average memory below 40%; downsize memory allocation",
			EstimatedSavingsPct: 20,
		})
	}
	if avgCPU > 85 {
		recs = append(recs, domain.Recommendation{
			Kind: domain.RecUpsizeCPU, Description: "average CPU above 85%; upsize CPU for headroom",
			EstimatedSavingsPct: -30,
		})
	}
	if analytics.Efficiency < 0.6 {
		recs = append(recs, domain.Recommendation{
			Kind: domain.RecAggressivePolicy, Description: "efficiency below 0.6; consider a more aggressive autoscaling policy",
		})
	}

	for _, r := range recs {
		_ = o.store.InsertRecommendation(deploymentID, r, o.now().UnixMilli())
	}
	return recs, nil
}
