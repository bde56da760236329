package domain

import "time"

// MetricKind is one of the five metrics a ScalingPolicy can threshold on.
type MetricKind string

const (
	MetricCPU          MetricKind = "cpu"
	MetricMemory       MetricKind = "memory"
	MetricRequests     MetricKind = "requests"
	MetricResponseTime MetricKind = "response_time"
	MetricErrorRate    MetricKind = "error_rate"
)

// Comparison is how a MetricThreshold's raw value is compared to its threshold.
type Comparison string

const (
	CompareGT  Comparison = "gt"
	CompareGTE Comparison = "gte"
	CompareLT  Comparison = "lt"
	CompareLTE Comparison = "lte"
)

// MetricThreshold is one weighted term in a ScalingPolicy's score.
type MetricThreshold struct {
	Metric     MetricKind
	Threshold  float64
	Comparison Comparison
	Weight     float64
}

// ScalingPolicy binds a weighted set of thresholds to exactly one deployment.
type ScalingPolicy struct {
	ID                 string
	DeploymentID       string
	Thresholds         []MetricThreshold
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	Cooldown           time.Duration
	MinInstances       int
	MaxInstances       int
	Enabled            bool

	LastCooldownAt time.Time // zero until the first successful scaling action
}

// ScalingActionKind is the outcome of an Autoscaler.Evaluate call.
type ScalingActionKind string

const (
	ActionScaleUp   ScalingActionKind = "scale_up"
	ActionScaleDown ScalingActionKind = "scale_down"
	ActionNoChange  ScalingActionKind = "no_change"
)

// Decision is the return value of Autoscaler.Evaluate.
type Decision struct {
	Action          ScalingActionKind
	TargetInstances int
	Confidence      float64
	Score           float64
	Reason          string
}

// ScalingEventKind distinguishes autoscaled actions from operator overrides.
type ScalingEventKind string

const (
	EventScaleUp        ScalingEventKind = "scale_up"
	EventScaleDown      ScalingEventKind = "scale_down"
	EventManualOverride ScalingEventKind = "manual_override"
)

// ScalingEvent is an append-only audit record.
type ScalingEvent struct {
	ID              string
	DeploymentID    string
	PolicyID        string // empty for manual overrides without a bound policy
	Kind            ScalingEventKind
	FromInstances   int
	ToInstances     int
	Reason          string
	MetricsSnapshot map[string]float64
	CreatedAt       time.Time
}

// ValidationIssue is one violation or warning surfaced by policy validation.
type ValidationIssue struct {
	Field   string
	Message string
	Fatal   bool // fatal issues reject the policy; non-fatal are warnings
}

// ValidationResult is the outcome of validating a ScalingPolicy.
type ValidationResult struct {
	Issues []ValidationIssue
}

// OK reports whether no fatal issue was found.
func (r ValidationResult) OK() bool {
	for _, i := range r.Issues {
		if i.Fatal {
			return false
		}
	}
	return true
}

// ResourceSample is one point in a deployment's usage ring.
type ResourceSample struct {
	Timestamp   time.Time
	CPUPercent  float64
	MemPercent  float64
	NetworkIO   float64
	DiskIO      float64
	CostPerHour float64
}

// MaxResourceSamples bounds the per-deployment ring (24h at 5-minute spacing).
const MaxResourceSamples = 288

// CostBreakdown splits a cost total into fixed-ratio buckets.
type CostBreakdown struct {
	Compute float64
	Storage float64
	Network float64
	Other   float64
}

// Analytics is the result of Optimizer.CostAnalytics.
type Analytics struct {
	DeploymentID string
	Start, End   time.Time
	SampleCount  int
	AvgCPU       float64
	AvgMemory    float64
	TotalCost    float64
	Breakdown    CostBreakdown
	Efficiency   float64
}

// RecommendationKind is one of the deterministic right-sizing rules.
type RecommendationKind string

const (
	RecDownsizeCPU      RecommendationKind = "downsize_cpu"
	RecDownsizeMemory   RecommendationKind = "downsize_memory"
	RecUpsizeCPU        RecommendationKind = "upsize_cpu"
	RecAggressivePolicy RecommendationKind = "aggressive_policy"
)

// Recommendation is one deterministic right-sizing suggestion.
type Recommendation struct {
	Kind                RecommendationKind
	Description         string
	EstimatedSavingsPct float64 // negative values are cost increases
}

// BudgetConfig pairs a monthly dollar limit with alert thresholds.
type BudgetConfig struct {
	DeploymentID    string
	MonthlyLimitUSD float64
	WarningPercent  float64
	CriticalPercent float64
}

// BudgetAlertLevel is the severity of a budget:alert event.
type BudgetAlertLevel string

const (
	BudgetWarning  BudgetAlertLevel = "warning"
	BudgetCritical BudgetAlertLevel = "critical"
)

// BudgetAlert is published over the WebSocket Gateway on threshold crossing.
type BudgetAlert struct {
	DeploymentID string
	Level        BudgetAlertLevel
	MonthToDate  float64
	Limit        float64
	Month        string // "2026-07", used for idempotence bookkeeping
}
