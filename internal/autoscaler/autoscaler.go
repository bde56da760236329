// Package autoscaler evaluates weighted metric thresholds on a tick and
// decides scale-up / scale-down / no-op for each deployment with an enabled
// policy.
package autoscaler

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/metricsfacade"
	"github.com/coderunner/controlplane/internal/store"
)

// normalizers converts each metric's raw units into [0,1].
var normalizers = map[domain.MetricKind]float64{
	domain.MetricCPU:          100,
	domain.MetricMemory:       100,
	domain.MetricErrorRate:    10,
	domain.MetricRequests:     1000,
	domain.MetricResponseTime: 5000,
}

// MetricsSource supplies the current raw metric values for one deployment.
// The core only reads this snapshot.
type MetricsSource interface {
	Snapshot(deploymentID string) map[domain.MetricKind]float64
}

// ScaleExecutor applies a target instance count through the sandbox
// collaborator.
type ScaleExecutor interface {
	Scale(ctx context.Context, sandboxHandle string, target int) error
}

// Config tunes the evaluation tick.
type Config struct {
	Tick time.Duration
}

// DefaultConfig returns the default 30s evaluation tick.
func DefaultConfig() Config {
	return Config{Tick: 30 * time.Second}
}

// Autoscaler is the Autoscaler component.
type Autoscaler struct {
	cfg     Config
	store   *store.DB
	metrics MetricsSource
	exec    ScaleExecutor
	now     func() time.Time

	mu sync.Mutex
}

// New creates an Autoscaler.
func New(cfg Config, db *store.DB, metrics MetricsSource, exec ScaleExecutor) *Autoscaler {
	return &Autoscaler{cfg: cfg, store: db, metrics: metrics, exec: exec, now: time.Now}
}

// CreatePolicy validates and persists a new scaling policy.
func (a *Autoscaler) CreatePolicy(p domain.ScalingPolicy) (*domain.ScalingPolicy, error) {
	result := Validate(p)
	if !result.OK() {
		return nil, domain.Classify(domain.CategoryValidation, fmt.Errorf("%v", result.Issues))
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Enabled = true
	if err := a.store.CreatePolicy(p); err != nil {
		return nil, domain.Classify(domain.CategoryDependency, err)
	}
	return &p, nil
}

// Validate checks a policy before it is persisted: fatal violations reject the
// policy, everything else is a non-fatal warning.
func Validate(p domain.ScalingPolicy) domain.ValidationResult {
	var issues []domain.ValidationIssue
	fatal := func(field, msg string) {
		issues = append(issues, domain.ValidationIssue{Field: field, Message: msg, Fatal: true})
	}
	warn := func(field, msg string) {
		issues = append(issues, domain.ValidationIssue{Field: field, Message: msg, Fatal: false})
	}

	if p.MinInstances < 1 {
		fatal("min_instances", "must be >= 1")
	}
	if p.MaxInstances < p.MinInstances {
		fatal("max_instances", "must be >= min_instances")
	}
	if p.ScaleUpThreshold < 0 || p.ScaleUpThreshold > 1 {
		fatal("scale_up_threshold", "must be in [0,1]")
	}
	if p.ScaleDownThreshold < 0 || p.ScaleDownThreshold > 1 {
		fatal("scale_down_threshold", "must be in [0,1]")
	}
	if p.ScaleUpThreshold <= p.ScaleDownThreshold {
		fatal("scale_up_threshold", "must be greater than scale_down_threshold")
	}
	if len(p.Thresholds) == 0 {
		fatal("thresholds", "at least one metric threshold is required")
	}

	seen := make(map[domain.MetricKind]bool)
	weightSum := 0.0
	for i, th := range p.Thresholds {
		field := fmt.Sprintf("thresholds[%d]", i)
		if th.Weight < 0 || th.Weight > 1 {
			fatal(field+".weight", "must be in [0,1]")
		}
		if th.Threshold < 0 || th.Threshold > 1 {
			fatal(field+".threshold", "must be in [0,1]")
		}
		if seen[th.Metric] {
			warn(field+".metric", "duplicate metric in policy")
		}
		seen[th.Metric] = true
		weightSum += th.Weight
	}

	if p.Cooldown < 60*time.Second {
		warn("cooldown", "below 60s may cause thrashing")
	}
	if p.Cooldown > time.Hour {
		warn("cooldown", "above 1h may under-react to load")
	}
	if p.MaxInstances > 100 {
		warn("max_instances", "above 100")
	}
	if math.Abs(weightSum-1) > 0.01 {
		warn("thresholds", "weights do not sum to 1 (+/- 0.01)")
	}
	if p.ScaleUpThreshold-p.ScaleDownThreshold < 0.2 {
		warn("scale_up_threshold", "gap to scale_down_threshold is below 0.2")
	}

	return domain.ValidationResult{Issues: issues}
}

// Evaluate scores a deployment's current metrics and returns a decision.
// It never mutates persistent state; cooldown bookkeeping happens in
// Execute and ManualScale.
func (a *Autoscaler) Evaluate(deploymentID string) (domain.Decision, error) {
	policy, err := a.store.GetPolicyByDeployment(deploymentID)
	if err != nil {
		return domain.Decision{}, domain.Classify(domain.CategoryNotFound, err)
	}
	if !policy.Enabled {
		return domain.Decision{Action: domain.ActionNoChange, Reason: "disabled"}, nil
	}

	dep, err := a.store.GetDeployment(deploymentID)
	if err != nil {
		return domain.Decision{}, domain.Classify(domain.CategoryNotFound, err)
	}

	if !policy.LastCooldownAt.IsZero() && a.now().Sub(policy.LastCooldownAt) < policy.Cooldown {
		remaining := policy.Cooldown - a.now().Sub(policy.LastCooldownAt)
		return domain.Decision{
			Action: domain.ActionNoChange,
			Reason: fmt.Sprintf("cooldown %ds remaining", int(remaining.Seconds())),
		}, nil
	}

	raw := a.metrics.Snapshot(deploymentID)
	score, confidence := score(policy.Thresholds, raw)

	current := dep.Instances
	decision := domain.Decision{Score: score, Confidence: confidence}

	switch {
	case score > policy.ScaleUpThreshold:
		target := current + 1
		if target > policy.MaxInstances {
			target = policy.MaxInstances
		}
		decision.TargetInstances = target
		if target > current {
			decision.Action = domain.ActionScaleUp
			decision.Reason = fmt.Sprintf("score %.2f > up %.2f", score, policy.ScaleUpThreshold)
		} else {
			decision.Action = domain.ActionNoChange
			decision.Reason = fmt.Sprintf("score %.2f > up %.2f but at max instances (%d)", score, policy.ScaleUpThreshold, policy.MaxInstances)
		}
	case score < policy.ScaleDownThreshold:
		target := current - 1
		if target < policy.MinInstances {
			target = policy.MinInstances
		}
		decision.TargetInstances = target
		if target < current {
			decision.Action = domain.ActionScaleDown
			decision.Reason = fmt.Sprintf("score %.2f < down %.2f", score, policy.ScaleDownThreshold)
		} else {
			decision.Action = domain.ActionNoChange
			decision.Reason = fmt.Sprintf("score %.2f < down %.2f but at min instances (%d)", score, policy.ScaleDownThreshold, policy.MinInstances)
		}
	default:
		decision.Action = domain.ActionNoChange
		decision.TargetInstances = current
		decision.Reason = fmt.Sprintf("score %.2f within [%.2f, %.2f]", score, policy.ScaleDownThreshold, policy.ScaleUpThreshold)
	}
	return decision, nil
}

// score computes the weighted threshold score and its confidence.
func score(thresholds []domain.MetricThreshold, raw map[domain.MetricKind]float64) (float64, float64) {
	if len(thresholds) == 0 {
		return 0, 0
	}
	var weightedSum, weightTotal float64
	triggered := 0
	for _, th := range thresholds {
		normalized := normalize(th.Metric, raw[th.Metric])
		isTriggered := compare(normalized, th.Comparison, th.Threshold)
		var contribution float64
		if isTriggered {
			triggered++
			contribution = (normalized + math.Abs(normalized-th.Threshold)*0.5) * th.Weight
		} else {
			contribution = normalized * th.Weight * 0.5
		}
		weightedSum += contribution
		weightTotal += th.Weight
	}
	if weightTotal == 0 {
		return 0, 0
	}
	return weightedSum / weightTotal, float64(triggered) / float64(len(thresholds))
}

func normalize(metric domain.MetricKind, value float64) float64 {
	div, ok := normalizers[metric]
	if !ok || div == 0 {
		div = 1
	}
	n := value / div
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func compare(value float64, cmp domain.Comparison, threshold float64) bool {
	switch cmp {
	case domain.CompareGT:
		return value > threshold
	case domain.CompareGTE:
		return value >= threshold
	case domain.CompareLT:
		return value < threshold
	case domain.CompareLTE:
		return value <= threshold
	default:
		return false
	}
}

// ManualScale bypasses cooldown, records a manual_override event, and clears
// the cooldown timestamp.
func (a *Autoscaler) ManualScale(ctx context.Context, deploymentID string, target int, reason string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dep, err := a.store.GetDeployment(deploymentID)
	if err != nil {
		return false, domain.Classify(domain.CategoryNotFound, err)
	}
	if err := a.exec.Scale(ctx, dep.SandboxHandle, target); err != nil {
		return false, domain.Classify(domain.CategoryDependency, err)
	}

	from := dep.Instances
	dep.Instances = target
	dep.UpdatedAt = a.now()
	if err := a.store.UpdateDeployment(*dep); err != nil {
		return false, domain.Classify(domain.CategoryDependency, err)
	}

	policy, err := a.store.GetPolicyByDeployment(deploymentID)
	policyID := ""
	if err == nil {
		policy.LastCooldownAt = time.Time{}
		_ = a.store.UpdatePolicy(*policy)
		policyID = policy.ID
	}

	metricsfacade.ScalingActionsTotal.WithLabelValues(string(domain.EventManualOverride)).Inc()
	return true, a.store.AppendScalingEvent(domain.ScalingEvent{
		ID:            uuid.NewString(),
		DeploymentID:  deploymentID,
		PolicyID:      policyID,
		Kind:          domain.EventManualOverride,
		FromInstances: from,
		ToInstances:   target,
		Reason:        "manual override: " + reason,
		CreatedAt:     a.now(),
	})
}

// Execute runs a non-manual decision: applies it through the sandbox
// collaborator, persists the new instance count, records the cooldown, and
// appends a ScalingEvent. No-op decisions are not executed.
func (a *Autoscaler) Execute(ctx context.Context, deploymentID string, decision domain.Decision, snapshot map[string]float64) error {
	if decision.Action == domain.ActionNoChange {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dep, err := a.store.GetDeployment(deploymentID)
	if err != nil {
		return domain.Classify(domain.CategoryNotFound, err)
	}
	policy, err := a.store.GetPolicyByDeployment(deploymentID)
	if err != nil {
		return domain.Classify(domain.CategoryNotFound, err)
	}

	if err := a.exec.Scale(ctx, dep.SandboxHandle, decision.TargetInstances); err != nil {
		return domain.Classify(domain.CategoryDependency, err)
	}

	from := dep.Instances
	dep.Instances = decision.TargetInstances
	dep.UpdatedAt = a.now()
	if err := a.store.UpdateDeployment(*dep); err != nil {
		return domain.Classify(domain.CategoryDependency, err)
	}

	policy.LastCooldownAt = a.now()
	if err := a.store.UpdatePolicy(*policy); err != nil {
		return domain.Classify(domain.CategoryDependency, err)
	}

	kind := domain.EventScaleUp
	if decision.Action == domain.ActionScaleDown {
		kind = domain.EventScaleDown
	}
	metricsfacade.ScalingActionsTotal.WithLabelValues(string(kind)).Inc()
	return a.store.AppendScalingEvent(domain.ScalingEvent{
		ID:              uuid.NewString(),
		DeploymentID:    deploymentID,
		PolicyID:        policy.ID,
		Kind:            kind,
		FromInstances:   from,
		ToInstances:     decision.TargetInstances,
		Reason:          decision.Reason,
		MetricsSnapshot: snapshot,
		CreatedAt:       a.now(),
	})
}

// Run evaluates every enabled policy on cfg.Tick until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context, deploymentIDs func() []string) {
	ticker := time.NewTicker(a.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range deploymentIDs() {
				decision, err := a.Evaluate(id)
				if err != nil {
					continue
				}
				raw := a.metrics.Snapshot(id)
				snapshot := make(map[string]float64, len(raw))
				for k, v := range raw {
					snapshot[string(k)] = v
				}
				if err := a.Execute(ctx, id, decision, snapshot); err != nil {
					log.Printf("[autoscaler] abandoned %s for %s: %v", decision.Action, id, err)
				}
			}
		}
	}
}
