package autoscaler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/store"
)

type fakeMetrics struct {
	values map[string]map[domain.MetricKind]float64
}

func (f fakeMetrics) Snapshot(deploymentID string) map[domain.MetricKind]float64 {
	return f.values[deploymentID]
}

type recordingExecutor struct {
	calls []int
	err   error
}

func (r *recordingExecutor) Scale(ctx context.Context, sandboxHandle string, target int) error {
	r.calls = append(r.calls, target)
	return r.err
}

func seedDeploymentAndPolicy(t *testing.T, db *store.DB, depID string, instances int, policy domain.ScalingPolicy) {
	t.Helper()
	now := time.Now()
	if err := db.CreateUser(domain.User{ID: "u1", Email: "u1@example.com", CreatedAt: now}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := db.CreateProject(domain.Project{ID: "p1", UserID: "u1", Name: "proj", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	dep := domain.Deployment{
		ID: depID, ProjectID: "p1", UserID: "u1", Status: domain.StatusRunning,
		RuntimeKind: domain.RuntimeGenericNode, Instances: instances,
		CreatedAt: now, UpdatedAt: now, LastActivityAt: now,
	}
	if err := db.CreateDeployment(dep); err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}
	policy.DeploymentID = depID
	if policy.ID == "" {
		policy.ID = depID + "-policy"
	}
	if err := db.CreatePolicy(policy); err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	result := Validate(domain.ScalingPolicy{
		MinInstances: 0, MaxInstances: 5, ScaleUpThreshold: 0.3, ScaleDownThreshold: 0.7,
	})
	if result.OK() {
		t.Fatal("expected validation failure")
	}
}

func TestValidateAcceptsWarningsOnly(t *testing.T) {
	result := Validate(domain.ScalingPolicy{
		MinInstances: 1, MaxInstances: 5, ScaleUpThreshold: 0.7, ScaleDownThreshold: 0.3,
		Cooldown: 10 * time.Second, // triggers a warning, not fatal
		Thresholds: []domain.MetricThreshold{
			{Metric: domain.MetricCPU, Threshold: 0.7, Comparison: domain.CompareGT, Weight: 1},
		},
	})
	if !result.OK() {
		t.Fatalf("expected OK with warnings only, got %+v", result.Issues)
	}
}

func TestEvaluateScaleUpScenario(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()

	policy := domain.ScalingPolicy{
		Thresholds: []domain.MetricThreshold{
			{Metric: domain.MetricCPU, Threshold: 0.7, Comparison: domain.CompareGT, Weight: 0.5},
			{Metric: domain.MetricResponseTime, Threshold: 0.5, Comparison: domain.CompareGT, Weight: 0.5},
		},
		ScaleUpThreshold: 0.7, ScaleDownThreshold: 0.3, Cooldown: 300 * time.Second,
		MinInstances: 1, MaxInstances: 5, Enabled: true,
	}
	seedDeploymentAndPolicy(t, db, "d1", 2, policy)

	metrics := fakeMetrics{values: map[string]map[domain.MetricKind]float64{
		"d1": {domain.MetricCPU: 85, domain.MetricResponseTime: 4000},
	}}
	exec := &recordingExecutor{}
	a := New(DefaultConfig(), db, metrics, exec)

	decision, err := a.Evaluate("d1")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Action != domain.ActionScaleUp {
		t.Errorf("Action = %s, want scale_up", decision.Action)
	}
	if decision.TargetInstances != 3 {
		t.Errorf("TargetInstances = %d, want 3", decision.TargetInstances)
	}
	if decision.Score < 0.9 {
		t.Errorf("Score = %f, want >= 0.9", decision.Score)
	}
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()

	policy := domain.ScalingPolicy{
		Thresholds: []domain.MetricThreshold{
			{Metric: domain.MetricCPU, Threshold: 0.7, Comparison: domain.CompareGT, Weight: 1},
		},
		ScaleUpThreshold: 0.7, ScaleDownThreshold: 0.3, Cooldown: 300 * time.Second,
		MinInstances: 1, MaxInstances: 5, Enabled: true, LastCooldownAt: time.Now(),
	}
	seedDeploymentAndPolicy(t, db, "d1", 2, policy)

	metrics := fakeMetrics{values: map[string]map[domain.MetricKind]float64{
		"d1": {domain.MetricCPU: 95},
	}}
	a := New(DefaultConfig(), db, metrics, &recordingExecutor{})

	decision, err := a.Evaluate("d1")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Action != domain.ActionNoChange || !strings.HasPrefix(decision.Reason, "cooldown ") {
		t.Errorf("Decision = %+v, want no_change/cooldown <n>s remaining", decision)
	}
}

func TestEvaluateAtMinInstancesNoChange(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()

	policy := domain.ScalingPolicy{
		Thresholds: []domain.MetricThreshold{
			{Metric: domain.MetricCPU, Threshold: 0.7, Comparison: domain.CompareGT, Weight: 1},
		},
		ScaleUpThreshold: 0.7, ScaleDownThreshold: 0.3, Cooldown: 300 * time.Second,
		MinInstances: 1, MaxInstances: 5, Enabled: true,
	}
	seedDeploymentAndPolicy(t, db, "d1", 1, policy)

	metrics := fakeMetrics{values: map[string]map[domain.MetricKind]float64{
		"d1": {domain.MetricCPU: 5},
	}}
	a := New(DefaultConfig(), db, metrics, &recordingExecutor{})

	decision, err := a.Evaluate("d1")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Action != domain.ActionNoChange {
		t.Errorf("Action = %s, want no_change at min instances", decision.Action)
	}
}

func TestManualScaleBypassesCooldownAndClearsIt(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()

	policy := domain.ScalingPolicy{
		Thresholds: []domain.MetricThreshold{
			{Metric: domain.MetricCPU, Threshold: 0.7, Comparison: domain.CompareGT, Weight: 1},
		},
		ScaleUpThreshold: 0.7, ScaleDownThreshold: 0.3, Cooldown: 300 * time.Second,
		MinInstances: 1, MaxInstances: 5, Enabled: true, LastCooldownAt: time.Now(),
	}
	seedDeploymentAndPolicy(t, db, "d1", 2, policy)

	exec := &recordingExecutor{}
	a := New(DefaultConfig(), db, fakeMetrics{}, exec)

	ok, err := a.ManualScale(context.Background(), "d1", 4, "operator request")
	if err != nil || !ok {
		t.Fatalf("ManualScale() = (%v, %v)", ok, err)
	}
	if len(exec.calls) != 1 || exec.calls[0] != 4 {
		t.Errorf("executor calls = %v, want [4]", exec.calls)
	}

	dep, err := db.GetDeployment("d1")
	if err != nil {
		t.Fatalf("GetDeployment() error = %v", err)
	}
	if dep.Instances != 4 {
		t.Errorf("Instances = %d, want 4", dep.Instances)
	}

	p, err := db.GetPolicyByDeployment("d1")
	if err != nil {
		t.Fatalf("GetPolicyByDeployment() error = %v", err)
	}
	if !p.LastCooldownAt.IsZero() {
		t.Error("LastCooldownAt should be cleared by a manual override")
	}

	events, err := db.ListScalingEvents("d1", 10, 0)
	if err != nil {
		t.Fatalf("ListScalingEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != domain.EventManualOverride {
		t.Errorf("events = %+v, want one manual_override", events)
	}
}

func TestExecuteRecordsCooldownAndEvent(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()

	policy := domain.ScalingPolicy{
		Thresholds: []domain.MetricThreshold{
			{Metric: domain.MetricCPU, Threshold: 0.7, Comparison: domain.CompareGT, Weight: 1},
		},
		ScaleUpThreshold: 0.7, ScaleDownThreshold: 0.3, Cooldown: 300 * time.Second,
		MinInstances: 1, MaxInstances: 5, Enabled: true,
	}
	seedDeploymentAndPolicy(t, db, "d1", 2, policy)

	a := New(DefaultConfig(), db, fakeMetrics{}, &recordingExecutor{})
	decision := domain.Decision{Action: domain.ActionScaleUp, TargetInstances: 3, Reason: "test"}

	if err := a.Execute(context.Background(), "d1", decision, map[string]float64{"cpu": 0.85}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	p, err := db.GetPolicyByDeployment("d1")
	if err != nil {
		t.Fatalf("GetPolicyByDeployment() error = %v", err)
	}
	if p.LastCooldownAt.IsZero() {
		t.Error("LastCooldownAt should be set after a successful scale")
	}

	events, err := db.ListScalingEvents("d1", 10, 0)
	if err != nil {
		t.Fatalf("ListScalingEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].ToInstances != 3 {
		t.Errorf("events = %+v, want one scale_up to 3", events)
	}
}
