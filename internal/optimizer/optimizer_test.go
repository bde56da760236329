package optimizer

import (
	"testing"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/store"
)

type fakeSampler struct {
	samples map[string]domain.ResourceSample
}

func (f fakeSampler) Sample(deploymentID string) domain.ResourceSample {
	return f.samples[deploymentID]
}

type recordingBudgetPublisher struct {
	alerts []domain.BudgetAlert
}

func (r *recordingBudgetPublisher) PublishBudgetAlert(alert domain.BudgetAlert) {
	r.alerts = append(r.alerts, alert)
}

func seedDeployment(t *testing.T, db *store.DB, id string) {
	t.Helper()
	now := time.Now()
	if err := db.CreateUser(domain.User{ID: "u1", Email: "u1@example.com", CreatedAt: now}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := db.CreateProject(domain.Project{ID: "p1", UserID: "u1", Name: "proj", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	dep := domain.Deployment{
		ID: id, ProjectID: "p1", UserID: "u1", Status: domain.StatusRunning,
		RuntimeKind: domain.RuntimeGenericNode, Instances: 1,
		CreatedAt: now, UpdatedAt: now, LastActivityAt: now,
	}
	if err := db.CreateDeployment(dep); err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}
}

func TestEfficiencyFormula(t *testing.T) {
	if got := efficiency(0.75, 0.75); got != 1 {
		t.Errorf("efficiency(0.75, 0.75) = %f, want 1", got)
	}
	if got := efficiency(0, 0); got >= 1 {
		t.Errorf("efficiency(0, 0) = %f, want < 1", got)
	}
}

func TestCostAnalyticsAveragesAndBreaksDownCost(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	seedDeployment(t, db, "d1")

	base := time.Now().Add(-time.Hour)
	samples := []domain.ResourceSample{
		{Timestamp: base, CPUPercent: 70, MemPercent: 80, CostPerHour: 1.0},
		{Timestamp: base.Add(30 * time.Minute), CPUPercent: 80, MemPercent: 70, CostPerHour: 1.0},
	}
	for _, s := range samples {
		if err := db.AppendResourceSample("d1", s); err != nil {
			t.Fatalf("AppendResourceSample() error = %v", err)
		}
	}

	o := New(db, fakeSampler{}, nil)
	analytics, err := o.CostAnalytics("d1", base.Add(-time.Minute), time.Now())
	if err != nil {
		t.Fatalf("CostAnalytics() error = %v", err)
	}
	if analytics.SampleCount != 2 {
		t.Fatalf("SampleCount = %d, want 2", analytics.SampleCount)
	}
	if analytics.AvgCPU != 75 || analytics.AvgMemory != 75 {
		t.Errorf("AvgCPU/AvgMemory = %f/%f, want 75/75", analytics.AvgCPU, analytics.AvgMemory)
	}
	if analytics.TotalCost != 2.0 {
		t.Errorf("TotalCost = %f, want 2.0", analytics.TotalCost)
	}
	if analytics.Breakdown.Compute != 1.4 {
		t.Errorf("Breakdown.Compute = %f, want 1.4", analytics.Breakdown.Compute)
	}
}

func TestRecommendationsAppliesThresholdRules(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	seedDeployment(t, db, "d1")

	now := time.Now()
	if err := db.AppendResourceSample("d1", domain.ResourceSample{
		Timestamp: now.Add(-time.Hour), CPUPercent: 10, MemPercent: 20, CostPerHour: 0.5,
	}); err != nil {
		t.Fatalf("AppendResourceSample() error = %v", err)
	}

	o := New(db, fakeSampler{}, nil)
	recs, err := o.Recommendations("d1")
	if err != nil {
		t.Fatalf("Recommendations() error = %v", err)
	}

	var gotDownsizeCPU, gotDownsizeMem, gotAggressive bool
	for _, r := range recs {
		switch r.Kind {
		case domain.RecDownsizeCPU:
			gotDownsizeCPU = true
		case domain.RecDownsizeMemory:
			gotDownsizeMem = true
		case domain.RecAggressivePolicy:
			gotAggressive = true
		}
	}
	if !gotDownsizeCPU || !gotDownsizeMem || !gotAggressive {
		t.Errorf("recs = %+v, want downsize_cpu, downsize_memory, and aggressive_policy", recs)
	}
}

func TestRecommendationsUpsizesHotDeployment(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	seedDeployment(t, db, "d1")

	now := time.Now()
	if err := db.AppendResourceSample("d1", domain.ResourceSample{
		Timestamp: now.Add(-time.Hour), CPUPercent: 95, MemPercent: 75, CostPerHour: 0.5,
	}); err != nil {
		t.Fatalf("AppendResourceSample() error = %v", err)
	}

	o := New(db, fakeSampler{}, nil)
	recs, err := o.Recommendations("d1")
	if err != nil {
		t.Fatalf("Recommendations() error = %v", err)
	}
	found := false
	for _, r := range recs {
		if r.Kind == domain.RecUpsizeCPU {
			found = true
			if r.EstimatedSavingsPct != -30 {
				t.Errorf("EstimatedSavingsPct = %f, want -30", r.EstimatedSavingsPct)
			}
		}
	}
	if !found {
		t.Errorf("recs = %+v, want upsize_cpu", recs)
	}
}

func TestTrackUsageFiresIdempotentBudgetAlert(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	seedDeployment(t, db, "d1")

	publisher := &recordingBudgetPublisher{}
	now := time.Now()
	sampler := fakeSampler{samples: map[string]domain.ResourceSample{
		"d1": {Timestamp: now, CPUPercent: 50, MemPercent: 50, CostPerHour: 1000},
	}}
	o := New(db, sampler, publisher)
	o.now = func() time.Time { return now }
	o.SetBudget(domain.BudgetConfig{DeploymentID: "d1", MonthlyLimitUSD: 100, WarningPercent: 80, CriticalPercent: 100})

	if err := o.TrackUsage("d1"); err != nil {
		t.Fatalf("TrackUsage() error = %v", err)
	}
	if err := o.TrackUsage("d1"); err != nil {
		t.Fatalf("TrackUsage() error = %v", err)
	}

	if len(publisher.alerts) != 1 {
		t.Fatalf("alerts = %+v, want exactly one (idempotent per threshold per month)", publisher.alerts)
	}
	if publisher.alerts[0].Level != domain.BudgetCritical {
		t.Errorf("Level = %s, want critical", publisher.alerts[0].Level)
	}
}
