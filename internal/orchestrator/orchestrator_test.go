package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/sandbox"
	"github.com/coderunner/controlplane/internal/store"
)

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) PublishStatus(deploymentID string, status, previous domain.DeploymentStatus) {
	r.events = append(r.events, string(previous)+"->"+string(status))
}

type recordingLogs struct {
	entries []domain.LogEntry
}

func (r *recordingLogs) Append(e domain.LogEntry) { r.entries = append(r.entries, e) }

func newTestOrchestrator(t *testing.T, provider *sandbox.MockProvider) (*Orchestrator, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cfg := DefaultConfig()
	cfg.MaxConcurrentPerUser = 2
	o := New(cfg, db, provider, &recordingLogs{}, &recordingNotifier{})
	return o, db
}

func genericFiles() []domain.FileEntry {
	return []domain.FileEntry{
		{Path: "index.js", Content: []byte("console.log('hi')")},
		{Path: "package.json", Content: []byte("{}")},
	}
}

func TestDeploySuccessReachesRunning(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if dep.Status != domain.StatusRunning {
		t.Errorf("Status = %s, want running", dep.Status)
	}
	if dep.PublicURL == "" {
		t.Error("PublicURL is empty")
	}
	if dep.SandboxHandle == "" {
		t.Error("SandboxHandle is empty")
	}
	if dep.RuntimeKind != domain.RuntimeGenericNode {
		t.Errorf("RuntimeKind = %s, want generic_node", dep.RuntimeKind)
	}
}

func TestDeployManifestClassification(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	files := []domain.FileEntry{
		{Path: "manifest.yaml", Content: []byte(`
entities:
  - name: Post
    fields:
      - name: title
        type: text
        required: true
      - name: body
        type: longtext
`)},
		{Path: "README.md", Content: []byte("custom readme")},
	}

	dep, err := o.Deploy(context.Background(), "u1", files, domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if dep.RuntimeKind != domain.RuntimeManifestGenerated {
		t.Errorf("RuntimeKind = %s, want manifest_generated", dep.RuntimeKind)
	}
	if dep.Status != domain.StatusRunning {
		t.Errorf("Status = %s, want running", dep.Status)
	}
}

func TestDeployInstallFailureTransitionsToFailed(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.RunHook = func(handle, cmd string) (sandbox.CommandResult, error) {
		if cmd == "npm install" {
			return sandbox.CommandResult{ExitCode: 1, Stderr: "boom"}, nil
		}
		return sandbox.CommandResult{PID: 1}, nil
	}
	o, _ := newTestOrchestrator(t, provider)
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	o.cfg = cfg

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err == nil {
		t.Fatal("Deploy() error = nil, want non-nil")
	}
	if dep.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", dep.Status)
	}
	if dep.SandboxHandle != "" {
		t.Error("SandboxHandle should be cleared on failure")
	}
}

func TestEnforceUserLimitReapsOldest(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)
	ctx := context.Background()

	d1, err := o.Deploy(ctx, "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy(d1) error = %v", err)
	}
	d2, err := o.Deploy(ctx, "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy(d2) error = %v", err)
	}
	d3, err := o.Deploy(ctx, "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy(d3) error = %v", err)
	}

	got1, err := o.store.GetDeployment(d1.ID)
	if err != nil {
		t.Fatalf("GetDeployment(d1) error = %v", err)
	}
	if got1.Status != domain.StatusDestroyed {
		t.Errorf("d1 status = %s, want destroyed (reaped under user cap)", got1.Status)
	}

	got2, _ := o.store.GetDeployment(d2.ID)
	got3, _ := o.store.GetDeployment(d3.ID)
	if got2.Status.IsTerminal() {
		t.Error("d2 should still be live")
	}
	if got3.Status.IsTerminal() {
		t.Error("d3 should still be live")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	ok1, err := o.Cancel(dep.ID)
	if err != nil || !ok1 {
		t.Fatalf("Cancel() first call = (%v, %v)", ok1, err)
	}
	ok2, err := o.Cancel(dep.ID)
	if err != nil || !ok2 {
		t.Fatalf("Cancel() second call = (%v, %v)", ok2, err)
	}

	got, _ := o.store.GetDeployment(dep.ID)
	if got.Status != domain.StatusDestroyed {
		t.Errorf("Status = %s, want destroyed", got.Status)
	}
}

func TestMonitorNotFound(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	_, err := o.Monitor("missing")
	if !errors.Is(err, domain.ErrDeploymentNotFound) {
		t.Errorf("Monitor() error = %v, want wrapping ErrDeploymentNotFound", err)
	}
}

type fakeHealth struct{ overall domain.OverallStatus }

func (f fakeHealth) Report() domain.HealthReport {
	return domain.HealthReport{Overall: f.overall}
}

type fakeMetricsSource struct{ values map[domain.MetricKind]float64 }

func (f fakeMetricsSource) Snapshot(deploymentID string) map[domain.MetricKind]float64 {
	return f.values
}

type fakeLogReader struct{ entries []domain.LogEntry }

func (f fakeLogReader) Recent(deploymentID string, n int) []domain.LogEntry {
	return f.entries
}

func TestMonitorPopulatesSnapshot(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	o.SetHealth(fakeHealth{overall: domain.OverallDegraded})
	o.SetMetricsSource(fakeMetricsSource{values: map[domain.MetricKind]float64{domain.MetricCPU: 42}})
	wantLogs := []domain.LogEntry{{DeploymentID: dep.ID, Message: "hello", Sequence: 0}}
	o.SetLogReader(fakeLogReader{entries: wantLogs})

	snap, err := o.Monitor(dep.ID)
	if err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
	if snap.Health != string(domain.OverallDegraded) {
		t.Errorf("Health = %q, want %q", snap.Health, domain.OverallDegraded)
	}
	if snap.MetricsSnap[string(domain.MetricCPU)] != 42 {
		t.Errorf("MetricsSnap[cpu] = %v, want 42", snap.MetricsSnap[string(domain.MetricCPU)])
	}
	if len(snap.RecentLogs) != 1 || snap.RecentLogs[0].Message != "hello" {
		t.Errorf("RecentLogs = %+v, want one entry with message %q", snap.RecentLogs, "hello")
	}
}

func TestCleanupSandboxesReapsTerminalDeployment(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	sandboxID := dep.SandboxHandle

	// Simulate a stop without a full cancel so the sweep has to reap it.
	stored, _ := o.store.GetDeployment(dep.ID)
	_ = o.transition(stored, domain.StatusStopped)
	_ = o.transition(stored, domain.StatusDestroyed)

	report := o.CleanupSandboxes(domain.CleanupFilter{})
	if report.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", report.Count())
	}
	if !provider.Destroyed(sandboxID) {
		t.Error("sandbox should be destroyed by the sweep")
	}
}

func TestCleanupSandboxesForceIgnoresAgeAndIdle(t *testing.T) {
	provider := sandbox.NewMockProvider()
	o, _ := newTestOrchestrator(t, provider)

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	report := o.CleanupSandboxes(domain.CleanupFilter{Force: true, UserID: "u1"})
	if report.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", report.Count())
	}
	got, _ := o.store.GetDeployment(dep.ID)
	if got.Status != domain.StatusDestroyed {
		t.Errorf("Status = %s, want destroyed", got.Status)
	}
}

func TestResourceFailureDuringProvisioningFallsBackThenRetries(t *testing.T) {
	provider := sandbox.NewMockProvider()
	attempts := 0
	firstTemplate := ""
	o, _ := newTestOrchestrator(t, provider)

	// Wrap the provider with a thin shim that fails the first Create with a
	// resource error, then succeeds, to exercise the fallback-then-retry path.
	o.provider = &fallbackOnceProvider{
		inner: provider,
		onCreate: func(template string) {
			attempts++
			if attempts == 1 {
				firstTemplate = template
			}
		},
	}

	dep, err := o.Deploy(context.Background(), "u1", genericFiles(), domain.DeployConfig{})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if dep.Status != domain.StatusRunning {
		t.Errorf("Status = %s, want running", dep.Status)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (one resource failure, one fallback retry)", attempts)
	}
	if firstTemplate != templateGeneric {
		t.Errorf("first attempted template = %q, want %q", firstTemplate, templateGeneric)
	}
}

// fallbackOnceProvider fails the first Create with a resource error so tests
// can exercise the provisioning fallback-then-retry path deterministically.
type fallbackOnceProvider struct {
	inner    sandbox.Provider
	calls    int
	onCreate func(template string)
}

func (p *fallbackOnceProvider) Create(ctx context.Context, template string) (sandbox.Handle, error) {
	if p.onCreate != nil {
		p.onCreate(template)
	}
	if p.calls == 0 {
		p.calls++
		return nil, domain.Classify(domain.CategoryResource, errors.New("sandbox capacity exhausted"))
	}
	return p.inner.Create(ctx, template)
}
