// Package orchestrator drives the deployment state machine: it owns
// sandbox handles and deployment metadata, enforces per-user concurrency
// limits, runs the upload/install/start pipeline, and reaps idle or
// orphaned sandboxes on a periodic sweep.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/metricsfacade"
	"github.com/coderunner/controlplane/internal/sandbox"
	"github.com/coderunner/controlplane/internal/scaffold"
	"github.com/coderunner/controlplane/internal/store"
)

const (
	templateGeneric  = "node-generic"
	templateManifest = "node-manifest"
	templateFallback = "node-lite" // lesser-resource template used on a provisioning resource fallback

	defaultDeployTimeout = 5 * time.Minute
	defaultMaxRetries    = 3
)

// LogAppender is the narrow slice of LogHub the orchestrator depends on to
// forward sandbox stdout/stderr and lifecycle events.
type LogAppender interface {
	Append(entry domain.LogEntry)
}

// StatusNotifier is the narrow slice of the WebSocket Gateway the
// orchestrator depends on to emit `status` frames on every transition.
type StatusNotifier interface {
	PublishStatus(deploymentID string, status, previousStatus domain.DeploymentStatus)
}

// HealthReporter is the narrow slice of the HealthSupervisor Monitor reads
// to populate the snapshot's overall health.
type HealthReporter interface {
	Report() domain.HealthReport
}

// MetricsSnapshotter is the narrow slice of the Metrics facade Monitor reads
// to populate the snapshot's metrics_snapshot.
type MetricsSnapshotter interface {
	Snapshot(deploymentID string) map[domain.MetricKind]float64
}

// LogReader is the narrow slice of LogHub Monitor reads to populate the
// snapshot's recent_logs.
type LogReader interface {
	Recent(deploymentID string, n int) []domain.LogEntry
}

// recentLogsForMonitor is the number of log entries Monitor surfaces per
// deployment, matching LogHub.Recent's own default.
const recentLogsForMonitor = 50

// Config tunes the per-user limit and reaper thresholds.
type Config struct {
	MaxConcurrentPerUser int
	SandboxMaxAge        time.Duration
	SandboxMaxIdle       time.Duration
	MaxRetries           int
}

// DefaultConfig returns the default per-user cap and reaper thresholds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerUser: 5,
		SandboxMaxAge:        24 * time.Hour,
		SandboxMaxIdle:       2 * time.Hour,
		MaxRetries:           defaultMaxRetries,
	}
}

// Orchestrator is the Orchestrator component.
type Orchestrator struct {
	cfg      Config
	store    *store.DB
	provider sandbox.Provider
	logs     LogAppender
	status   StatusNotifier
	now      func() time.Time

	mu      sync.Mutex
	handles map[string]sandbox.Handle // deployment_id -> live handle; lost on restart

	health        HealthReporter
	metricsSource MetricsSnapshotter
	logReader     LogReader
}

// New creates an Orchestrator. logs and status may be nil in tests that do
// not exercise the log-forwarding or WebSocket-notification paths.
func New(cfg Config, db *store.DB, provider sandbox.Provider, logs LogAppender, status StatusNotifier) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    db,
		provider: provider,
		logs:     logs,
		status:   status,
		now:      time.Now,
		handles:  make(map[string]sandbox.Handle),
	}
}

// SetHealth wires the HealthSupervisor Monitor reads overall health from.
// Optional; Monitor reports an empty health string until set.
func (o *Orchestrator) SetHealth(h HealthReporter) { o.health = h }

// SetMetricsSource wires the Metrics facade Monitor reads the per-deployment
// metrics snapshot from. Optional; Monitor reports a nil snapshot until set.
func (o *Orchestrator) SetMetricsSource(m MetricsSnapshotter) { o.metricsSource = m }

// SetLogReader wires the LogHub Monitor reads recent logs from. Optional;
// Monitor reports no recent logs until set.
func (o *Orchestrator) SetLogReader(l LogReader) { o.logReader = l }

// classifyProject inspects the uploaded file set for a manifest and returns
// the runtime kind plus, for a manifest project, the merged file set.
func classifyProject(files []domain.FileEntry) (domain.RuntimeKind, []domain.FileEntry, error) {
	var manifestContent []byte
	for _, f := range files {
		if f.Path == "manifest.yaml" || f.Path == "manifest.yml" {
			manifestContent = f.Content
			break
		}
	}
	if manifestContent == nil {
		return domain.RuntimeGenericNode, files, nil
	}

	m, err := parseManifest(manifestContent)
	if err != nil {
		return "", nil, domain.Classify(domain.CategoryValidation, err)
	}
	generated := scaffold.Generate(m)
	merged := scaffold.Merge(generated, files)
	return domain.RuntimeManifestGenerated, merged, nil
}

func templateFor(kind domain.RuntimeKind) string {
	if kind == domain.RuntimeManifestGenerated {
		return templateManifest
	}
	return templateGeneric
}

// Deploy provisions, builds, and starts a sandbox for userID's uploaded
// files, blocking until the deployment reaches running or fails.
func (o *Orchestrator) Deploy(ctx context.Context, userID string, files []domain.FileEntry, cfg domain.DeployConfig) (*domain.Deployment, error) {
	if cfg.Port == 0 {
		cfg.Port = domain.DefaultPort
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultDeployTimeout
	}
	deployCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := o.enforceUserLimit(userID); err != nil {
		return nil, err
	}

	kind, uploadFiles, err := classifyProject(files)
	if err != nil {
		return nil, err
	}

	project, err := o.ensureProject(userID)
	if err != nil {
		return nil, domain.Classify(domain.CategoryDependency, err)
	}

	now := o.now()
	dep := domain.Deployment{
		ID:             uuid.NewString(),
		ProjectID:      project.ID,
		UserID:         userID,
		Status:         domain.StatusPending,
		RuntimeKind:    kind,
		Instances:      1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := o.store.CreateDeployment(dep); err != nil {
		return nil, domain.Classify(domain.CategoryDependency, err)
	}
	metricsfacade.DeploymentsCreated.Inc()
	metricsfacade.DeploymentsActive.Inc()

	err = o.runPipeline(deployCtx, &dep, uploadFiles, cfg, timeout)
	metricsfacade.DeploymentPipelineLatency.Observe(o.now().Sub(now).Seconds())
	if err != nil {
		o.failDeployment(&dep, err)
		return &dep, err
	}
	return &dep, nil
}

// Monitor returns the current read-model for a deployment: status, overall
// health, a metrics snapshot, and recent logs.
func (o *Orchestrator) Monitor(deploymentID string) (*domain.DeploymentSnapshot, error) {
	dep, err := o.store.GetDeployment(deploymentID)
	if err != nil {
		return nil, domain.Classify(domain.CategoryNotFound, err)
	}
	dep.LastActivityAt = o.now()
	_ = o.store.TouchDeployment(deploymentID, dep.LastActivityAt)
	snap := &domain.DeploymentSnapshot{Deployment: *dep}
	if o.health != nil {
		snap.Health = string(o.health.Report().Overall)
	}
	if o.metricsSource != nil {
		raw := o.metricsSource.Snapshot(deploymentID)
		snap.MetricsSnap = make(map[string]float64, len(raw))
		for k, v := range raw {
			snap.MetricsSnap[string(k)] = v
		}
	}
	if o.logReader != nil {
		snap.RecentLogs = o.logReader.Recent(deploymentID, recentLogsForMonitor)
	}
	return snap, nil
}

// Cancel transitions a deployment to destroyed; idempotent.
func (o *Orchestrator) Cancel(deploymentID string) (bool, error) {
	dep, err := o.store.GetDeployment(deploymentID)
	if err != nil {
		return false, domain.Classify(domain.CategoryNotFound, err)
	}
	if dep.Status.IsTerminal() {
		return true, nil
	}
	o.releaseHandle(deploymentID)
	dep.SandboxHandle = ""
	if err := o.transition(dep, domain.StatusDestroyed); err != nil {
		return false, err
	}
	return true, nil
}

// transition persists a status change before publishing it in memory,
// so readers never observe a state that was not durably recorded.
func (o *Orchestrator) transition(dep *domain.Deployment, to domain.DeploymentStatus) error {
	if !domain.CanTransition(dep.Status, to) {
		return domain.Classify(domain.CategoryInvariant, domain.ErrInvalidTransition)
	}
	previous := dep.Status
	dep.PreviousStatus = previous
	dep.Status = to
	dep.UpdatedAt = o.now()
	if err := o.store.UpdateDeployment(*dep); err != nil {
		dep.Status = previous
		return domain.Classify(domain.CategoryDependency, err)
	}
	if to.IsTerminal() {
		metricsfacade.DeploymentsActive.Dec()
	}
	if o.status != nil {
		o.status.PublishStatus(dep.ID, dep.Status, previous)
	}
	return nil
}

func (o *Orchestrator) failDeployment(dep *domain.Deployment, cause error) {
	if dep.Status.IsTerminal() {
		return
	}
	o.releaseHandle(dep.ID)
	dep.SandboxHandle = ""
	_ = o.transition(dep, domain.StatusFailed)
	metricsfacade.ErrorsTotal.WithLabelValues(string(classify(cause))).Inc()
	o.log(dep.ID, domain.LevelError, domain.SourceSystem, fmt.Sprintf("deployment failed: %v", cause))
}

func (o *Orchestrator) log(deploymentID string, level domain.LogLevel, source domain.LogSource, message string) {
	if o.logs == nil {
		return
	}
	o.logs.Append(domain.LogEntry{
		DeploymentID: deploymentID,
		Timestamp:    o.now(),
		Level:        level,
		Source:       source,
		Message:      message,
	})
	_ = o.store.TouchDeployment(deploymentID, o.now())
}

func (o *Orchestrator) setHandle(deploymentID string, h sandbox.Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handles[deploymentID] = h
}

func (o *Orchestrator) getHandle(deploymentID string) (sandbox.Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[deploymentID]
	return h, ok
}

// Handle returns the live sandbox handle for a deployment, if any is still
// tracked (lost on restart). The composition root's scaling adapter uses
// HandleBySandboxID instead.
func (o *Orchestrator) Handle(deploymentID string) (sandbox.Handle, bool) {
	return o.getHandle(deploymentID)
}

// HandleBySandboxID finds a tracked handle by its opaque sandbox id rather
// than its owning deployment id. The Autoscaler only knows a deployment's
// Deployment.SandboxHandle string, so the composition root's scaling
// adapter resolves through this lookup.
func (o *Orchestrator) HandleBySandboxID(sandboxID string) (sandbox.Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, h := range o.handles {
		if h.ID() == sandboxID {
			return h, true
		}
	}
	return nil, false
}

func (o *Orchestrator) releaseHandle(deploymentID string) {
	o.mu.Lock()
	h, ok := o.handles[deploymentID]
	delete(o.handles, deploymentID)
	o.mu.Unlock()
	if ok {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = h.Destroy(ctx)
		}()
	}
}

// ensureProject gives every deployment an owning project; the core exposes
// no standalone project-management surface.
func (o *Orchestrator) ensureProject(userID string) (*domain.Project, error) {
	now := o.now()
	if err := o.store.EnsureUser(userID, now.UnixMilli()); err != nil {
		return nil, err
	}
	p := domain.Project{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      fmt.Sprintf("deployment-%d", now.UnixNano()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateProject(p); err != nil {
		return nil, err
	}
	return &p, nil
}

// enforceUserLimit evicts the oldest non-terminal deployment for userID when
// creating another would exceed the configured per-user cap.
func (o *Orchestrator) enforceUserLimit(userID string) error {
	deps, err := o.store.ListDeploymentsByUser(userID)
	if err != nil {
		return domain.Classify(domain.CategoryDependency, err)
	}
	var live []domain.Deployment
	for _, d := range deps {
		if !d.Status.IsTerminal() {
			live = append(live, d)
		}
	}
	if len(live) < o.cfg.MaxConcurrentPerUser {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID < live[j].ID
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	oldest := live[0]
	o.releaseHandle(oldest.ID)
	oldest.SandboxHandle = ""
	return o.transition(&oldest, domain.StatusDestroyed)
}
