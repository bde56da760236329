// Package domain holds the pure data model shared by every control-plane
// component: deployments, scaling policies, resource samples, log entries,
// and the closed error set. Nothing here depends on infrastructure.
package domain

import "time"

// DeploymentStatus is one state in the deployment lifecycle.
type DeploymentStatus string

const (
	StatusPending      DeploymentStatus = "pending"
	StatusProvisioning DeploymentStatus = "provisioning"
	StatusBuilding     DeploymentStatus = "building"
	StatusRunning      DeploymentStatus = "running"
	StatusStopped      DeploymentStatus = "stopped"
	StatusFailed       DeploymentStatus = "failed"
	StatusDestroyed    DeploymentStatus = "destroyed"
)

// IsTerminal reports whether status cannot transition further.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusDestroyed
}

// legalTransitions enumerates the state machine edges. Every non-terminal
// state may fail or be destroyed (Cancel and forced reaps destroy at any
// stage); anything else not listed is a programmer error, not a runtime one.
var legalTransitions = map[DeploymentStatus]map[DeploymentStatus]bool{
	StatusPending:      {StatusProvisioning: true, StatusFailed: true, StatusDestroyed: true},
	StatusProvisioning: {StatusBuilding: true, StatusFailed: true, StatusDestroyed: true},
	StatusBuilding:     {StatusRunning: true, StatusFailed: true, StatusDestroyed: true},
	StatusRunning:      {StatusStopped: true, StatusFailed: true, StatusDestroyed: true},
	StatusStopped:      {StatusDestroyed: true, StatusFailed: true},
	StatusFailed:       {},
	StatusDestroyed:    {},
}

// CanTransition reports whether from→to is a legal edge in the state machine.
func CanTransition(from, to DeploymentStatus) bool {
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// RuntimeKind classifies how a deployment's files were produced.
type RuntimeKind string

const (
	RuntimeGenericNode       RuntimeKind = "generic_node"
	RuntimeManifestGenerated RuntimeKind = "manifest_generated"
)

// Deployment is the central entity of the control plane.
type Deployment struct {
	ID          string
	ProjectID   string
	UserID      string
	Status      DeploymentStatus
	RuntimeKind RuntimeKind

	SandboxHandle string // opaque; empty until first entry into provisioning
	PublicURL     string // set on first entry into running; immutable thereafter
	Instances     int    // current instance count, driven by the autoscaler

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time

	PreviousStatus DeploymentStatus // set just before a transition publishes
}

// Invariant reports a structural violation on the record, or nil if the deployment
// is internally consistent.
func (d *Deployment) Invariant() error {
	if d.Status == StatusRunning && (d.SandboxHandle == "" || d.PublicURL == "") {
		return Classify(CategoryInvariant, ErrInvalidTransition)
	}
	return nil
}

// DeployConfig is the input to Orchestrator.Deploy.
type DeployConfig struct {
	TimeoutMS int
	Env       map[string]string
	Port      int
}

// DefaultPort is used when DeployConfig.Port is unset.
const DefaultPort = 3000

// FileEntry is one uploaded (path, content) pair.
type FileEntry struct {
	Path    string
	Content []byte
}

// DeploymentSnapshot is the read-model returned by Orchestrator.Monitor.
type DeploymentSnapshot struct {
	Deployment  Deployment
	Health      string
	MetricsSnap map[string]float64
	RecentLogs  []LogEntry
}

// CleanupFilter parameterizes Orchestrator.CleanupSandboxes.
type CleanupFilter struct {
	Force   bool
	MaxAge  time.Duration
	MaxIdle time.Duration
	UserID  string
}

// ReapReason names why one sandbox was reaped, for CleanupReport detail.
type ReapReason string

const (
	ReapAge      ReapReason = "age"
	ReapIdle     ReapReason = "idle"
	ReapTerminal ReapReason = "terminal"
	ReapOrphan   ReapReason = "orphan"
	ReapForced   ReapReason = "forced"
)

// ReapedSandbox records one sandbox removed by a cleanup sweep.
type ReapedSandbox struct {
	SandboxHandle string
	DeploymentID  string
	Reason        ReapReason
}

// CleanupReport is returned by Orchestrator.CleanupSandboxes.
type CleanupReport struct {
	Reaped []ReapedSandbox
}

// Count returns how many sandboxes were reaped.
func (r CleanupReport) Count() int { return len(r.Reaped) }
