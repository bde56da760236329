package orchestrator

import (
	"context"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

// CleanupSandboxes sweeps every tracked sandbox, reaping ones that are too
// old, too idle, orphaned, or attached to a terminal deployment.
// Forced sweeps ignore age/idle and reap everything matching filter.UserID.
func (o *Orchestrator) CleanupSandboxes(filter domain.CleanupFilter) domain.CleanupReport {
	maxAge := filter.MaxAge
	if maxAge == 0 {
		maxAge = o.cfg.SandboxMaxAge
	}
	maxIdle := filter.MaxIdle
	if maxIdle == 0 {
		maxIdle = o.cfg.SandboxMaxIdle
	}

	o.mu.Lock()
	tracked := make(map[string]string, len(o.handles)) // deployment_id -> sandbox_id
	for depID, h := range o.handles {
		tracked[depID] = h.ID()
	}
	o.mu.Unlock()

	now := o.now()
	var report domain.CleanupReport

	for depID, sandboxID := range tracked {
		if filter.UserID != "" {
			dep, err := o.store.GetDeployment(depID)
			if err != nil || dep.UserID != filter.UserID {
				continue
			}
		}

		dep, err := o.store.GetDeployment(depID)
		if err != nil {
			report.Reaped = append(report.Reaped, o.reap(depID, sandboxID, domain.ReapOrphan, nil))
			continue
		}

		var reason domain.ReapReason
		switch {
		case filter.Force:
			reason = domain.ReapForced
		case dep.Status.IsTerminal():
			reason = domain.ReapTerminal
		case now.Sub(dep.CreatedAt) > maxAge:
			reason = domain.ReapAge
		case now.Sub(dep.LastActivityAt) > maxIdle:
			reason = domain.ReapIdle
		default:
			continue
		}
		report.Reaped = append(report.Reaped, o.reap(depID, sandboxID, reason, dep))
	}

	return report
}

func (o *Orchestrator) reap(deploymentID, sandboxID string, reason domain.ReapReason, dep *domain.Deployment) domain.ReapedSandbox {
	o.mu.Lock()
	h, ok := o.handles[deploymentID]
	delete(o.handles, deploymentID)
	o.mu.Unlock()
	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_ = h.Destroy(ctx)
		cancel()
	}

	if dep != nil && !dep.Status.IsTerminal() {
		dep.SandboxHandle = ""
		_ = o.transition(dep, domain.StatusDestroyed)
	}

	return domain.ReapedSandbox{SandboxHandle: sandboxID, DeploymentID: deploymentID, Reason: reason}
}

// RunCleanupSweep runs CleanupSandboxes on interval until ctx is cancelled.
// Intended to be started as a goroutine from the composition root.
func (o *Orchestrator) RunCleanupSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.CleanupSandboxes(domain.CleanupFilter{})
		}
	}
}
