package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/sandbox"
)

// runPipeline executes the deployment pipeline once a sandbox handle has
// been acquired: upload files, inject env, install dependencies under a
// timeout/2 budget, start the app in the background, then resolve and
// persist the public host.
func (o *Orchestrator) runPipeline(ctx context.Context, dep *domain.Deployment, files []domain.FileEntry, cfg domain.DeployConfig, budget time.Duration) error {
	if err := o.transition(dep, domain.StatusProvisioning); err != nil {
		return err
	}

	template := templateFor(dep.RuntimeKind)
	var handle sandbox.Handle
	err := withRetry(ctx, o.cfg.MaxRetries, stageProvisioning, func() {
		template = templateFallback
	}, func() error {
		h, err := o.provider.Create(ctx, template)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return err
	}
	dep.SandboxHandle = handle.ID()
	o.setHandle(dep.ID, handle)
	if err := o.store.UpdateDeployment(*dep); err != nil {
		return domain.Classify(domain.CategoryDependency, err)
	}
	o.log(dep.ID, domain.LevelInfo, domain.SourceDeployment, "sandbox provisioned: "+handle.ID())

	if err := o.uploadFiles(ctx, handle, files); err != nil {
		return err
	}
	o.log(dep.ID, domain.LevelInfo, domain.SourceDeployment, fmt.Sprintf("uploaded %d files", len(files)))
	o.injectEnv(handle, cfg.Env)

	if err := o.transition(dep, domain.StatusBuilding); err != nil {
		return err
	}

	installCtx, cancel := context.WithTimeout(ctx, budget/2)
	defer cancel()
	if err := o.runInstall(installCtx, dep.ID, handle); err != nil {
		return err
	}

	if err := o.startApplication(ctx, handle); err != nil {
		return err
	}
	o.log(dep.ID, domain.LevelInfo, domain.SourceDeployment, "application started in background")

	host, err := o.resolveHost(ctx, handle, cfg.Port)
	if err != nil {
		return err
	}
	dep.PublicURL = host
	o.log(dep.ID, domain.LevelInfo, domain.SourceDeployment, "public url: "+host)
	return o.transition(dep, domain.StatusRunning)
}

func (o *Orchestrator) uploadFiles(ctx context.Context, handle sandbox.Handle, files []domain.FileEntry) error {
	return withRetry(ctx, o.cfg.MaxRetries, stageOther, nil, func() error {
		for _, f := range files {
			if err := handle.WriteFile(ctx, f.Path, f.Content); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Orchestrator) injectEnv(handle sandbox.Handle, env map[string]string) {
	if len(env) == 0 {
		return
	}
	var lines string
	for k, v := range env {
		lines += fmt.Sprintf("%s=%s\n", k, v)
	}
	_ = handle.WriteFile(context.Background(), ".env", []byte(lines))
}

func (o *Orchestrator) runInstall(ctx context.Context, deploymentID string, handle sandbox.Handle) error {
	return withRetry(ctx, o.cfg.MaxRetries, stageOther, nil, func() error {
		result, err := handle.Run(ctx, "npm install", sandbox.RunOptions{})
		if err != nil {
			return err
		}
		if out := strings.TrimSpace(result.Stdout); out != "" {
			o.log(deploymentID, domain.LevelInfo, domain.SourceBuild, out)
		}
		if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
			o.log(deploymentID, domain.LevelWarn, domain.SourceBuild, errOut)
		}
		if result.ExitCode != 0 {
			return domain.Classify(domain.CategorySandbox, fmt.Errorf("npm install exited %d: %s", result.ExitCode, result.Stderr))
		}
		return nil
	})
}

func (o *Orchestrator) startApplication(ctx context.Context, handle sandbox.Handle) error {
	return withRetry(ctx, o.cfg.MaxRetries, stageOther, nil, func() error {
		_, err := handle.Run(ctx, "npm start", sandbox.RunOptions{Background: true})
		return err
	})
}

func (o *Orchestrator) resolveHost(ctx context.Context, handle sandbox.Handle, port int) (string, error) {
	var host string
	err := withRetry(ctx, o.cfg.MaxRetries, stageOther, nil, func() error {
		h, err := handle.Host(ctx, port)
		if err != nil {
			return err
		}
		host = h
		return nil
	})
	return host, err
}
