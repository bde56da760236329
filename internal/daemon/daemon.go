// Package daemon is the control plane's composition root. It wires the
// Orchestrator, Autoscaler, Resource Optimizer, LogHub, WebSocket Gateway,
// and HealthSupervisor together in dependency order and owns the background
// goroutines each one needs.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coderunner/controlplane/internal/authn"
	"github.com/coderunner/controlplane/internal/autoscaler"
	"github.com/coderunner/controlplane/internal/config"
	"github.com/coderunner/controlplane/internal/health"
	"github.com/coderunner/controlplane/internal/httpapi"
	"github.com/coderunner/controlplane/internal/loghub"
	"github.com/coderunner/controlplane/internal/metricsfacade"
	"github.com/coderunner/controlplane/internal/optimizer"
	"github.com/coderunner/controlplane/internal/orchestrator"
	"github.com/coderunner/controlplane/internal/sandbox"
	"github.com/coderunner/controlplane/internal/store"
	"github.com/coderunner/controlplane/internal/wsgateway"
)

// APIConfig controls the HTTP listener. Not part of config.Config's TOML
// surface; the serve subcommand sets it from flags.
type APIConfig struct {
	Host string
	Port int
}

// Daemon owns every component and its lifecycle.
type Daemon struct {
	Config config.Config
	API    APIConfig

	DB           *store.DB
	Metrics      *metricsfacade.Facade
	PerDeploy    *metricsfacade.PerDeployment
	LogHub       *loghub.LogHub
	Verifier     *authn.Verifier
	Issuer       *authn.Issuer
	Gateway      *wsgateway.Gateway
	Sandbox      sandbox.Provider
	Orchestrator *orchestrator.Orchestrator
	Autoscaler   *autoscaler.Autoscaler
	Optimizer    *optimizer.Optimizer
	Health       *health.Supervisor
	Server       *httpapi.Server

	cancel context.CancelFunc
}

// New loads configuration from path (falling back to defaults and
// environment overrides) and wires a Daemon.
func New(path string) (*Daemon, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires a Daemon from an already-loaded configuration.
func NewWithConfig(cfg config.Config) (*Daemon, error) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	secret, err := loadOrCreateSecret(cfg.DataDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load signing secret: %w", err)
	}
	verifier := authn.NewVerifier(secret)
	issuer := authn.NewIssuer(secret)

	metrics := metricsfacade.New()
	perDeploy := metricsfacade.NewPerDeployment(metrics)

	logHub := loghub.New(loghub.Config{
		MaxSize:   cfg.LogHub.BufferSize,
		Retention: time.Duration(cfg.LogHub.RetentionMS) * time.Millisecond,
	}, nil)

	gateway := wsgateway.New(wsgateway.Config{
		MaxConnections:    cfg.Gateway.MaxConnections,
		MaxSubscriptions:  cfg.Gateway.MaxSubscriptions,
		ConnectionTimeout: time.Duration(cfg.Gateway.ConnectionTimeoutMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Gateway.HeartbeatMS) * time.Millisecond,
	}, verifier, logHub, db)

	provider := sandbox.NewMockProvider()

	orcCfg := orchestrator.DefaultConfig()
	orcCfg.MaxConcurrentPerUser = cfg.Orchestrator.MaxConcurrentPerUser
	orcCfg.SandboxMaxAge = cfg.Orchestrator.SandboxMaxAge
	orcCfg.SandboxMaxIdle = cfg.Orchestrator.SandboxMaxIdle
	orc := orchestrator.New(orcCfg, db, provider, logHub, gateway)

	scaler := autoscaler.New(autoscaler.Config{
		Tick: time.Duration(cfg.Autoscaler.TickMS) * time.Millisecond,
	}, db, perDeploy, &sandboxScaleExecutor{orc: orc})

	opt := optimizer.New(db, perDeploy, gateway)

	sup := health.NewSupervisor(health.SupervisorConfig{
		TickInterval: time.Duration(cfg.Health.IntervalMS) * time.Millisecond,
		ProbeTimeout: time.Duration(cfg.Health.TimeoutMS) * time.Millisecond,
		Breaker: health.CircuitBreakerConfig{
			FailureThreshold: cfg.Health.CircuitFailureThreshold,
			Cooldown:         time.Duration(cfg.Health.CircuitCooldownMS) * time.Millisecond,
			HalfOpenRetries:  cfg.Health.CircuitHalfOpenRetries,
		},
	})
	registerProbes(sup, db, metrics, gateway)

	// Monitor reads health, metrics, and logs through these three
	// narrow collaborator interfaces rather than owning them.
	orc.SetHealth(sup)
	orc.SetMetricsSource(perDeploy)
	orc.SetLogReader(logHub)

	d := &Daemon{
		Config:       cfg,
		API:          APIConfig{Host: "0.0.0.0", Port: 8080},
		DB:           db,
		Metrics:      metrics,
		PerDeploy:    perDeploy,
		LogHub:       logHub,
		Verifier:     verifier,
		Issuer:       issuer,
		Gateway:      gateway,
		Sandbox:      provider,
		Orchestrator: orc,
		Autoscaler:   scaler,
		Optimizer:    opt,
		Health:       sup,
	}
	d.Server = httpapi.NewServer(httpapi.Dependencies{
		Orchestrator: orc,
		Autoscaler:   scaler,
		Optimizer:    opt,
		Health:       sup,
		Gateway:      gateway,
		LogHub:       logHub,
		Verifier:     verifier,
		Issuer:       issuer,
		PerDeploy:    perDeploy,
	})
	return d, nil
}

// sandboxScaleExecutor implements autoscaler.ScaleExecutor by resolving the
// live sandbox handle through the Orchestrator. The sandbox contract
// exposes no dedicated scale verb, so the target count is applied the
// same way any other sandbox command would be: through Run.
type sandboxScaleExecutor struct {
	orc *orchestrator.Orchestrator
}

func (s *sandboxScaleExecutor) Scale(ctx context.Context, sandboxHandle string, target int) error {
	h, ok := s.orc.HandleBySandboxID(sandboxHandle)
	if !ok {
		return fmt.Errorf("sandbox %s not tracked", sandboxHandle)
	}
	_, err := h.Run(ctx, fmt.Sprintf("scale %d", target), sandbox.RunOptions{})
	return err
}

// Start brings every background goroutine up; Stop (Close) or ctx
// cancellation tears them back down.
func (d *Daemon) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	go d.LogHub.Run(ctx.Done(), time.Minute)
	go d.Gateway.Run(ctx.Done())
	go d.Orchestrator.RunCleanupSweep(ctx, 5*time.Minute)
	go d.Autoscaler.Run(ctx, d.activeDeploymentIDs)
	go d.runOptimizerSampling(ctx)
}

// activeDeploymentIDs feeds the Autoscaler's tick with every non-terminal
// deployment.
func (d *Daemon) activeDeploymentIDs() []string {
	ids, err := d.DB.ListActiveDeploymentIDs()
	if err != nil {
		log.Printf("[daemon] list active deployments: %v", err)
		return nil
	}
	return ids
}

// runOptimizerSampling ticks TrackUsage for every active deployment, feeding
// the Resource Optimizer's budget checks and analytics.
func (d *Daemon) runOptimizerSampling(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range d.activeDeploymentIDs() {
				if err := d.Optimizer.TrackUsage(id); err != nil {
					log.Printf("[optimizer] track usage %s: %v", id, err)
				}
			}
		}
	}
}

// Serve starts every background goroutine and blocks serving HTTP until the
// process receives SIGINT/SIGTERM or ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	d.Start(ctx)

	addr := fmt.Sprintf("%s:%d", d.API.Host, d.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		d.Close()
	}()

	log.Printf("[daemon] control plane serving on http://%s", addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops every background goroutine and releases the store.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// loadOrCreateSecret reads the HMAC signing secret from dir/secret.key,
// generating and persisting one on first run.
func loadOrCreateSecret(dir string) ([]byte, error) {
	path := filepath.Join(dir, "secret.key")
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return b, nil
	}
	secret, err := authn.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, err
	}
	return secret, nil
}
