// Package config loads the control plane's configuration: a TOML file read
// at startup, with every tunable key additionally overridable by its matching
// environment variable. Env vars win over the file. The one exception is
// data_dir: CONTROLPLANE_HOME only sets its default, so a data_dir in the
// file takes precedence over it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable the process recognizes.
type Config struct {
	DataDir string `toml:"data_dir"`

	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Autoscaler   AutoscalerConfig   `toml:"autoscaler"`
	LogHub       LogHubConfig       `toml:"loghub"`
	Gateway      GatewayConfig      `toml:"gateway"`
	Health       HealthConfig       `toml:"health"`
}

// OrchestratorConfig controls sandbox lifecycle limits.
type OrchestratorConfig struct {
	MaxConcurrentPerUser int           `toml:"max_concurrent_per_user"`
	SandboxMaxAge        time.Duration `toml:"-"`
	SandboxMaxIdle       time.Duration `toml:"-"`
	SandboxMaxAgeMS      int64         `toml:"sandbox_max_age_ms"`
	SandboxMaxIdleMS     int64         `toml:"sandbox_max_idle_ms"`
}

// AutoscalerConfig controls the evaluation tick period.
type AutoscalerConfig struct {
	TickMS int64 `toml:"autoscale_tick_ms"`
}

// LogHubConfig controls the per-deployment log ring.
type LogHubConfig struct {
	BufferSize  int   `toml:"log_buffer_size"`
	RetentionMS int64 `toml:"log_retention_ms"`
}

// GatewayConfig controls the WebSocket Gateway's limits.
type GatewayConfig struct {
	MaxConnections      int   `toml:"ws_max_connections"`
	MaxSubscriptions    int   `toml:"ws_max_subscriptions"`
	ConnectionTimeoutMS int64 `toml:"ws_connection_timeout_ms"`
	HeartbeatMS         int64 `toml:"ws_heartbeat_ms"`
}

// HealthConfig controls the HealthSupervisor and its circuit breakers.
type HealthConfig struct {
	IntervalMS              int64 `toml:"health_interval_ms"`
	TimeoutMS               int64 `toml:"health_timeout_ms"`
	CircuitFailureThreshold int   `toml:"circuit_breaker_failure_threshold"`
	CircuitCooldownMS       int64 `toml:"circuit_breaker_cooldown_ms"`
	CircuitHalfOpenRetries  int   `toml:"circuit_breaker_half_open_retries"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Orchestrator: OrchestratorConfig{
			MaxConcurrentPerUser: 5,
			SandboxMaxAgeMS:      24 * time.Hour.Milliseconds(),
			SandboxMaxIdleMS:     2 * time.Hour.Milliseconds(),
		},
		Autoscaler: AutoscalerConfig{TickMS: 30_000},
		LogHub: LogHubConfig{
			BufferSize:  1000,
			RetentionMS: time.Hour.Milliseconds(),
		},
		Gateway: GatewayConfig{
			MaxConnections:      1000,
			MaxSubscriptions:    10,
			ConnectionTimeoutMS: 5 * time.Minute.Milliseconds(),
			HeartbeatMS:         30_000,
		},
		Health: HealthConfig{
			IntervalMS:              30_000,
			TimeoutMS:               5_000,
			CircuitFailureThreshold: 3,
			CircuitCooldownMS:       30_000,
			CircuitHalfOpenRetries:  3,
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies every
// matching environment variable on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	cfg.Orchestrator.SandboxMaxAge = time.Duration(cfg.Orchestrator.SandboxMaxAgeMS) * time.Millisecond
	cfg.Orchestrator.SandboxMaxIdle = time.Duration(cfg.Orchestrator.SandboxMaxIdleMS) * time.Millisecond
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	intEnv("MAX_CONCURRENT_PER_USER", &cfg.Orchestrator.MaxConcurrentPerUser)
	int64Env("SANDBOX_MAX_AGE", &cfg.Orchestrator.SandboxMaxAgeMS)
	int64Env("SANDBOX_MAX_IDLE", &cfg.Orchestrator.SandboxMaxIdleMS)
	int64Env("AUTOSCALE_TICK_MS", &cfg.Autoscaler.TickMS)
	intEnv("LOG_BUFFER_SIZE", &cfg.LogHub.BufferSize)
	int64Env("LOG_RETENTION_MS", &cfg.LogHub.RetentionMS)
	intEnv("WS_MAX_CONNECTIONS", &cfg.Gateway.MaxConnections)
	intEnv("WS_MAX_SUBSCRIPTIONS", &cfg.Gateway.MaxSubscriptions)
	int64Env("WS_CONNECTION_TIMEOUT_MS", &cfg.Gateway.ConnectionTimeoutMS)
	int64Env("WS_HEARTBEAT_MS", &cfg.Gateway.HeartbeatMS)
	int64Env("HEALTH_INTERVAL_MS", &cfg.Health.IntervalMS)
	int64Env("HEALTH_TIMEOUT_MS", &cfg.Health.TimeoutMS)
	intEnv("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.Health.CircuitFailureThreshold)
	int64Env("CIRCUIT_BREAKER_COOLDOWN_MS", &cfg.Health.CircuitCooldownMS)
	intEnv("CIRCUIT_BREAKER_HALF_OPEN_RETRIES", &cfg.Health.CircuitHalfOpenRetries)
}

func intEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func int64Env(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func defaultDataDir() string {
	if env := os.Getenv("CONTROLPLANE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".controlplane")
}
