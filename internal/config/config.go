// Package config holds the control plane's typed configuration tree,
// covering exactly the recognized keys in spec.md §6, loaded from YAML
// with environment-variable overrides in the style of oriys-nova's
// internal/config (DefaultConfig + LoadFromFile + LoadFromEnv).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noslate-project/alice/internal/domain"
)

// WorkerConfig covers the worker.* recognized keys (spec.md §6).
type WorkerConfig struct {
	MaxActivateRequests         int                   `yaml:"max_activate_requests"`
	ReplicaCountLimit           int                   `yaml:"replica_count_limit"`
	ReservationCount            int                   `yaml:"reservation_count"`
	ShrinkRedundantTimes        int                   `yaml:"shrink_redundant_times"`
	DefaultShrinkStrategy       domain.ShrinkStrategy `yaml:"default_shrink_strategy"`
	DefaultInitializerTimeoutMs int64                 `yaml:"default_initializer_timeout_ms"`
}

// ControlPlaneConfig covers the controlPlane.* recognized keys.
type ControlPlaneConfig struct {
	ExpandConcurrency int           `yaml:"expand_concurrency"`
	ExpandInterval    time.Duration `yaml:"expand_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// TurfConfig covers the turf.* recognized keys.
type TurfConfig struct {
	Binary               string `yaml:"binary"`
	GracefulExitPeriodMs int64  `yaml:"graceful_exit_period_ms"`
}

// DaemonConfig holds process-level boot settings, the ambient concerns
// spec.md §1 lists as out of scope for the spec's algorithmic core but
// still carried here per the teacher's own config layer.
type DaemonConfig struct {
	ListenAddress string `yaml:"listen_address"`
	LogLevel      string `yaml:"log_level"`
	LogDir        string `yaml:"log_dir"`
	BundleDir     string `yaml:"bundle_dir"`
}

// Config is the root configuration tree.
type Config struct {
	VirtualMemoryPoolSize int64              `yaml:"virtual_memory_pool_size"`
	Worker                WorkerConfig       `yaml:"worker"`
	ControlPlane          ControlPlaneConfig `yaml:"control_plane"`
	Turf                  TurfConfig         `yaml:"turf"`
	Daemon                DaemonConfig       `yaml:"daemon"`
}

// DefaultConfig returns the baseline configuration before any file or
// environment overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		VirtualMemoryPoolSize: 4 << 30, // 4 GiB
		Worker: WorkerConfig{
			MaxActivateRequests:         10,
			ReplicaCountLimit:           10,
			ReservationCount:            0,
			ShrinkRedundantTimes:        60,
			DefaultShrinkStrategy:       domain.ShrinkLCC,
			DefaultInitializerTimeoutMs: 10_000,
		},
		ControlPlane: ControlPlaneConfig{
			ExpandConcurrency: 2,
			ExpandInterval:    100 * time.Millisecond,
			ReconcileInterval: time.Second,
		},
		Turf: TurfConfig{
			Binary:               "turf",
			GracefulExitPeriodMs: 5_000,
		},
		Daemon: DaemonConfig{
			ListenAddress: "127.0.0.1:8088",
			LogLevel:      "info",
			LogDir:        "/tmp/noslated/logs",
			BundleDir:     "/tmp/noslated/bundles",
		},
	}
}

// LoadFromFile reads and merges a YAML document over DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv applies NOSLATED_* environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("NOSLATED_VIRTUAL_MEMORY_POOL_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.VirtualMemoryPoolSize = n
		}
	}
	if v := os.Getenv("NOSLATED_WORKER_MAX_ACTIVATE_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxActivateRequests = n
		}
	}
	if v := os.Getenv("NOSLATED_WORKER_REPLICA_COUNT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.ReplicaCountLimit = n
		}
	}
	if v := os.Getenv("NOSLATED_WORKER_SHRINK_REDUNDANT_TIMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.ShrinkRedundantTimes = n
		}
	}
	if v := os.Getenv("NOSLATED_WORKER_DEFAULT_SHRINK_STRATEGY"); v != "" {
		cfg.Worker.DefaultShrinkStrategy = domain.ShrinkStrategy(v)
	}
	if v := os.Getenv("NOSLATED_CONTROL_PLANE_EXPAND_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ControlPlane.ExpandConcurrency = n
		}
	}
	if v := os.Getenv("NOSLATED_TURF_BINARY"); v != "" {
		cfg.Turf.Binary = v
	}
	if v := os.Getenv("NOSLATED_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("NOSLATED_LISTEN_ADDRESS"); v != "" {
		cfg.Daemon.ListenAddress = v
	}
}
