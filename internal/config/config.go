// Package config loads the process-wide configuration: a YAML file
// unmarshalled into Config, then overridden field-by-field by a fixed
// set of environment variables. This mirrors the teacher's two-phase
// load (file defaults, then env overrides) but trims the schema to the
// sub-structs this system actually has.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/novafn/internal/hypervisor"
)

// ServerConfig holds the Control API's HTTP listener settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RegistryConfig selects and configures the function registry backend.
type RegistryConfig struct {
	Backend     string `yaml:"backend"` // "file" or "postgres"
	DataDir     string `yaml:"data_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// RedisAddr, when non-empty, wraps the selected backend in a
	// read-through cache decorator.
	RedisAddr string `yaml:"redis_addr"`
}

// PoolConfig holds the warm pool's per-runtime capacity and refill
// cadence.
type PoolConfig struct {
	PoolSize       int           `yaml:"pool_size"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig holds the metrics settings. Enabled gates the Prometheus
// endpoint and the pool depths on /health; ListenAddr is not read by the
// daemon, which serves metrics on the Control API's own listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig holds structured-logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Config is the root configuration struct. DataDir, bridge name, etc.
// for the hypervisor driver live on hypervisor.Config directly since
// that package already owns their defaults and validation.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Registry   RegistryConfig    `yaml:"registry"`
	Pool       PoolConfig        `yaml:"pool"`
	Hypervisor hypervisor.Config `yaml:"hypervisor"`
	Tracing    TracingConfig     `yaml:"tracing"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// Default returns a Config with the bounds from spec.md §3/§4.4.
func Default() *Config {
	hv := hypervisor.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8081",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			Backend: "file",
			DataDir: "/var/lib/novafn/registry",
		},
		Pool: PoolConfig{
			PoolSize:       2,
			RefillInterval: 10 * time.Second,
		},
		Hypervisor: *hv,
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "novafn",
			SampleRatio: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path as YAML over a Default(), applies environment
// overrides, and returns the result. Config loading is the one place a
// malformed external input is fatal: it happens before any server is
// listening, so a process exit is preferable to limping along on a
// half-applied config.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOVA_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("NOVA_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}
	if v := os.Getenv("NOVA_REGISTRY_DATA_DIR"); v != "" {
		cfg.Registry.DataDir = v
	}
	if v := os.Getenv("NOVA_POSTGRES_DSN"); v != "" {
		cfg.Registry.PostgresDSN = v
		cfg.Registry.Backend = "postgres"
	}
	if v := os.Getenv("NOVA_REDIS_ADDR"); v != "" {
		cfg.Registry.RedisAddr = v
	}
	if v := os.Getenv("NOVA_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.PoolSize = n
		}
	}
	if v := os.Getenv("NOVA_POOL_REFILL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.RefillInterval = d
		}
	}
	if v := os.Getenv("NOVA_FIRECRACKER_BIN"); v != "" {
		cfg.Hypervisor.FirecrackerBin = v
	}
	if v := os.Getenv("NOVA_KERNEL_PATH"); v != "" {
		cfg.Hypervisor.KernelPath = v
	}
	if v := os.Getenv("NOVA_BASE_ROOTFS_PATH"); v != "" {
		cfg.Hypervisor.BaseRootfsPath = v
	}
	if v := os.Getenv("NOVA_DATA_DIR"); v != "" {
		cfg.Hypervisor.DataDir = v
	}
	if v := os.Getenv("NOVA_BRIDGE_NAME"); v != "" {
		cfg.Hypervisor.BridgeName = v
	}
	if v := os.Getenv("NOVA_SUBNET"); v != "" {
		cfg.Hypervisor.Subnet = v
	}
	if v := os.Getenv("NOVA_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("NOVA_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("NOVA_TRACING_SERVICE_NAME"); v != "" {
		cfg.Tracing.ServiceName = v
	}
	if v := os.Getenv("NOVA_TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRatio = f
		}
	}
	if v := os.Getenv("NOVA_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("NOVA_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("NOVA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NOVA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
