// Package poolconfig holds the process-wide, immutable Pool Configuration.
// It is read once at startup from the environment (and optionally an
// overlay YAML file) and handed down to every constructor; nothing in this
// package is mutated after Load returns.
package poolconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TypeConfig holds the per-container-type settings.
type TypeConfig struct {
	Target       int    `yaml:"target"`
	Image        string `yaml:"image"`
	CPURequest   string `yaml:"cpu_request"`
	CPULimit     string `yaml:"cpu_limit"`
	MemRequest   string `yaml:"mem_request"`
	MemLimit     string `yaml:"mem_limit"`
}

// AuthProxyConfig configures the optional sidecar proxy injected into
// sandbox warm workloads.
type AuthProxyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Image      string `yaml:"image"`
	HealthPort int    `yaml:"health_port"`
	CASecret   string `yaml:"ca_secret"`
}

// Config is the Pool Configuration of spec.md §3.
type Config struct {
	Namespace  string `yaml:"namespace"`
	NamePrefix string `yaml:"name_prefix"`

	Sandbox TypeConfig `yaml:"sandbox"`
	MCP     TypeConfig `yaml:"mcp"`

	MaxTotalWorkloads int `yaml:"max_total_workloads"`

	RuntimeClass string `yaml:"runtime_class"`

	IdleTimeout   time.Duration `yaml:"-"`
	MaxLifetime   time.Duration `yaml:"-"`
	IdleTimeoutS  int64         `yaml:"idle_timeout_s"`
	MaxLifetimeS  int64         `yaml:"max_lifetime_s"`

	BackfillInterval  time.Duration `yaml:"-"`
	MonitorInterval   time.Duration `yaml:"-"`
	CleanupInterval   time.Duration `yaml:"-"`
	PodReadyTimeout   time.Duration `yaml:"-"`
	BackfillIntervalS int64         `yaml:"backfill_interval_s"`
	MonitorIntervalS  int64         `yaml:"monitor_interval_s"`
	CleanupIntervalS  int64         `yaml:"cleanup_interval_s"`
	PodReadyTimeoutS  int64         `yaml:"pod_ready_timeout_s"`

	LeaseDuration time.Duration `yaml:"-"`

	AuthProxy AuthProxyConfig `yaml:"auth_proxy"`

	APIKeys []string `yaml:"-"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load assembles the Pool Configuration from the environment. If
// POOL_CONFIG_FILE points at a readable YAML file, its values are applied
// as an overlay on top of the environment defaults — following the same
// "env first, file second" shape operators of this stack expect.
func Load() (*Config, error) {
	cfg := &Config{
		Namespace:  getenv("POOL_NAMESPACE", "sandboxes"),
		NamePrefix: getenv("POOL_NAME_PREFIX", "sbx"),
		Sandbox: TypeConfig{
			Target:     getenvInt("SANDBOX_POOL_TARGET", 10),
			Image:      getenv("SANDBOX_IMAGE", "sandbox-runtime:latest"),
			CPURequest: getenv("SANDBOX_CPU_REQUEST", "250m"),
			CPULimit:   getenv("SANDBOX_CPU_LIMIT", "1"),
			MemRequest: getenv("SANDBOX_MEM_REQUEST", "512Mi"),
			MemLimit:   getenv("SANDBOX_MEM_LIMIT", "1Gi"),
		},
		MCP: TypeConfig{
			Target:     getenvInt("MCP_POOL_TARGET", 0),
			Image:      getenv("MCP_IMAGE", "mcp-bridge-runtime:latest"),
			CPURequest: getenv("MCP_CPU_REQUEST", "100m"),
			CPULimit:   getenv("MCP_CPU_LIMIT", "500m"),
			MemRequest: getenv("MCP_MEM_REQUEST", "256Mi"),
			MemLimit:   getenv("MCP_MEM_LIMIT", "512Mi"),
		},
		MaxTotalWorkloads: getenvInt("POOL_MAX_TOTAL", 50),
		RuntimeClass:      getenv("VM_RUNTIME_CLASS", "kata-qemu"),
		IdleTimeoutS:      int64(getenvInt("POOL_IDLE_TIMEOUT_S", 1800)),
		MaxLifetimeS:      int64(getenvInt("POOL_MAX_LIFETIME_S", 8*3600)),
		BackfillIntervalS: int64(getenvInt("POOL_BACKFILL_INTERVAL_S", 5)),
		MonitorIntervalS:  int64(getenvInt("POOL_MONITOR_INTERVAL_S", 15)),
		CleanupIntervalS:  int64(getenvInt("POOL_CLEANUP_INTERVAL_S", 60)),
		PodReadyTimeoutS:  int64(getenvInt("POOL_READY_TIMEOUT_S", 75)),
		AuthProxy: AuthProxyConfig{
			Enabled:    getenv("AUTH_PROXY_ENABLED", "false") == "true",
			Image:      getenv("AUTH_PROXY_IMAGE", "auth-proxy:latest"),
			HealthPort: getenvInt("AUTH_PROXY_HEALTH_PORT", 9443),
			CASecret:   getenv("AUTH_PROXY_CA_SECRET", "sandbox-ca-bundle"),
		},
	}

	if path := os.Getenv("POOL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pool config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse pool config file: %w", err)
		}
	}

	cfg.IdleTimeout = time.Duration(cfg.IdleTimeoutS) * time.Second
	cfg.MaxLifetime = time.Duration(cfg.MaxLifetimeS) * time.Second
	cfg.BackfillInterval = time.Duration(cfg.BackfillIntervalS) * time.Second
	cfg.MonitorInterval = time.Duration(cfg.MonitorIntervalS) * time.Second
	cfg.CleanupInterval = time.Duration(cfg.CleanupIntervalS) * time.Second
	cfg.PodReadyTimeout = time.Duration(cfg.PodReadyTimeoutS) * time.Second
	cfg.LeaseDuration = time.Duration(getenvInt("POOL_LEASE_DURATION_S", 15)) * time.Second

	if keys := os.Getenv("POOL_API_KEYS"); keys != "" {
		cfg.APIKeys = splitCSV(keys)
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
