// Package config reads slicepool settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Role selects what a slicepool process does.
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RoleWorker     Role = "worker"
)

// Environment variable names. The supervisor sets EnvRole and EnvSlot on
// the workers it spawns.
const (
	EnvRole             = "SLICEPOOL_ROLE"
	EnvSlot             = "SLICEPOOL_SLOT"
	EnvListen           = "SLICEPOOL_LISTEN"
	EnvWorkers          = "SLICEPOOL_WORKERS"
	EnvKeepAliveTimeout = "SLICEPOOL_KEEPALIVE_TIMEOUT"
	EnvCallTimeout      = "SLICEPOOL_CALL_TIMEOUT"
	EnvHealthInterval   = "SLICEPOOL_HEALTH_INTERVAL"
	EnvMetricsAddr      = "SLICEPOOL_METRICS_ADDR"
)

// Config is the full process configuration.
type Config struct {
	Role   Role
	Slot   int
	Listen string

	// Workers is the pool size; 0 means one worker per available
	// parallelism unit, discovered once at start-up.
	Workers int

	// KeepAliveTimeout is the idle timeout of worker HTTP connections.
	KeepAliveTimeout time.Duration

	// CallTimeout bounds each supervisor to worker call during a fan-out.
	// 0 disables the bound and a hung worker stalls the operation.
	CallTimeout time.Duration

	// HealthInterval enables liveness probing of workers when positive.
	HealthInterval time.Duration

	// MetricsAddr is where the supervisor serves /metrics; empty disables it.
	MetricsAddr string
}

// Load builds a Config from the environment, applying defaults for unset
// variables.
func Load() (Config, error) {
	cfg := Config{
		Role:        Role(getenv(EnvRole, string(RoleSupervisor))),
		Listen:      getenv(EnvListen, ":8080"),
		MetricsAddr: os.Getenv(EnvMetricsAddr),
	}

	switch cfg.Role {
	case RoleSupervisor, RoleWorker:
	default:
		return Config{}, fmt.Errorf("%s: unknown role %q", EnvRole, cfg.Role)
	}

	var err error
	if cfg.Slot, err = intEnv(EnvSlot, 0); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = intEnv(EnvWorkers, 0); err != nil {
		return Config{}, err
	}
	if cfg.Workers < 0 {
		return Config{}, fmt.Errorf("%s: must not be negative, got %d", EnvWorkers, cfg.Workers)
	}
	if cfg.KeepAliveTimeout, err = durationEnv(EnvKeepAliveTimeout, 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CallTimeout, err = durationEnv(EnvCallTimeout, 0); err != nil {
		return Config{}, err
	}
	if cfg.HealthInterval, err = durationEnv(EnvHealthInterval, 0); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", k, v)
	}
	return d, nil
}
