package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment conventions.
const (
	EnvPrefix     = "DRAFTWATCH_"
	EnvConfigFile = EnvPrefix + "CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if DRAFTWATCH_CONFIG is set
//  3. env (prefix DRAFTWATCH_, "__" separates sections)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// DRAFTWATCH_SCORING__REACH_THRESHOLD -> scoring.reach_threshold
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and wraps failures in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return invalid("server.addr must not be empty")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel)
	}

	p := c.Pipeline
	if p.QueueSize < 1 || p.WorkerCount < 1 || p.ScoringWorkers < 1 {
		return invalid("pipeline queue_size, worker_count and scoring_workers must be positive")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBadger:
		if c.Storage.Path == "" {
			return invalid("storage.path is required for the badger driver")
		}
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return invalid("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return invalid("storage.driver %q is not supported", c.Storage.Driver)
	}

	t := c.Tracker
	if t.ProximityMeters <= 0 || t.MaxAttempts < 1 || t.SnapshotTTL < 0 {
		return invalid("tracker thresholds must be positive")
	}
	if t.BaseBackoff < 0 || t.MaxBackoff < t.BaseBackoff {
		return invalid("tracker backoff must satisfy 0 <= base_backoff <= max_backoff")
	}

	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("%w: scoring: %w", ErrInvalidConfig, err)
	}

	a := c.Aggregation
	if a.Interval < 0 || a.Lookback <= 0 || a.HistoryLimit < 1 || a.Parallelism < 1 {
		return invalid("aggregation lookback, history_limit and parallelism must be positive")
	}
	if err := a.Tiers.Validate(); err != nil {
		return fmt.Errorf("%w: aggregation: %w", ErrInvalidConfig, err)
	}

	if c.Consensus.Refresh < 0 {
		return invalid("consensus.refresh must not be negative")
	}
	return nil
}
