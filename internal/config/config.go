// Package config defines service configuration structures and loading hooks.
//
// Values are layered defaults, then an optional YAML file, then environment
// variables. Durations are written as Go duration strings ("200ms", "168h").
package config

import (
	"runtime"
	"time"

	"github.com/okian/draftwatch/internal/domain/geo"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/internal/domain/risk"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	Server      Server      `koanf:"server"`
	Pipeline    Pipeline    `koanf:"pipeline"`
	Storage     Storage     `koanf:"storage"`
	Tracker     Tracker     `koanf:"tracker"`
	Scoring     risk.Params `koanf:"scoring"`
	Aggregation Aggregation `koanf:"aggregation"`
	Consensus   Consensus   `koanf:"consensus"`
	GeoIP       GeoIP       `koanf:"geoip"`
}

// Server configures the HTTP listener and logging.
type Server struct {
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Pipeline sizes the in-process queues and worker pools.
type Pipeline struct {
	QueueSize      int `koanf:"queue_size"`
	WorkerCount    int `koanf:"worker_count"`
	ScoringWorkers int `koanf:"scoring_workers"`
	DedupeSize     int `koanf:"dedupe_size"`
}

// Storage selects the persistence backend. Path is the Badger directory; DSN
// is the database/sql connection string.
type Storage struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

// Tracker tunes the real-time proximity tracker.
type Tracker struct {
	ProximityMeters float64       `koanf:"proximity_meters"`
	MaxAttempts     int           `koanf:"max_attempts"`
	BaseBackoff     time.Duration `koanf:"base_backoff"`
	MaxBackoff      time.Duration `koanf:"max_backoff"`
	SnapshotTTL     time.Duration `koanf:"snapshot_ttl"`
}

// Aggregation schedules and tunes the cross-session pair aggregation.
type Aggregation struct {
	// Interval between scheduled runs; zero disables the schedule.
	Interval     time.Duration `koanf:"interval"`
	Lookback     time.Duration `koanf:"lookback"`
	HistoryLimit int           `koanf:"history_limit"`
	Parallelism  int           `koanf:"parallelism"`
	Tiers        pattern.Tiers `koanf:"tiers"`
}

// Consensus points at the expected-rank CSV. Without a path every item falls
// back to scoring.default_expected_rank.
type Consensus struct {
	Path    string        `koanf:"path"`
	Refresh time.Duration `koanf:"refresh"`
}

// GeoIP points at a MaxMind ASN database used to name network owners.
type GeoIP struct {
	ASNDBPath string `koanf:"asn_db_path"`
	CacheSize int    `koanf:"cache_size"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		Server: Server{
			Addr:            ":9080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Pipeline: Pipeline{
			QueueSize:      10_000,
			WorkerCount:    runtime.NumCPU() * 2,
			ScoringWorkers: 2,
			DedupeSize:     50_000,
		},
		Storage: Storage{
			Driver: DriverMemory,
			Path:   "data/badger",
		},
		Tracker: Tracker{
			ProximityMeters: geo.DefaultProximityMeters,
			MaxAttempts:     5,
			BaseBackoff:     10 * time.Millisecond,
			MaxBackoff:      200 * time.Millisecond,
			SnapshotTTL:     12 * time.Hour,
		},
		Scoring: risk.DefaultParams(),
		Aggregation: Aggregation{
			Interval:     7 * 24 * time.Hour,
			Lookback:     90 * 24 * time.Hour,
			HistoryLimit: 20,
			Parallelism:  8,
			Tiers:        pattern.DefaultTiers(),
		},
		Consensus: Consensus{
			Refresh: time.Hour,
		},
		GeoIP: GeoIP{
			CacheSize: 4096,
		},
	}
}
