package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/draftwatch/internal/adapters/netinfo"
	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/adapters/repository/badgerstore"
	"github.com/okian/draftwatch/internal/adapters/repository/sqlstore"
	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/config"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/internal/domain/proximity"
	"github.com/okian/draftwatch/internal/domain/risk"
	"github.com/okian/draftwatch/pkg/logger"
)

var errUnknownDriver = errors.New("unknown storage driver")

// stack bundles a service with the resources it owns.
type stack struct {
	svc       *service.Service
	store     repository.Store
	consensus *consensus.FileProvider // nil without consensus.path
	lookback  time.Duration
	closers   []func() error
}

// Close releases the store and any side resources in reverse order.
func (r *stack) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore returns the store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.Storage, log logger.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return repository.NewMemoryStore(), nil
	case config.DriverBadger:
		s, err := badgerstore.Open(cfg.Path, badgerstore.WithLogger(log.Named("badgerstore")))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite, config.DriverPostgres:
		s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN, sqlstore.WithLogger(log.Named("sqlstore")))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Driver, errUnknownDriver)
	}
}

// buildStack opens the configured store and side resources and constructs
// the service over them. The service is not started.
func buildStack(ctx context.Context, cfg *config.Config, log logger.Logger) (*stack, error) {
	store, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	rt := &stack{
		store:    store,
		lookback: cfg.Aggregation.Lookback,
		closers:  []func() error{store.Close},
	}

	var provider consensus.Provider = consensus.Static{}
	if cfg.Consensus.Path != "" {
		fp, err := consensus.NewFileProvider(ctx, cfg.Consensus.Path, log.Named("consensus"))
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("load consensus table: %w", err)
		}
		rt.consensus = fp
		provider = fp
	} else {
		log.Warn(ctx, "no consensus table configured; every item uses the default expected rank",
			logger.Float64("default_expected_rank", cfg.Scoring.DefaultExpectedRank))
	}

	trackerOpts := []proximity.Option{
		proximity.WithProximityMeters(cfg.Tracker.ProximityMeters),
		proximity.WithMaxAttempts(cfg.Tracker.MaxAttempts),
		proximity.WithBackoff(cfg.Tracker.BaseBackoff, cfg.Tracker.MaxBackoff),
		proximity.WithSnapshotTTL(cfg.Tracker.SnapshotTTL),
	}
	if cfg.GeoIP.ASNDBPath != "" {
		resolver, err := netinfo.Open(cfg.GeoIP.ASNDBPath,
			netinfo.WithCacheSize(cfg.GeoIP.CacheSize),
			netinfo.WithLogger(log.Named("netinfo")),
		)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, resolver.Close)
		trackerOpts = append(trackerOpts, proximity.WithNetworkResolver(resolver))
	}

	rt.svc = service.New(store,
		service.WithLogger(log.Named("service")),
		service.WithWorkerCount(cfg.Pipeline.WorkerCount),
		service.WithScoringWorkers(cfg.Pipeline.ScoringWorkers),
		service.WithQueueSize(cfg.Pipeline.QueueSize),
		service.WithDedupeSize(cfg.Pipeline.DedupeSize),
		service.WithAggregationSchedule(cfg.Aggregation.Interval, cfg.Aggregation.Lookback),
		service.WithConsensus(provider),
		service.WithTrackerOptions(trackerOpts...),
		service.WithScorerOptions(risk.WithParams(cfg.Scoring)),
		service.WithAggregatorOptions(
			pattern.WithTiers(cfg.Aggregation.Tiers),
			pattern.WithHistoryLimit(cfg.Aggregation.HistoryLimit),
			pattern.WithParallelism(cfg.Aggregation.Parallelism),
		),
	)
	return rt, nil
}

// loadConfig loads configuration and applies the log level.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevelString(cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return cfg, nil
}
