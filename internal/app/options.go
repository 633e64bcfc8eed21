package service

import (
	"time"

	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/internal/domain/proximity"
	"github.com/okian/draftwatch/internal/domain/risk"
	"github.com/okian/draftwatch/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of tracker worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithScoringWorkers sets how many sessions are scored concurrently.
func WithScoringWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.scoringWorkers = count
		}
	}
}

// WithQueueSize sets the capacity of the pick and scoring queues.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the pick deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithAggregationSchedule runs aggregation every interval over lookback.
// A zero interval disables the schedule.
func WithAggregationSchedule(interval, lookback time.Duration) Option {
	return func(s *Service) {
		if interval >= 0 {
			s.aggregationInterval = interval
		}
		if lookback > 0 {
			s.aggregationLookback = lookback
		}
	}
}

// WithConsensus sets the expected-rank source used by the scorer.
func WithConsensus(p consensus.Provider) Option {
	return func(s *Service) {
		if p != nil {
			s.consensus = p
		}
	}
}

// WithTrackerOptions passes options through to the proximity tracker.
func WithTrackerOptions(opts ...proximity.Option) Option {
	return func(s *Service) { s.trackerOpts = append(s.trackerOpts, opts...) }
}

// WithScorerOptions passes options through to the risk scorer.
func WithScorerOptions(opts ...risk.Option) Option {
	return func(s *Service) { s.scorerOpts = append(s.scorerOpts, opts...) }
}

// WithAggregatorOptions passes options through to the pattern aggregator.
func WithAggregatorOptions(opts ...pattern.Option) Option {
	return func(s *Service) { s.aggregatorOpts = append(s.aggregatorOpts, opts...) }
}

// WithLogger sets a custom logger for the service and its components.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for lifecycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
