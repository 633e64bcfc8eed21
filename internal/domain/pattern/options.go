package pattern

import (
	"time"

	"github.com/okian/draftwatch/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithTiers replaces the classification thresholds.
func WithTiers(t Tiers) Option {
	return func(a *Aggregator) { a.tiers = t }
}

// WithHistoryLimit bounds the recent occurrences kept per pair.
func WithHistoryLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// WithParallelism bounds how many pairs are rebuilt at once.
func WithParallelism(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

// WithLogger sets a custom logger for the aggregator.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}
