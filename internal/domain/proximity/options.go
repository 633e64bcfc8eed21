package proximity

import (
	"time"

	"github.com/okian/draftwatch/pkg/logger"
)

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithProximityMeters sets the physical proximity threshold.
func WithProximityMeters(meters float64) Option {
	return func(t *Tracker) {
		if meters > 0 {
			t.proximityMeters = meters
		}
	}
}

// WithMaxAttempts bounds the compare-and-swap attempts per event.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithBackoff sets the base and maximum delay between attempts.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(t *Tracker) {
		if base > 0 {
			t.baseBackoff = base
		}
		if maxDelay >= t.baseBackoff {
			t.maxBackoff = maxDelay
		}
	}
}

// WithSnapshotTTL sets how long an idle snapshot survives.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.snapshotTTL = ttl
		}
	}
}

// WithNetworkResolver enables enrichment of network flags.
func WithNetworkResolver(r NetworkResolver) Option {
	return func(t *Tracker) {
		if r != nil {
			t.resolver = r
		}
	}
}

// WithLogger sets a custom logger for the tracker.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}
