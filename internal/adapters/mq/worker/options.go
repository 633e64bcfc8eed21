// Package worker runs queued items through a handler on a fixed set of
// goroutines.
package worker

import (
	"github.com/okian/draftwatch/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*settings)

type settings struct {
	name        string
	workers     int
	errorBuffer int
	logger      logger.Logger
}

// WithName sets the pool name for identification, logging and metrics.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithWorkers sets how many goroutines consume the queue.
func WithWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithErrorBuffer sets the capacity of the error channel. Errors that do not
// fit are counted and discarded.
func WithErrorBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.errorBuffer = n
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
