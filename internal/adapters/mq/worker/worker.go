package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

// Default pool configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultErrorBuffer      = 256
	defaultName             = "pool"
)

// Handler processes one item.
type Handler[T any] func(ctx context.Context, item T) error

// Source defines how workers receive items.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name          string `json:"name"`
	Workers       int    `json:"workers"`
	Active        int64  `json:"active"`
	Processed     int64  `json:"processed"`
	Failed        int64  `json:"failed"`
	DroppedErrors int64  `json:"dropped_errors"`
}

// Pool manages the workers draining one source. Handler failures go to the
// pool's error channel and never back to whoever enqueued the item.
type Pool[T any] struct {
	name    string
	source  Source[T]
	handler Handler[T]
	workers int
	errs    chan error
	logger  logger.Logger

	shutdown chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool

	active        atomic.Int64
	processed     atomic.Int64
	failed        atomic.Int64
	droppedErrors atomic.Int64
}

// NewPool creates a pool reading from source.
func NewPool[T any](source Source[T], handler Handler[T], opts ...Option) *Pool[T] {
	s := settings{
		name:        defaultName,
		workers:     runtime.NumCPU() * defaultWorkerMultiplier,
		errorBuffer: defaultErrorBuffer,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Named("worker-pool")
	}

	p := &Pool[T]{
		name:     s.name,
		source:   source,
		handler:  handler,
		workers:  s.workers,
		errs:     make(chan error, s.errorBuffer),
		logger:   s.logger.Named(s.name),
		shutdown: make(chan struct{}),
	}
	metrics.UpdateWorkerActiveCount(p.name, 0)
	return p
}

// Errors returns the channel handler failures are reported on. It is never
// closed.
func (p *Pool[T]) Errors() <-chan error { return p.errs }

// Start starts all workers in the pool. Calling it twice has no effect.
func (p *Pool[T]) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, p.logger.Named("worker-"+strconv.Itoa(i)))
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", p.workers))
}

func (p *Pool[T]) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()

	items := p.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := p.process(ctx, item); err != nil {
				log.Debug(ctx, "item failed", logger.Error(err))
				p.report(err)
			}
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, item T) (err error) {
	start := time.Now()
	metrics.UpdateWorkerActiveCount(p.name, int(p.active.Add(1)))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: handler panic: %v", p.name, r)
		}
		metrics.UpdateWorkerActiveCount(p.name, int(p.active.Add(-1)))
		metrics.RecordWorkerProcessingLatency(p.name, float64(time.Since(start).Microseconds())/1000)
		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
			metrics.RecordWorkerError(p.name)
		}
	}()
	return p.handler(ctx, item)
}

func (p *Pool[T]) report(err error) {
	select {
	case p.errs <- err:
	default:
		p.droppedErrors.Add(1)
	}
}

// Stats returns the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:          p.name,
		Workers:       p.workers,
		Active:        p.active.Load(),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		DroppedErrors: p.droppedErrors.Load(),
	}
}

// Shutdown closes the source when it can be closed and waits for workers to
// drain what is already queued. When ctx expires first the workers are
// stopped without draining.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(p.shutdown)
		<-done
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("shutdown %s: %w", p.name, ctx.Err())
	}
}
