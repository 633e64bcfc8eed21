// Package service wires the integrity pipeline together: pick intake, the
// proximity tracker workers, session scoring and scheduled aggregation.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/draftwatch/internal/adapters/mq/queue"
	"github.com/okian/draftwatch/internal/adapters/mq/worker"
	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/dedupe"
	"github.com/okian/draftwatch/internal/domain/geo"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/internal/domain/proximity"
	"github.com/okian/draftwatch/internal/domain/risk"
	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize           = 10000
	defaultDedupeSize          = 50000
	defaultScoringWorkers      = 2
	defaultAggregationInterval = 7 * 24 * time.Hour
	defaultAggregationLookback = 90 * 24 * time.Hour

	pickQueueName  = "picks"
	scoreQueueName = "scoring"
)

// QueueStats describes one queue.
type QueueStats struct {
	Name     string `json:"name"`
	Length   int    `json:"length"`
	Capacity int    `json:"capacity"`
}

// Stats is the service snapshot served on /stats.
type Stats struct {
	Started      bool           `json:"started"`
	Queues       []QueueStats   `json:"queues"`
	Pools        []worker.Stats `json:"pools"`
	DedupeSize   int64          `json:"dedupe_size"`
	DroppedPicks int64          `json:"dropped_picks"`
}

// Service implements the operations exposed by the HTTP API and the CLI.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	tracker    *proximity.Tracker
	scorer     *risk.Scorer
	aggregator *pattern.Aggregator
	deduper    dedupe.Deduper
	pickQueue  *queue.InMemoryQueue[model.PickEvent]
	scoreQueue *queue.InMemoryQueue[string]
	pickPool   *worker.Pool[model.PickEvent]
	scorePool  *worker.Pool[string]
	consensus  consensus.Provider

	// Configuration
	workerCount         int
	scoringWorkers      int
	queueSize           int
	dedupeSize          int
	aggregationInterval time.Duration
	aggregationLookback time.Duration
	trackerOpts         []proximity.Option
	scorerOpts          []risk.Option
	aggregatorOpts      []pattern.Option

	// State
	started      bool
	cancel       context.CancelFunc
	background   sync.WaitGroup
	droppedPicks atomic.Int64

	logger logger.Logger
	now    func() time.Time
}

// New constructs a Service over store. Components are ready for synchronous
// use immediately; Start launches the background workers.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:               store,
		workerCount:         runtime.NumCPU() * 2,
		scoringWorkers:      defaultScoringWorkers,
		queueSize:           defaultQueueSize,
		dedupeSize:          defaultDedupeSize,
		aggregationInterval: defaultAggregationInterval,
		aggregationLookback: defaultAggregationLookback,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.tracker = proximity.NewTracker(store,
		append([]proximity.Option{proximity.WithLogger(s.logger.Named("tracker"))}, s.trackerOpts...)...)
	s.scorer = risk.NewScorer(store, s.consensus,
		append([]risk.Option{risk.WithLogger(s.logger.Named("scorer"))}, s.scorerOpts...)...)
	s.aggregator = pattern.NewAggregator(store,
		append([]pattern.Option{pattern.WithLogger(s.logger.Named("aggregator"))}, s.aggregatorOpts...)...)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	s.pickQueue = queue.NewInMemoryQueue[model.PickEvent](
		queue.WithName(pickQueueName),
		queue.WithCapacity(s.queueSize),
	)
	s.scoreQueue = queue.NewInMemoryQueue[string](
		queue.WithName(scoreQueueName),
		queue.WithCapacity(s.queueSize),
	)
	s.pickPool = worker.NewPool[model.PickEvent](s.pickQueue, s.trackPick,
		worker.WithName("tracker"),
		worker.WithWorkers(s.workerCount),
		worker.WithLogger(s.logger),
	)
	s.scorePool = worker.NewPool[string](s.scoreQueue, s.scoreQueued,
		worker.WithName("scorer"),
		worker.WithWorkers(s.scoringWorkers),
		worker.WithLogger(s.logger),
	)
	return s
}

// Start launches the worker pools, their error drains and the aggregation
// schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pickPool.Start(runCtx)
	s.scorePool.Start(runCtx)
	s.drain(runCtx, "tracker", s.pickPool.Errors())
	s.drain(runCtx, "scorer", s.scorePool.Errors())
	if s.aggregationInterval > 0 {
		s.background.Add(1)
		go s.aggregationLoop(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "integrity service started",
		logger.Int("workers", s.workerCount),
		logger.Int("scoring_workers", s.scoringWorkers),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Duration("aggregation_interval", s.aggregationInterval),
	)
	return nil
}

// Stop drains both queues and stops background work. Picks still queued when
// ctx expires are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping integrity service...")

	err := errors.Join(
		s.pickPool.Shutdown(ctx),
		s.scorePool.Shutdown(ctx),
	)
	s.cancel()
	s.background.Wait()

	s.started = false
	s.logger.Info(ctx, "integrity service stopped")
	return err
}

func (s *Service) drain(ctx context.Context, pool string, errs <-chan error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				metrics.RecordErrorByComponent(pool, "handler_error")
				s.logger.Warn(ctx, "background task failed",
					logger.String("pool", pool),
					logger.Error(err),
				)
			}
		}
	}()
}

func (s *Service) aggregationLoop(ctx context.Context) {
	defer s.background.Done()
	ticker := time.NewTicker(s.aggregationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunAggregation(ctx, s.aggregationLookback); err != nil {
				s.logger.Error(ctx, "scheduled aggregation failed", logger.Error(err))
			}
		}
	}
}

func (s *Service) trackPick(ctx context.Context, ev model.PickEvent) error {
	if _, err := s.tracker.Track(ctx, ev); err != nil {
		return fmt.Errorf("track %s: %w", ev.Key(), err)
	}
	return nil
}

func (s *Service) scoreQueued(ctx context.Context, sessionID string) error {
	_, err := s.scorer.ScoreSession(ctx, sessionID)
	return err
}

// RecordPick stores ev in the pick log and hands it to the tracker without
// waiting. Only an invalid pick or a pick log failure is reported; tracker
// backlog or failure never is.
func (s *Service) RecordPick(ctx context.Context, ev model.PickEvent) error {
	if err := repository.ValidatePick(&ev); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPick, err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	metrics.RecordPickReceived()

	if err := s.store.AppendPick(ctx, ev); err != nil {
		return fmt.Errorf("record pick %s: %w", ev.Key(), err)
	}

	if dedupe.SeenPick(ctx, s.deduper, &ev) {
		metrics.RecordPickDuplicate()
		s.logger.Debug(ctx, "duplicate pick, not re-tracked", logger.String("pick", ev.Key()))
		return nil
	}

	if err := s.pickQueue.TryEnqueue(ctx, ev); err != nil {
		s.deduper.Unrecord(ctx, ev.Key())
		s.droppedPicks.Add(1)
		reason := "queue_full"
		if errors.Is(err, queue.ErrClosed) {
			reason = "queue_closed"
		}
		metrics.RecordPickDropped(reason)
		s.logger.Warn(ctx, "proximity check skipped",
			logger.String("pick", ev.Key()),
			logger.String("reason", reason),
		)
	}
	return nil
}

// MarkSessionCompleted closes the session ledger, records a pending result
// and queues the session for scoring.
func (s *Service) MarkSessionCompleted(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	summary, err := s.tracker.Complete(ctx, sessionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", sessionID, err)
	}
	metrics.RecordSessionCompleted()

	if _, err := s.store.GetResult(ctx, sessionID); errors.Is(err, repository.ErrNotFound) {
		pending := &model.SessionRiskResult{
			SessionID:   sessionID,
			Pairs:       []model.PairRiskScore{},
			Status:      model.ResultPending,
			SessionTime: summary.CompletedAt,
		}
		if err := s.store.PutResult(ctx, pending); err != nil {
			return nil, fmt.Errorf("record pending result %s: %w", sessionID, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load result %s: %w", sessionID, err)
	}

	if err := s.scoreQueue.TryEnqueue(ctx, sessionID); err != nil {
		s.logger.Warn(ctx, "scoring not queued, session left pending",
			logger.String("session", sessionID),
			logger.Error(err),
		)
	}
	return summary, nil
}

// MarkSessionReviewed records the human review of a completed session on
// both its ledger and its result.
func (s *Service) MarkSessionReviewed(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	summary, err := s.tracker.MarkReviewed(ctx, sessionID, s.now())
	if err != nil {
		return nil, err
	}

	err = s.store.MarkResultReviewed(ctx, sessionID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return summary, nil
	case err != nil:
		return nil, fmt.Errorf("mark result reviewed %s: %w", sessionID, err)
	}
	return summary, nil
}

// ScoreSession scores a session synchronously.
func (s *Service) ScoreSession(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	return s.scorer.ScoreSession(ctx, sessionID)
}

// RescorePending scores every session whose result is still pending and
// returns how many succeeded. One failing session does not stop the others.
func (s *Service) RescorePending(ctx context.Context) (int, error) {
	results, err := s.store.ListResults(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("list results: %w", err)
	}

	var scored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.scoringWorkers)
	for _, r := range results {
		if r.Status != model.ResultPending {
			continue
		}
		sessionID := r.SessionID
		g.Go(func() error {
			if _, err := s.scorer.ScoreSession(gctx, sessionID); err != nil {
				s.logger.Warn(gctx, "pending session not scored",
					logger.String("session", sessionID),
					logger.Error(err),
				)
				return nil
			}
			scored.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(scored.Load()), err
}

// RunAggregation rebuilds pair histories; a non-positive lookback uses the
// configured one.
func (s *Service) RunAggregation(ctx context.Context, lookback time.Duration) (pattern.Summary, error) {
	if lookback <= 0 {
		lookback = s.aggregationLookback
	}
	return s.aggregator.RunAggregation(ctx, lookback)
}

// GetIntegrity returns the session's flag ledger.
func (s *Service) GetIntegrity(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error) {
	return s.store.GetSummary(ctx, sessionID)
}

// GetRisk returns the session's risk result.
func (s *Service) GetRisk(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	return s.store.GetResult(ctx, sessionID)
}

// GetPairHistory returns the history of a pair given in either order.
func (s *Service) GetPairHistory(ctx context.Context, a, b string) (*model.PairHistory, error) {
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("pair %q/%q: %w", a, b, repository.ErrInvalidInput)
	}
	return s.store.GetHistory(ctx, geo.CanonicalPairKey(a, b))
}

// ListPairs returns pair histories at or above minLevel.
func (s *Service) ListPairs(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error) {
	return s.store.ListHistories(ctx, minLevel)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	return Stats{
		Started: s.started,
		Queues: []QueueStats{
			{Name: s.pickQueue.Name(), Length: s.pickQueue.Len(ctx), Capacity: s.pickQueue.Cap()},
			{Name: s.scoreQueue.Name(), Length: s.scoreQueue.Len(ctx), Capacity: s.scoreQueue.Cap()},
		},
		Pools:        []worker.Stats{s.pickPool.Stats(), s.scorePool.Stats()},
		DedupeSize:   s.deduper.Size(),
		DroppedPicks: s.droppedPicks.Load(),
	}
}
