// Package pattern rebuilds cross-session pair histories from scored sessions
// and classifies each pair's overall risk level.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

// Default aggregator configuration constants.
const (
	defaultHistoryLimit = 20
	defaultParallelism  = 8
)

// Store is the persistence the aggregator reads results from and writes
// histories to.
type Store interface {
	ListResults(ctx context.Context, since time.Time) ([]*model.SessionRiskResult, error)
	PutHistory(ctx context.Context, h *model.PairHistory) error
	ListHistories(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error)
	DeleteHistory(ctx context.Context, pair model.PairKey) error
}

// Summary reports one aggregation run. PairsAnalyzed excludes failed pairs.
// ExpiredPairs counts stored histories removed because none of their
// sessions remain inside the window.
type Summary struct {
	RunID           string    `json:"run_id"`
	Since           time.Time `json:"since"`
	SessionsScanned int       `json:"sessions_scanned"`
	PairsAnalyzed   int       `json:"pairs_analyzed"`
	HighRiskPairs   int       `json:"high_risk_pairs"`
	CriticalPairs   int       `json:"critical_pairs"`
	FailedPairs     int       `json:"failed_pairs"`
	ExpiredPairs    int       `json:"expired_pairs"`
}

// Aggregator rebuilds PairHistory records.
type Aggregator struct {
	mu           sync.Mutex // one run at a time
	store        Store
	tiers        Tiers
	historyLimit int
	parallelism  int
	logger       logger.Logger
	now          func() time.Time
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:        store,
		tiers:        DefaultTiers(),
		historyLimit: defaultHistoryLimit,
		parallelism:  defaultParallelism,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Named("aggregator")
	}
	return a
}

// RunAggregation rebuilds the history of every pair seen in results whose
// session time falls within lookback and removes the histories of pairs with
// no session left in it. A failure to load results or histories is returned;
// a failure to store or remove one pair is logged and counted.
func (a *Aggregator) RunAggregation(ctx context.Context, lookback time.Duration) (Summary, error) {
	if lookback <= 0 {
		return Summary{}, ErrInvalidLookback
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	now := a.now()
	summary := Summary{RunID: uuid.NewString(), Since: now.Add(-lookback)}
	log := a.logger.With(logger.String("run_id", summary.RunID))

	results, err := a.store.ListResults(ctx, summary.Since)
	if err != nil {
		return summary, fmt.Errorf("load results since %s: %w", summary.Since.Format(time.RFC3339), err)
	}

	grouped := make(map[model.PairKey][]model.SessionOccurrence)
	for _, r := range results {
		if r.Status == model.ResultPending {
			continue
		}
		summary.SessionsScanned++
		for i := range r.Pairs {
			p := &r.Pairs[i]
			grouped[p.Pair] = append(grouped[p.Pair], model.SessionOccurrence{
				SessionID: r.SessionID,
				Score:     p.CompositeScore,
				Colocated: p.Colocated(),
				At:        r.SessionTime,
			})
		}
	}

	var analyzed, high, critical, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for pair, occurrences := range grouped {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h := a.Build(pair, occurrences, now)
			if err := a.store.PutHistory(gctx, h); err != nil {
				failed.Add(1)
				metrics.RecordAggregationFailure()
				log.Error(gctx, "pair history not stored",
					logger.String("pair", pair.String()),
					logger.Error(err),
				)
				return nil
			}
			analyzed.Add(1)
			metrics.RecordAggregatedPair(string(h.OverallRiskLevel))
			switch h.OverallRiskLevel {
			case model.RiskCritical:
				critical.Add(1)
			case model.RiskHigh:
				high.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		var expired int
		expired, err = a.expire(ctx, grouped, &failed, log)
		summary.ExpiredPairs = expired
	}

	summary.PairsAnalyzed = int(analyzed.Load())
	summary.HighRiskPairs = int(high.Load())
	summary.CriticalPairs = int(critical.Load())
	summary.FailedPairs = int(failed.Load())
	metrics.RecordAggregationRun(float64(time.Since(start).Milliseconds()))

	if err != nil {
		return summary, fmt.Errorf("aggregation interrupted: %w", err)
	}
	log.Info(ctx, "aggregation complete",
		logger.Int("sessions", summary.SessionsScanned),
		logger.Int("pairs", summary.PairsAnalyzed),
		logger.Int("high", summary.HighRiskPairs),
		logger.Int("critical", summary.CriticalPairs),
		logger.Int("failed", summary.FailedPairs),
		logger.Int("expired", summary.ExpiredPairs),
		logger.Duration("took", time.Since(start)),
	)
	return summary, nil
}

// expire deletes stored histories of pairs absent from grouped.
func (a *Aggregator) expire(ctx context.Context, grouped map[model.PairKey][]model.SessionOccurrence, failed *atomic.Int64, log logger.Logger) (int, error) {
	stored, err := a.store.ListHistories(ctx, model.RiskLow)
	if err != nil {
		return 0, fmt.Errorf("list stored histories: %w", err)
	}
	var expired int
	for _, h := range stored {
		if _, ok := grouped[h.Pair]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if err := a.store.DeleteHistory(ctx, h.Pair); err != nil {
			failed.Add(1)
			metrics.RecordAggregationFailure()
			log.Error(ctx, "expired pair history not removed",
				logger.String("pair", h.Pair.String()),
				logger.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

// Build computes a pair history from its occurrences.
func (a *Aggregator) Build(pair model.PairKey, occurrences []model.SessionOccurrence, now time.Time) *model.PairHistory {
	sorted := append([]model.SessionOccurrence(nil), occurrences...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].At.Equal(sorted[j].At) {
			return sorted[i].At.After(sorted[j].At)
		}
		return sorted[i].SessionID < sorted[j].SessionID
	})

	h := &model.PairHistory{
		Pair:                  pair,
		TotalSessionsTogether: len(sorted),
		LastAnalyzed:          now,
	}
	var colocatedSum, otherSum float64
	for _, o := range sorted {
		if o.Colocated {
			h.SessionsWithPhysicalProximity++
			colocatedSum += float64(o.Score)
		} else {
			otherSum += float64(o.Score)
		}
	}
	if n := h.SessionsWithPhysicalProximity; n > 0 {
		h.MeanRiskWhenColocated = colocatedSum / float64(n)
	}
	if n := h.TotalSessionsTogether - h.SessionsWithPhysicalProximity; n > 0 {
		h.MeanRiskWhenNot = otherSum / float64(n)
	}
	h.RiskDifferential = h.MeanRiskWhenColocated - h.MeanRiskWhenNot
	if h.TotalSessionsTogether > 0 {
		h.CoLocationRate = float64(h.SessionsWithPhysicalProximity) / float64(h.TotalSessionsTogether)
		h.LastSessionTogether = sorted[0].At
		h.FirstSessionTogether = sorted[len(sorted)-1].At
	}

	limit := min(a.historyLimit, len(sorted))
	h.Recent = sorted[:limit:limit]
	h.OverallRiskLevel = a.tiers.Classify(h)
	return h
}
