// Package risk computes the post-session composite collusion risk of every
// flagged or behaviorally suspicious participant pair.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/geo"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

// ErrNoSession is returned when a session has neither a ledger nor picks.
var ErrNoSession = errors.New("session has no ledger and no picks")

// Store is the persistence the scorer reads from and writes to.
type Store interface {
	GetSummary(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	ListPicks(ctx context.Context, sessionID string) ([]model.PickEvent, error)
	GetResult(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
	PutResult(ctx context.Context, r *model.SessionRiskResult) error
}

// Scorer produces SessionRiskResults.
type Scorer struct {
	store     Store
	consensus consensus.Provider
	params    Params
	logger    logger.Logger
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithParams overrides the calibration.
func WithParams(p Params) Option {
	return func(s *Scorer) { s.params = p }
}

// WithLogger sets a custom logger for the scorer.
func WithLogger(l logger.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScorer creates a scorer. A nil provider scores every item at the default rank.
func NewScorer(store Store, provider consensus.Provider, opts ...Option) *Scorer {
	s := &Scorer{
		store:     store,
		consensus: provider,
		params:    DefaultParams(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.consensus == nil {
		s.consensus = consensus.Static{}
	}
	if s.logger == nil {
		s.logger = logger.Named("scorer")
	}
	return s
}

// Params returns the calibration in use.
func (s *Scorer) Params() Params { return s.params }

// ScoreSession scores a session from its ledger and pick log and replaces the
// stored result. Unchanged inputs produce an identical result.
func (s *Scorer) ScoreSession(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	start := time.Now()
	result, err := s.scoreSession(ctx, sessionID)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.RecordScoringError()
		return nil, err
	}

	metrics.RecordSessionScored()
	for i := range result.Pairs {
		metrics.RecordPairScored(string(result.Pairs[i].Recommendation))
	}
	s.logger.Info(ctx, "session scored",
		logger.String("session", sessionID),
		logger.Int("pairs", len(result.Pairs)),
		logger.Int("max_score", result.MaxScore),
		logger.Int("above_monitor", result.CountAboveMonitor),
	)
	return result, nil
}

func (s *Scorer) scoreSession(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	picks, err := s.store.ListPicks(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list picks %s: %w", sessionID, err)
	}
	summary, err := s.store.GetSummary(ctx, sessionID)
	switch {
	case errors.Is(err, repository.ErrNotFound) && len(picks) > 0:
		summary = model.NewSessionIntegritySummary(sessionID)
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoSession)
	case err != nil:
		return nil, fmt.Errorf("load ledger %s: %w", sessionID, err)
	}

	table, err := s.consensus.Table(ctx)
	if err != nil {
		s.logger.Warn(ctx, "consensus table unavailable, using default rank",
			logger.String("session", sessionID),
			logger.Float64("default_rank", s.params.DefaultExpectedRank),
			logger.Error(err),
		)
		table = consensus.Table{}
	}

	result := Score(s.params, summary, picks, table)

	previous, err := s.store.GetResult(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load previous result %s: %w", sessionID, err)
	}
	if summary.Status == model.IntegrityReviewed || (previous != nil && previous.Status == model.ResultReviewed) {
		result.Status = model.ResultReviewed
	}

	if err := s.store.PutResult(ctx, result); err != nil {
		return nil, fmt.Errorf("store result %s: %w", sessionID, err)
	}
	// A review that landed after the read above is kept by the store.
	stored, err := s.store.GetResult(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload result %s: %w", sessionID, err)
	}
	return stored, nil
}

// selection is one pick reduced to what scoring needs.
type selection struct {
	pick      int
	deviation float64
}

// Score is the pure scoring function behind ScoreSession.
func Score(p Params, summary *model.SessionIntegritySummary, picks []model.PickEvent, table consensus.Table) *model.SessionRiskResult {
	byParticipant := make(map[string][]selection)
	var lastPick time.Time
	for i := range picks {
		ev := &picks[i]
		expected := table.Rank(ev.ItemID, p.DefaultExpectedRank)
		byParticipant[ev.ParticipantID] = append(byParticipant[ev.ParticipantID], selection{
			pick:      ev.PickNumber,
			deviation: float64(ev.PickNumber) - expected,
		})
		if ev.Timestamp.After(lastPick) {
			lastPick = ev.Timestamp
		}
	}
	for id := range byParticipant {
		sels := byParticipant[id]
		sort.Slice(sels, func(i, j int) bool { return sels[i].pick < sels[j].pick })
	}

	participants := make(map[string]struct{}, len(byParticipant))
	for id := range byParticipant {
		participants[id] = struct{}{}
	}
	for _, f := range summary.Flags {
		participants[f.Pair.Low] = struct{}{}
		participants[f.Pair.High] = struct{}{}
	}
	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := make([]model.PairRiskScore, 0)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			pair := geo.CanonicalPairKey(ids[i], ids[j])
			flag := summary.Flag(pair)

			loc, locEv := locationScore(p, flag)
			beh, behEv := behaviorScore(p, pair, byParticipant[pair.Low], byParticipant[pair.High])
			ben, benEv := benefitScore(p, pair, byParticipant[pair.Low], byParticipant[pair.High])

			if flag == nil && beh < p.UnflaggedInclusionScore && ben < p.UnflaggedInclusionScore {
				continue
			}

			composite := clamp(int(math.Round(
				p.WeightLocation*float64(loc) + p.WeightBehavior*float64(beh) + p.WeightBenefit*float64(ben),
			)))
			evidence := make([]model.Evidence, 0, len(locEv)+len(behEv)+len(benEv))
			evidence = append(evidence, locEv...)
			evidence = append(evidence, behEv...)
			evidence = append(evidence, benEv...)

			pairs = append(pairs, model.PairRiskScore{
				Pair:           pair,
				LocationScore:  loc,
				BehaviorScore:  beh,
				BenefitScore:   ben,
				CompositeScore: composite,
				Evidence:       evidence,
				Recommendation: recommend(p, composite),
			})
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].CompositeScore != pairs[j].CompositeScore {
			return pairs[i].CompositeScore > pairs[j].CompositeScore
		}
		return pairs[i].Pair.String() < pairs[j].Pair.String()
	})

	result := &model.SessionRiskResult{
		SessionID:   summary.SessionID,
		Pairs:       pairs,
		Status:      model.ResultAnalyzed,
		SessionTime: summary.CompletedAt,
	}
	if result.SessionTime.IsZero() {
		result.SessionTime = lastPick
	}
	total := 0
	for i := range pairs {
		c := pairs[i].CompositeScore
		total += c
		if c > result.MaxScore {
			result.MaxScore = c
		}
		if c >= p.MonitorScore {
			result.CountAboveMonitor++
		}
	}
	if len(pairs) > 0 {
		result.MeanScore = float64(total) / float64(len(pairs))
	}
	return result
}

func locationScore(p Params, flag *model.ProximityFlag) (int, []model.Evidence) {
	if flag == nil {
		return 0, nil
	}
	var score int
	var kind model.EvidenceKind
	switch flag.Kind {
	case model.FlagBoth:
		score, kind = p.LocationBoth, model.EvidenceFlagBoth
	case model.FlagPhysical:
		score, kind = p.LocationPhysical, model.EvidenceFlagPhysical
	case model.FlagNetwork:
		score, kind = p.LocationNetwork, model.EvidenceFlagNetwork
	default:
		return 0, nil
	}
	evidence := []model.Evidence{{Kind: kind, Count: flag.EventCount}}
	if flag.EventCount > p.RepeatedFlagThreshold {
		score += p.RepeatedFlagBonus
		evidence = append(evidence, model.Evidence{Kind: model.EvidenceRepeatedFlags, Count: flag.EventCount})
	}
	return clamp(score), evidence
}

func mean(sels []selection) float64 {
	if len(sels) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sels {
		sum += s.deviation
	}
	return sum / float64(len(sels))
}

func behaviorScore(p Params, pair model.PairKey, low, high []selection) (int, []model.Evidence) {
	if len(low) == 0 && len(high) == 0 {
		return 0, nil
	}
	score := 0
	var evidence []model.Evidence
	mLow, mHigh := mean(low), mean(high)

	if len(low) > 0 && len(high) > 0 {
		switch {
		case mLow < p.ReachThreshold && mHigh > p.FallThreshold:
			score += p.AsymmetricBonus
			evidence = append(evidence, model.Evidence{Kind: model.EvidenceAsymmetricReach, Participant: pair.Low, Amount: mLow})
		case mHigh < p.ReachThreshold && mLow > p.FallThreshold:
			score += p.AsymmetricBonus
			evidence = append(evidence, model.Evidence{Kind: model.EvidenceAsymmetricReach, Participant: pair.High, Amount: mHigh})
		}
		if math.Abs(mLow) > p.MutualExtremeThreshold && math.Abs(mHigh) > p.MutualExtremeThreshold {
			score += p.MutualExtremeBonus
			evidence = append(evidence, model.Evidence{
				Kind:   model.EvidenceMutualDeviation,
				Amount: math.Min(math.Abs(mLow), math.Abs(mHigh)),
			})
		}
	}

	egregious := func(sels []selection) int {
		n := 0
		for _, s := range sels {
			if s.deviation < p.EgregiousThreshold {
				n++
			}
		}
		return n
	}
	eLow, eHigh := egregious(low), egregious(high)
	if eLow >= p.EgregiousMinPicks || eHigh >= p.EgregiousMinPicks {
		score += p.EgregiousBonus
		who, n := pair.Low, eLow
		if eHigh > eLow {
			who, n = pair.High, eHigh
		}
		evidence = append(evidence, model.Evidence{Kind: model.EvidenceEgregiousReaches, Participant: who, Count: n})
	}
	return clamp(score), evidence
}

// transferred sums the follow-up value that to gained after each reach by from.
func transferred(p Params, from, to []selection) float64 {
	var total float64
	for _, reach := range from {
		if reach.deviation > p.ReachThreshold {
			continue
		}
		idx := sort.Search(len(to), func(i int) bool { return to[i].pick > reach.pick })
		if idx == len(to) {
			continue
		}
		next := to[idx]
		if next.pick-reach.pick <= p.BenefitWindow && next.deviation > p.BenefitValueThreshold {
			total += next.deviation
		}
	}
	return total
}

func benefitScore(p Params, pair model.PairKey, low, high []selection) (int, []model.Evidence) {
	toHigh := transferred(p, low, high)
	toLow := transferred(p, high, low)
	total := toHigh + toLow
	imbalance := math.Abs(toHigh - toLow)

	score := 0
	var evidence []model.Evidence
	if total > p.BenefitTotalThreshold {
		score += p.BenefitTotalBonus
		evidence = append(evidence, model.Evidence{Kind: model.EvidenceValueTransfer, Amount: total})
	}
	if imbalance > p.BenefitImbalanceThreshold {
		score += p.BenefitImbalanceBonus
		beneficiary := pair.High
		if toLow > toHigh {
			beneficiary = pair.Low
		}
		evidence = append(evidence, model.Evidence{Kind: model.EvidenceOneSidedBenefit, Participant: beneficiary, Amount: imbalance})
	}
	if total > p.BenefitHeavyThreshold {
		score += p.BenefitHeavyBonus
		evidence = append(evidence, model.Evidence{Kind: model.EvidenceHeavyValueTransfer, Amount: total})
	}
	return clamp(score), evidence
}

func recommend(p Params, composite int) model.Recommendation {
	switch {
	case composite >= p.UrgentScore:
		return model.RecommendUrgent
	case composite >= p.ReviewScore:
		return model.RecommendReview
	case composite >= p.MonitorScore:
		return model.RecommendMonitor
	default:
		return model.RecommendClear
	}
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
