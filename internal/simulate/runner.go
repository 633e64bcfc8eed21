package simulate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/report"
	"github.com/okian/draftwatch/pkg/logger"
)

// Idle polling constants.
const (
	idlePollInterval = 20 * time.Millisecond
	idleStreak       = 2
	pickQueueName    = "picks"
	trackerPoolName  = "tracker"
)

// ErrNotIdle is returned when the tracker backlog does not drain in time.
var ErrNotIdle = errors.New("pipeline did not drain")

// Outcome is what one simulation produced.
type Outcome struct {
	Draft    Draft
	Result   *model.SessionRiskResult
	Colluder *model.PairRiskScore // nil when the colluding pair was not scored
}

// Detected reports whether the colluding pair was ranked first and sent for review.
func (o *Outcome) Detected() bool {
	if o.Colluder == nil || o.Result == nil || len(o.Result.Pairs) == 0 {
		return false
	}
	top := o.Result.Pairs[0]
	return top.Pair == o.Draft.Colluders &&
		(top.Recommendation == model.RecommendReview || top.Recommendation == model.RecommendUrgent)
}

// Run plays draft against target, completes and scores the session and
// writes the report to out.
func Run(ctx context.Context, cfg Config, draft Draft, target Target, out io.Writer) (*Outcome, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = logger.Named("simulate")
	}

	log.Info(ctx, "playing draft",
		logger.String("session", draft.SessionID),
		logger.Int("participants", len(draft.Participants)),
		logger.Int("picks", len(draft.Picks)),
		logger.String("colluders", draft.Colluders.String()),
	)

	if cfg.ConsensusOut != "" {
		if err := WriteConsensus(cfg.ConsensusOut, draft.Consensus); err != nil {
			return nil, err
		}
		log.Info(ctx, "consensus table written", logger.String("path", cfg.ConsensusOut))
	}

	for i := range draft.Picks {
		if err := target.SubmitPick(ctx, draft.Picks[i]); err != nil {
			return nil, fmt.Errorf("submit pick %d: %w", draft.Picks[i].PickNumber, err)
		}
	}

	if err := waitIdle(ctx, target, cfg.Timeout); err != nil {
		return nil, err
	}
	if err := target.Complete(ctx, draft.SessionID); err != nil {
		return nil, fmt.Errorf("complete %s: %w", draft.SessionID, err)
	}
	result, err := target.Score(ctx, draft.SessionID)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", draft.SessionID, err)
	}

	outcome := &Outcome{Draft: draft, Result: result}
	for i := range result.Pairs {
		if result.Pairs[i].Pair == draft.Colluders {
			outcome.Colluder = &result.Pairs[i]
			break
		}
	}

	if err := report.WriteSession(out, result, time.Now()); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	if outcome.Colluder != nil {
		_, err = fmt.Fprintf(out, "\ncolluding pair %s scored %d (%s), detected: %t\n",
			draft.Colluders, outcome.Colluder.CompositeScore, outcome.Colluder.Recommendation, outcome.Detected())
	} else {
		_, err = fmt.Fprintf(out, "\ncolluding pair %s was not scored\n", draft.Colluders)
	}
	if err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return outcome, nil
}

// waitIdle polls until the pick queue is empty and no tracker worker is busy
// on consecutive polls.
func waitIdle(ctx context.Context, target Target, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	streak := 0
	for {
		stats, err := target.Stats(ctx)
		if err != nil {
			return fmt.Errorf("read stats: %w", err)
		}
		if isIdle(stats) {
			streak++
		} else {
			streak = 0
		}
		if streak >= idleStreak {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotIdle, ctx.Err())
		case <-ticker.C:
		}
	}
}

func isIdle(stats service.Stats) bool {
	for _, q := range stats.Queues {
		if q.Name == pickQueueName && q.Length > 0 {
			return false
		}
	}
	for _, p := range stats.Pools {
		if p.Name == trackerPoolName && p.Active > 0 {
			return false
		}
	}
	return true
}

// WriteConsensus writes table as an item_id,expected_rank CSV ordered by rank.
func WriteConsensus(path string, table consensus.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create consensus table: %w", err)
	}

	items := make([]string, 0, len(table))
	for item := range table {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if table[items[i]] != table[items[j]] {
			return table[items[i]] < table[items[j]]
		}
		return items[i] < items[j]
	})

	w := csv.NewWriter(f)
	_ = w.Write([]string{"item_id", "expected_rank"})
	for _, item := range items {
		_ = w.Write([]string{item, strconv.FormatFloat(table[item], 'f', -1, 64)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write consensus table: %w", err)
	}
	return f.Close()
}
