package repository

import (
	"fmt"
	"sort"
	"time"

	"github.com/okian/draftwatch/internal/domain/model"
)

// SortPicks orders picks by pick number, then participant id.
func SortPicks(picks []model.PickEvent) {
	sort.SliceStable(picks, func(i, j int) bool {
		if picks[i].PickNumber != picks[j].PickNumber {
			return picks[i].PickNumber < picks[j].PickNumber
		}
		return picks[i].ParticipantID < picks[j].ParticipantID
	})
}

// SortResults orders results by session time, then session id.
func SortResults(results []*model.SessionRiskResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].SessionTime.Equal(results[j].SessionTime) {
			return results[i].SessionTime.Before(results[j].SessionTime)
		}
		return results[i].SessionID < results[j].SessionID
	})
}

// SortHistories orders histories by severity desc, last session desc, then pair key.
func SortHistories(histories []*model.PairHistory) {
	sort.SliceStable(histories, func(i, j int) bool {
		a, b := histories[i], histories[j]
		if a.OverallRiskLevel.Severity() != b.OverallRiskLevel.Severity() {
			return a.OverallRiskLevel.Severity() > b.OverallRiskLevel.Severity()
		}
		if !a.LastSessionTogether.Equal(b.LastSessionTogether) {
			return a.LastSessionTogether.After(b.LastSessionTogether)
		}
		return a.Pair.String() < b.Pair.String()
	})
}

// AtLeast reports whether h is at or above minLevel. An empty minLevel matches all.
func AtLeast(h *model.PairHistory, minLevel model.RiskLevel) bool {
	return minLevel == "" || h.OverallRiskLevel.Severity() >= minLevel.Severity()
}

// SnapshotExpired reports whether s carries an expiry that has passed.
func SnapshotExpired(s *model.ProximitySnapshot, now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ValidateState rejects states that cannot be persisted.
func ValidateState(state *model.SessionState) error {
	if state == nil || state.SessionID == "" || state.Summary == nil {
		return fmt.Errorf("session state: %w", ErrInvalidInput)
	}
	return nil
}

// ValidatePick rejects picks without an identity.
func ValidatePick(ev *model.PickEvent) error {
	if ev.SessionID == "" || ev.ParticipantID == "" || ev.PickNumber < 1 {
		return fmt.Errorf("pick %q: %w", ev.Key(), ErrInvalidInput)
	}
	return nil
}
