package model

import "time"

// RiskLevel is the cross-session classification of a pair.
type RiskLevel string

// Risk levels from least to most severe.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity orders levels; unknown levels sort lowest.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// ParseRiskLevel accepts the lower-case level names.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch l := RiskLevel(s); l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return l, true
	default:
		return "", false
	}
}

// SessionOccurrence is one session in which a pair was scored together.
type SessionOccurrence struct {
	SessionID string    `json:"session_id"`
	Score     int       `json:"score"`
	Colocated bool      `json:"colocated"`
	At        time.Time `json:"at"`
}

// PairHistory aggregates a pair's behavior across sessions in the lookback window.
type PairHistory struct {
	Pair                          PairKey             `json:"pair"`
	TotalSessionsTogether         int                 `json:"total_sessions_together"`
	SessionsWithPhysicalProximity int                 `json:"sessions_with_physical_proximity"`
	CoLocationRate                float64             `json:"co_location_rate"`
	MeanRiskWhenColocated         float64             `json:"mean_risk_when_colocated"`
	MeanRiskWhenNot               float64             `json:"mean_risk_when_not"`
	RiskDifferential              float64             `json:"risk_differential"`
	Recent                        []SessionOccurrence `json:"recent"` // most recent first, bounded
	OverallRiskLevel              RiskLevel           `json:"overall_risk_level"`
	FirstSessionTogether          time.Time           `json:"first_session_together"`
	LastSessionTogether           time.Time           `json:"last_session_together"`
	LastAnalyzed                  time.Time           `json:"last_analyzed"`
}

// Clone returns a deep copy of the history.
func (h *PairHistory) Clone() *PairHistory {
	if h == nil {
		return nil
	}
	out := *h
	out.Recent = append([]SessionOccurrence(nil), h.Recent...)
	return &out
}
