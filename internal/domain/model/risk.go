package model

import "time"

// Recommendation is the review action suggested for a scored pair.
type Recommendation string

// Recommendations ordered by urgency.
const (
	RecommendClear   Recommendation = "clear"
	RecommendMonitor Recommendation = "monitor"
	RecommendReview  Recommendation = "review"
	RecommendUrgent  Recommendation = "urgent"
)

// EvidenceKind tags one piece of scoring evidence.
type EvidenceKind string

// Evidence kinds produced by the session scorer.
const (
	EvidenceFlagBoth           EvidenceKind = "flag_both"
	EvidenceFlagPhysical       EvidenceKind = "flag_physical"
	EvidenceFlagNetwork        EvidenceKind = "flag_network"
	EvidenceRepeatedFlags      EvidenceKind = "repeated_flags"
	EvidenceAsymmetricReach    EvidenceKind = "asymmetric_reach"
	EvidenceMutualDeviation    EvidenceKind = "mutual_extreme_deviation"
	EvidenceEgregiousReaches   EvidenceKind = "egregious_reaches"
	EvidenceValueTransfer      EvidenceKind = "value_transfer"
	EvidenceOneSidedBenefit    EvidenceKind = "one_sided_benefit"
	EvidenceHeavyValueTransfer EvidenceKind = "heavy_value_transfer"
)

// Evidence is a structured reason attached to a pair score. Rendering to text
// happens at the presentation boundary.
type Evidence struct {
	Kind        EvidenceKind `json:"kind"`
	Participant string       `json:"participant,omitempty"`
	Amount      float64      `json:"amount,omitempty"`
	Count       int          `json:"count,omitempty"`
}

// PairRiskScore is the composite collusion risk of one pair in one session.
type PairRiskScore struct {
	Pair           PairKey        `json:"pair"`
	LocationScore  int            `json:"location_score"`
	BehaviorScore  int            `json:"behavior_score"`
	BenefitScore   int            `json:"benefit_score"`
	CompositeScore int            `json:"composite_score"`
	Evidence       []Evidence     `json:"evidence"`
	Recommendation Recommendation `json:"recommendation"`
}

// Colocated reports whether the pair carried any location signal.
func (p *PairRiskScore) Colocated() bool {
	return p.LocationScore > 0
}

// ResultStatus is the lifecycle of a session risk result.
type ResultStatus string

// Result statuses.
const (
	ResultPending  ResultStatus = "pending"
	ResultAnalyzed ResultStatus = "analyzed"
	ResultReviewed ResultStatus = "reviewed"
)

// SessionRiskResult is the scorer's output for one session.
type SessionRiskResult struct {
	SessionID         string          `json:"session_id"`
	Pairs             []PairRiskScore `json:"pairs"`
	MaxScore          int             `json:"max_score"`
	MeanScore         float64         `json:"mean_score"`
	CountAboveMonitor int             `json:"count_above_monitor"`
	Status            ResultStatus    `json:"status"`
	// SessionTime is when the session ended; derived from inputs so that
	// rescoring unchanged inputs yields an identical result.
	SessionTime time.Time `json:"session_time"`
}

// Clone returns a deep copy of the result.
func (r *SessionRiskResult) Clone() *SessionRiskResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Pairs = make([]PairRiskScore, len(r.Pairs))
	for i, p := range r.Pairs {
		p.Evidence = append([]Evidence(nil), p.Evidence...)
		out.Pairs[i] = p
	}
	return &out
}
