package model

import (
	"strings"
	"time"
)

// FlagKind classifies how two participants were found to be co-located.
type FlagKind string

// Flag kinds ordered by specificity. FlagNone is the zero value.
const (
	FlagNone     FlagKind = ""
	FlagPhysical FlagKind = "physical"
	FlagNetwork  FlagKind = "network"
	FlagBoth     FlagKind = "both"
)

// Valid reports whether k is one of the non-empty kinds.
func (k FlagKind) Valid() bool {
	return k == FlagPhysical || k == FlagNetwork || k == FlagBoth
}

// Physical reports whether k includes physical proximity.
func (k FlagKind) Physical() bool { return k == FlagPhysical || k == FlagBoth }

// Network reports whether k includes a shared network address.
func (k FlagKind) Network() bool { return k == FlagNetwork || k == FlagBoth }

// PairKey identifies an unordered participant pair. Low sorts before High.
type PairKey struct {
	Low  string `json:"low"`
	High string `json:"high"`
}

const pairSeparator = "|"

// String renders the storage form "low|high".
func (p PairKey) String() string {
	return p.Low + pairSeparator + p.High
}

// Contains reports whether participantID is one side of the pair.
func (p PairKey) Contains(participantID string) bool {
	return p.Low == participantID || p.High == participantID
}

// Other returns the side that is not participantID.
func (p PairKey) Other(participantID string) string {
	if p.Low == participantID {
		return p.High
	}
	return p.Low
}

// ParsePairKey is the inverse of PairKey.String.
func ParsePairKey(s string) (PairKey, bool) {
	low, high, ok := strings.Cut(s, pairSeparator)
	if !ok || low == "" || high == "" {
		return PairKey{}, false
	}
	return PairKey{Low: low, High: high}, true
}

// FlagEvent records one detection of proximity between two participants.
type FlagEvent struct {
	PickNumber              int       `json:"pick_number"`
	SubmittingParticipantID string    `json:"submitting_participant_id"`
	OtherParticipantID      string    `json:"other_participant_id"`
	Kind                    FlagKind  `json:"kind"`
	DistanceMeters          *float64  `json:"distance_meters,omitempty"` // physical detections only
	NetworkOrg              string    `json:"network_org,omitempty"`
	Timestamp               time.Time `json:"timestamp"`
}

// ProximityFlag is the per-session audit trail for one flagged pair.
type ProximityFlag struct {
	Pair          PairKey     `json:"pair"`
	Kind          FlagKind    `json:"kind"`
	Events        []FlagEvent `json:"events"`
	FirstDetected time.Time   `json:"first_detected"`
	LastDetected  time.Time   `json:"last_detected"`
	EventCount    int         `json:"event_count"`
}

// IntegrityStatus is the lifecycle of a session's integrity summary.
type IntegrityStatus string

// Integrity statuses.
const (
	IntegrityActive    IntegrityStatus = "active"
	IntegrityCompleted IntegrityStatus = "completed"
	IntegrityReviewed  IntegrityStatus = "reviewed"
)

// SessionIntegritySummary is the flag ledger of one session.
type SessionIntegritySummary struct {
	SessionID           string                    `json:"session_id"`
	Flags               map[string]*ProximityFlag `json:"flags"` // keyed by PairKey.String()
	TotalPhysicalEvents int                       `json:"total_physical_events"`
	TotalNetworkEvents  int                       `json:"total_network_events"`
	UniqueFlaggedPairs  int                       `json:"unique_flagged_pairs"`
	Status              IntegrityStatus           `json:"status"`
	CompletedAt         time.Time                 `json:"completed_at,omitempty"`
	ReviewedAt          time.Time                 `json:"reviewed_at,omitempty"`
}

// NewSessionIntegritySummary returns an active, empty summary.
func NewSessionIntegritySummary(sessionID string) *SessionIntegritySummary {
	return &SessionIntegritySummary{
		SessionID: sessionID,
		Flags:     make(map[string]*ProximityFlag),
		Status:    IntegrityActive,
	}
}

// Flag returns the flag recorded for pair, or nil.
func (s *SessionIntegritySummary) Flag(pair PairKey) *ProximityFlag {
	if s == nil {
		return nil
	}
	return s.Flags[pair.String()]
}

// Clone returns a deep copy of the summary.
func (s *SessionIntegritySummary) Clone() *SessionIntegritySummary {
	if s == nil {
		return nil
	}
	out := *s
	out.Flags = make(map[string]*ProximityFlag, len(s.Flags))
	for k, f := range s.Flags {
		cp := *f
		cp.Events = append([]FlagEvent(nil), f.Events...)
		out.Flags[k] = &cp
	}
	return &out
}

// SessionState is the unit the tracker reads and writes atomically: the
// ephemeral snapshot plus the durable flag ledger, guarded by Version.
type SessionState struct {
	SessionID string                   `json:"session_id"`
	Version   uint64                   `json:"version"` // 0 means not yet persisted
	Snapshot  *ProximitySnapshot       `json:"snapshot,omitempty"`
	Summary   *SessionIntegritySummary `json:"summary"`
}

// NewSessionState returns the state for a session nobody has written yet.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Snapshot:  NewProximitySnapshot(sessionID),
		Summary:   NewSessionIntegritySummary(sessionID),
	}
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	return &SessionState{
		SessionID: s.SessionID,
		Version:   s.Version,
		Snapshot:  s.Snapshot.Clone(),
		Summary:   s.Summary.Clone(),
	}
}
