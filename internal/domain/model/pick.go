// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"strconv"
	"time"
)

// Location is a device-reported position attached to a pick.
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`
}

// PickEvent is one participant's selection within a session together with the
// location/network fingerprint captured at submission time.
type PickEvent struct {
	SessionID      string    `json:"session_id"`
	PickNumber     int       `json:"pick_number"` // 1-based, global across the session
	ParticipantID  string    `json:"participant_id"`
	ItemID         string    `json:"item_id"`
	Timestamp      time.Time `json:"timestamp"`
	Location       *Location `json:"location,omitempty"`
	NetworkAddress string    `json:"network_address,omitempty"`
	DeviceID       string    `json:"device_id,omitempty"`
}

// Key returns the identity of the pick: one per (session, pick number, participant).
func (e *PickEvent) Key() string {
	return e.SessionID + "/" + strconv.Itoa(e.PickNumber) + "/" + e.ParticipantID
}

// HasLocation reports whether the event carries coordinates.
func (e *PickEvent) HasLocation() bool {
	return e.Location != nil
}

// SnapshotEntry is the latest known fingerprint of one participant in a session.
type SnapshotEntry struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	HasLocation    bool      `json:"has_location"`
	NetworkAddress string    `json:"network_address,omitempty"`
	LastPickNumber int       `json:"last_pick_number"`
	Timestamp      time.Time `json:"timestamp"`

	// TrackedPicks lists every pick number already compared for this
	// participant, ascending. The fingerprint fields above belong to
	// LastPickNumber.
	TrackedPicks []int `json:"tracked_picks,omitempty"`
}

// Tracked reports whether pick was already compared for this participant.
func (e SnapshotEntry) Tracked(pick int) bool {
	if pick == e.LastPickNumber {
		return true
	}
	_, found := slices.BinarySearch(e.TrackedPicks, pick)
	return found
}

// WithTracked returns a copy of e.TrackedPicks with pick inserted in order.
func (e SnapshotEntry) WithTracked(pick int) []int {
	out := slices.Clone(e.TrackedPicks)
	if i, found := slices.BinarySearch(out, pick); !found {
		out = slices.Insert(out, i, pick)
	}
	return out
}

// ProximitySnapshot holds the latest fingerprint of every active participant of
// one session. It is ephemeral: owned by the tracker and dropped once the
// session completes or ExpiresAt passes.
type ProximitySnapshot struct {
	SessionID string                   `json:"session_id"`
	Entries   map[string]SnapshotEntry `json:"entries"`
	ExpiresAt time.Time                `json:"expires_at,omitempty"`
}

// NewProximitySnapshot returns an empty snapshot for sessionID.
func NewProximitySnapshot(sessionID string) *ProximitySnapshot {
	return &ProximitySnapshot{
		SessionID: sessionID,
		Entries:   make(map[string]SnapshotEntry),
	}
}

// Clone returns a deep copy of the snapshot.
func (s *ProximitySnapshot) Clone() *ProximitySnapshot {
	if s == nil {
		return nil
	}
	out := &ProximitySnapshot{
		SessionID: s.SessionID,
		Entries:   make(map[string]SnapshotEntry, len(s.Entries)),
		ExpiresAt: s.ExpiresAt,
	}
	for k, v := range s.Entries {
		v.TrackedPicks = slices.Clone(v.TrackedPicks)
		out.Entries[k] = v
	}
	return out
}
