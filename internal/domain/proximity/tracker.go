// Package proximity maintains the live per-session snapshot of participant
// locations and network addresses and records proximity flags as picks arrive.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/geo"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

// Default tracker configuration constants.
const (
	defaultMaxAttempts = 5
	defaultBaseBackoff = 10 * time.Millisecond
	defaultMaxBackoff  = 200 * time.Millisecond
	defaultSnapshotTTL = 12 * time.Hour
)

// NetworkResolver names the organisation that owns a network address.
type NetworkResolver interface {
	Organization(ctx context.Context, address string) (string, error)
}

// Outcome describes what a tracked event did to the session.
type Outcome int

// Outcomes of Track.
const (
	OutcomeTracked Outcome = iota
	OutcomeRedelivered
	OutcomeInactive
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTracked:
		return "tracked"
	case OutcomeRedelivered:
		return "redelivery"
	case OutcomeInactive:
		return "inactive_session"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Tracker compares each pick against the other participants of its session and
// appends flag events to the session ledger.
type Tracker struct {
	store           repository.SessionStore
	proximityMeters float64
	maxAttempts     int
	baseBackoff     time.Duration
	maxBackoff      time.Duration
	snapshotTTL     time.Duration
	resolver        NetworkResolver
	logger          logger.Logger
	now             func() time.Time
}

// NewTracker creates a tracker persisting through store.
func NewTracker(store repository.SessionStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:           store,
		proximityMeters: geo.DefaultProximityMeters,
		maxAttempts:     defaultMaxAttempts,
		baseBackoff:     defaultBaseBackoff,
		maxBackoff:      defaultMaxBackoff,
		snapshotTTL:     defaultSnapshotTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Named("tracker")
	}
	return t
}

// OnPickEvent applies ev and never reports failure to the caller; problems
// are logged and counted.
func (t *Tracker) OnPickEvent(ctx context.Context, ev model.PickEvent) {
	if _, err := t.Track(ctx, ev); err != nil {
		t.logger.Error(ctx, "pick not tracked",
			logger.String("session", ev.SessionID),
			logger.Int("pick", ev.PickNumber),
			logger.String("participant", ev.ParticipantID),
			logger.Error(err),
		)
	}
}

// Track applies ev to its session and reports the outcome.
func (t *Tracker) Track(ctx context.Context, ev model.PickEvent) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordTrackerLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if ev.SessionID == "" || ev.ParticipantID == "" || ev.PickNumber < 1 {
		metrics.RecordPickDropped("invalid")
		return OutcomeInvalid, fmt.Errorf("pick %q: %w", ev.Key(), ErrInvalidEvent)
	}

	org := t.orgLookup(ctx, ev.NetworkAddress)
	var (
		outcome Outcome
		added   []model.FlagEvent
	)
	_, err := t.update(ctx, ev.SessionID, func(state *model.SessionState) bool {
		outcome, added = t.apply(state, &ev, org)
		return outcome == OutcomeTracked
	})
	if err != nil {
		reason := "store_error"
		if errors.Is(err, ErrRetriesExhausted) {
			reason = "conflict"
		}
		metrics.RecordPickDropped(reason)
		return outcome, err
	}

	if outcome != OutcomeTracked {
		metrics.RecordPickSkipped(outcome.String())
		t.logger.Debug(ctx, "pick ignored",
			logger.String("session", ev.SessionID),
			logger.Int("pick", ev.PickNumber),
			logger.String("participant", ev.ParticipantID),
			logger.String("reason", outcome.String()),
		)
		return outcome, nil
	}

	metrics.RecordPickTracked()
	for _, fe := range added {
		metrics.RecordFlagEvent(string(fe.Kind))
		t.logger.Info(ctx, "proximity flag",
			logger.String("session", ev.SessionID),
			logger.Int("pick", fe.PickNumber),
			logger.String("participant", fe.SubmittingParticipantID),
			logger.String("other", fe.OtherParticipantID),
			logger.String("kind", string(fe.Kind)),
		)
	}
	return outcome, nil
}

// Complete closes a session: the ledger becomes completed and the snapshot is
// dropped. Completing an already closed session is a no-op.
func (t *Tracker) Complete(ctx context.Context, sessionID string, at time.Time) (*model.SessionIntegritySummary, error) {
	state, err := t.update(ctx, sessionID, func(state *model.SessionState) bool {
		if state.Summary.Status != model.IntegrityActive {
			return false
		}
		state.Summary.Status = model.IntegrityCompleted
		state.Summary.CompletedAt = at
		state.Snapshot = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	return state.Summary, nil
}

// MarkReviewed records that a human reviewed a completed session.
func (t *Tracker) MarkReviewed(ctx context.Context, sessionID string, at time.Time) (*model.SessionIntegritySummary, error) {
	var transitionErr error
	state, err := t.update(ctx, sessionID, func(state *model.SessionState) bool {
		transitionErr = nil
		switch {
		case state.Version == 0:
			transitionErr = fmt.Errorf("session %s: %w", sessionID, ErrSessionNotStarted)
			return false
		case state.Summary.Status == model.IntegrityActive:
			transitionErr = fmt.Errorf("session %s: %w", sessionID, ErrSessionActive)
			return false
		case state.Summary.Status == model.IntegrityReviewed:
			return false
		}
		state.Summary.Status = model.IntegrityReviewed
		state.Summary.ReviewedAt = at
		return true
	})
	if err != nil {
		return nil, err
	}
	if transitionErr != nil {
		return nil, transitionErr
	}
	return state.Summary, nil
}

// update runs a load/mutate/compare-and-swap cycle with bounded, jittered
// retries. mutate returns false when nothing needs to be written.
func (t *Tracker) update(ctx context.Context, sessionID string, mutate func(*model.SessionState) bool) (*model.SessionState, error) {
	for attempt := 1; ; attempt++ {
		state, err := t.store.LoadSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if !mutate(state) {
			return state, nil
		}

		err = t.store.SaveSession(ctx, state)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("save session %s: %w", sessionID, err)
		}

		metrics.RecordTrackerConflict()
		if attempt >= t.maxAttempts {
			return nil, fmt.Errorf("session %s after %d attempts: %w", sessionID, attempt, ErrRetriesExhausted)
		}
		t.logger.Debug(ctx, "session version conflict, retrying",
			logger.String("session", sessionID),
			logger.Int("attempt", attempt),
		)

		timer := time.NewTimer(t.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff returns an exponentially growing delay with equal jitter.
func (t *Tracker) backoff(attempt int) time.Duration {
	d := t.baseBackoff << (attempt - 1)
	if d > t.maxBackoff || d <= 0 {
		d = t.maxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// orgLookup resolves the network organisation at most once per event and
// only when a network match needs it.
func (t *Tracker) orgLookup(ctx context.Context, address string) func() string {
	var (
		done bool
		org  string
	)
	return func() string {
		if done || t.resolver == nil || address == "" {
			return org
		}
		done = true
		name, err := t.resolver.Organization(ctx, address)
		if err != nil {
			t.logger.Debug(ctx, "network organisation lookup failed", logger.Error(err))
			return ""
		}
		org = name
		return org
	}
}

// apply mutates state for ev and returns the outcome with the flag events it
// added. It is re-run from a fresh load on every attempt.
func (t *Tracker) apply(state *model.SessionState, ev *model.PickEvent, org func() string) (Outcome, []model.FlagEvent) {
	summary := state.Summary
	if summary.Status != model.IntegrityActive {
		return OutcomeInactive, nil
	}
	if state.Snapshot == nil {
		state.Snapshot = model.NewProximitySnapshot(state.SessionID)
	}
	entries := state.Snapshot.Entries
	prev, seen := entries[ev.ParticipantID]
	if seen && prev.Tracked(ev.PickNumber) {
		return OutcomeRedelivered, nil
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = t.now()
	}

	others := make([]string, 0, len(entries))
	for id := range entries {
		if id != ev.ParticipantID {
			others = append(others, id)
		}
	}
	sort.Strings(others)

	var added []model.FlagEvent
	for _, otherID := range others {
		other := entries[otherID]

		var distance float64
		physical := false
		if ev.HasLocation() && other.HasLocation {
			distance = geo.DistanceMeters(
				geo.Point{Latitude: ev.Location.Latitude, Longitude: ev.Location.Longitude},
				geo.Point{Latitude: other.Latitude, Longitude: other.Longitude},
			)
			physical = distance <= t.proximityMeters
		}
		network := ev.NetworkAddress != "" && ev.NetworkAddress == other.NetworkAddress

		kind := geo.ObservedKind(physical, network)
		if kind == model.FlagNone {
			continue
		}

		fe := model.FlagEvent{
			PickNumber:              ev.PickNumber,
			SubmittingParticipantID: ev.ParticipantID,
			OtherParticipantID:      otherID,
			Kind:                    kind,
			Timestamp:               at,
		}
		if physical {
			d := distance
			fe.DistanceMeters = &d
			summary.TotalPhysicalEvents++
		}
		if network {
			fe.NetworkOrg = org()
			summary.TotalNetworkEvents++
		}

		pair := geo.CanonicalPairKey(ev.ParticipantID, otherID)
		flag, ok := summary.Flags[pair.String()]
		if !ok {
			flag = &model.ProximityFlag{Pair: pair, FirstDetected: at}
			summary.Flags[pair.String()] = flag
		}
		flag.Kind = geo.MergeFlagKind(flag.Kind, kind)
		flag.Events = append(flag.Events, fe)
		flag.EventCount = len(flag.Events)
		if at.After(flag.LastDetected) {
			flag.LastDetected = at
		}
		if at.Before(flag.FirstDetected) {
			flag.FirstDetected = at
		}
		added = append(added, fe)
	}
	summary.UniqueFlaggedPairs = len(summary.Flags)
	state.Snapshot.ExpiresAt = t.now().Add(t.snapshotTTL)

	// An older pick processed late is compared but keeps the newer fingerprint.
	if seen && ev.PickNumber < prev.LastPickNumber {
		prev.TrackedPicks = prev.WithTracked(ev.PickNumber)
		entries[ev.ParticipantID] = prev
		return OutcomeTracked, added
	}

	entry := model.SnapshotEntry{
		NetworkAddress: ev.NetworkAddress,
		LastPickNumber: ev.PickNumber,
		Timestamp:      at,
	}
	if seen {
		entry.TrackedPicks = prev.WithTracked(prev.LastPickNumber)
	}
	if ev.HasLocation() {
		entry.Latitude = ev.Location.Latitude
		entry.Longitude = ev.Location.Longitude
		entry.HasLocation = true
	}
	entries[ev.ParticipantID] = entry

	return OutcomeTracked, added
}
