package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/draftwatch/internal/domain/model"
)

// MemoryStore is a mutex-guarded in-process Store. State does not survive a
// restart.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*model.SessionState
	picks     map[string]map[string]model.PickEvent
	results   map[string]*model.SessionRiskResult
	histories map[string]*model.PairHistory
	closed    bool
	now       func() time.Time
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		sessions:  make(map[string]*model.SessionState),
		picks:     make(map[string]map[string]model.PickEvent),
		results:   make(map[string]*model.SessionRiskResult),
		histories: make(map[string]*model.PairHistory),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadSession implements SessionStore.
func (s *MemoryStore) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stored, ok := s.sessions[sessionID]
	if !ok {
		return model.NewSessionState(sessionID), nil
	}
	state := stored.Clone()
	if state.Snapshot == nil || SnapshotExpired(state.Snapshot, s.now()) {
		state.Snapshot = model.NewProximitySnapshot(sessionID)
	}
	return state, nil
}

// SaveSession implements SessionStore.
func (s *MemoryStore) SaveSession(ctx context.Context, state *model.SessionState) error {
	if err := ValidateState(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var current uint64
	if stored, ok := s.sessions[state.SessionID]; ok {
		current = stored.Version
	}
	if current != state.Version {
		return fmt.Errorf("session %s at version %d, expected %d: %w", state.SessionID, current, state.Version, ErrConflict)
	}

	next := state.Clone()
	next.Version = current + 1
	s.sessions[state.SessionID] = next
	state.Version = next.Version
	return nil
}

// GetSummary implements SessionStore.
func (s *MemoryStore) GetSummary(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return stored.Summary.Clone(), nil
}

// AppendPick implements PickLog.
func (s *MemoryStore) AppendPick(ctx context.Context, ev model.PickEvent) error {
	if err := ValidatePick(&ev); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	session, ok := s.picks[ev.SessionID]
	if !ok {
		session = make(map[string]model.PickEvent)
		s.picks[ev.SessionID] = session
	}
	if _, dup := session[ev.Key()]; dup {
		return nil
	}
	if ev.Location != nil {
		loc := *ev.Location
		ev.Location = &loc
	}
	session[ev.Key()] = ev
	return nil
}

// ListPicks implements PickLog.
func (s *MemoryStore) ListPicks(ctx context.Context, sessionID string) ([]model.PickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.picks[sessionID]
	out := make([]model.PickEvent, 0, len(session))
	for _, ev := range session {
		out = append(out, ev)
	}
	SortPicks(out)
	return out, nil
}

// PutResult implements ResultStore.
func (s *MemoryStore) PutResult(ctx context.Context, r *model.SessionRiskResult) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("risk result: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	stored := r.Clone()
	if prev, ok := s.results[r.SessionID]; ok && prev.Status == model.ResultReviewed {
		stored.Status = model.ResultReviewed
	}
	s.results[r.SessionID] = stored
	return nil
}

// MarkResultReviewed implements ResultStore.
func (s *MemoryStore) MarkResultReviewed(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.results[sessionID]
	if !ok {
		return fmt.Errorf("result %s: %w", sessionID, ErrNotFound)
	}
	r.Status = model.ResultReviewed
	return nil
}

// GetResult implements ResultStore.
func (s *MemoryStore) GetResult(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[sessionID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", sessionID, ErrNotFound)
	}
	return r.Clone(), nil
}

// ListResults implements ResultStore.
func (s *MemoryStore) ListResults(ctx context.Context, since time.Time) ([]*model.SessionRiskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]*model.SessionRiskResult, 0, len(s.results))
	for _, r := range s.results {
		if r.SessionTime.Before(since) {
			continue
		}
		out = append(out, r.Clone())
	}
	SortResults(out)
	return out, nil
}

// PutHistory implements HistoryStore.
func (s *MemoryStore) PutHistory(ctx context.Context, h *model.PairHistory) error {
	if h == nil || h.Pair.Low == "" || h.Pair.High == "" {
		return fmt.Errorf("pair history: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.histories[h.Pair.String()] = h.Clone()
	return nil
}

// GetHistory implements HistoryStore.
func (s *MemoryStore) GetHistory(ctx context.Context, pair model.PairKey) (*model.PairHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[pair.String()]
	if !ok {
		return nil, fmt.Errorf("history %s: %w", pair, ErrNotFound)
	}
	return h.Clone(), nil
}

// ListHistories implements HistoryStore.
func (s *MemoryStore) ListHistories(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.PairHistory, 0, len(s.histories))
	for _, h := range s.histories {
		if AtLeast(h, minLevel) {
			out = append(out, h.Clone())
		}
	}
	SortHistories(out)
	return out, nil
}

// DeleteHistory implements HistoryStore.
func (s *MemoryStore) DeleteHistory(ctx context.Context, pair model.PairKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.histories, pair.String())
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
