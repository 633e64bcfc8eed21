// Package badgerstore implements repository.Store on an embedded Badger
// database. Session state is updated in optimistic read-write transactions and
// proximity snapshots carry a Badger TTL.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

const driverName = "badger"

// Key prefixes.
const (
	prefixLedger  = "ledger/"
	prefixSnap    = "snap/"
	prefixPick    = "pick/"
	prefixResult  = "result/"
	prefixHistory = "history/"
)

// ledgerRecord is the durable half of a session state.
type ledgerRecord struct {
	Version uint64                         `json:"version"`
	Summary *model.SessionIntegritySummary `json:"summary"`
}

// Store is a Badger-backed repository.Store.
type Store struct {
	db     *badger.DB
	logger logger.Logger
	now    func() time.Time
}

// Compile-time check.
var _ repository.Store = (*Store)(nil)

// Open opens (or creates) the database at dir. An empty dir keeps everything
// in memory.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("badgerstore")
	}

	bopts := badger.DefaultOptions(dir).WithLogger(badgerLogger{l: s.logger})
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	s.db = db
	return s, nil
}

func escape(id string) string { return url.PathEscape(id) }

func ledgerKey(sessionID string) []byte { return []byte(prefixLedger + escape(sessionID)) }
func snapKey(sessionID string) []byte   { return []byte(prefixSnap + escape(sessionID)) }
func resultKey(sessionID string) []byte { return []byte(prefixResult + escape(sessionID)) }
// resultWriteAttempts bounds retries of a conflicting result write.
const resultWriteAttempts = 5

func historyKey(pair model.PairKey) []byte {
	return []byte(prefixHistory + escape(pair.Low) + "|" + escape(pair.High))
}
func pickPrefix(sessionID string) []byte { return []byte(prefixPick + escape(sessionID) + "/") }
func pickKey(ev *model.PickEvent) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d/%s", prefixPick, escape(ev.SessionID), ev.PickNumber, escape(ev.ParticipantID)))
}

func observe(operation string, start time.Time) {
	metrics.RecordStoreLatency(driverName, operation, float64(time.Since(start).Microseconds())/1000)
}

// getJSON decodes the value at key into out. It returns false when the key is absent.
func getJSON(txn *badger.Txn, key []byte, out any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// scanPrefix calls fn with the raw value of every key under prefix, in key order.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(raw []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

// LoadSession implements repository.SessionStore.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	defer observe("load_session", time.Now())

	state := model.NewSessionState(sessionID)
	err := s.db.View(func(txn *badger.Txn) error {
		var rec ledgerRecord
		found, err := getJSON(txn, ledgerKey(sessionID), &rec)
		if err != nil || !found {
			return err
		}
		state.Version = rec.Version
		state.Summary = rec.Summary

		snap := model.NewProximitySnapshot(sessionID)
		found, err = getJSON(txn, snapKey(sessionID), snap)
		if err != nil {
			return err
		}
		if found && !repository.SnapshotExpired(snap, s.now()) {
			state.Snapshot = snap
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return state, nil
}

// SaveSession implements repository.SessionStore.
func (s *Store) SaveSession(ctx context.Context, state *model.SessionState) error {
	if err := repository.ValidateState(state); err != nil {
		return err
	}
	defer observe("save_session", time.Now())

	next := state.Version + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec ledgerRecord
		if _, err := getJSON(txn, ledgerKey(state.SessionID), &rec); err != nil {
			return err
		}
		if rec.Version != state.Version {
			return fmt.Errorf("session %s at version %d, expected %d: %w",
				state.SessionID, rec.Version, state.Version, repository.ErrConflict)
		}

		ledger, err := json.Marshal(ledgerRecord{Version: next, Summary: state.Summary})
		if err != nil {
			return err
		}
		if err := txn.Set(ledgerKey(state.SessionID), ledger); err != nil {
			return err
		}
		return s.writeSnapshot(txn, state)
	})
	switch {
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("session %s: %w", state.SessionID, repository.ErrConflict)
	case err != nil:
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	state.Version = next
	return nil
}

// writeSnapshot stores the snapshot with a TTL derived from ExpiresAt, or
// deletes it when absent or already expired.
func (s *Store) writeSnapshot(txn *badger.Txn, state *model.SessionState) error {
	snap := state.Snapshot
	if snap == nil || repository.SnapshotExpired(snap, s.now()) {
		return txn.Delete(snapKey(state.SessionID))
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(snapKey(state.SessionID), raw)
	if !snap.ExpiresAt.IsZero() {
		entry = entry.WithTTL(snap.ExpiresAt.Sub(s.now()))
	}
	return txn.SetEntry(entry)
}

// GetSummary implements repository.SessionStore.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error) {
	defer observe("get_summary", time.Now())

	var rec ledgerRecord
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, ledgerKey(sessionID), &rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", sessionID, err)
	}
	if !found {
		return nil, fmt.Errorf("session %s: %w", sessionID, repository.ErrNotFound)
	}
	return rec.Summary, nil
}

// AppendPick implements repository.PickLog.
func (s *Store) AppendPick(ctx context.Context, ev model.PickEvent) error {
	if err := repository.ValidatePick(&ev); err != nil {
		return err
	}
	defer observe("append_pick", time.Now())

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := pickKey(&ev)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, raw)
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent append of the same key won; the pick is stored.
		return nil
	}
	if err != nil {
		return fmt.Errorf("append pick %s: %w", ev.Key(), err)
	}
	return nil
}

// ListPicks implements repository.PickLog.
func (s *Store) ListPicks(ctx context.Context, sessionID string) ([]model.PickEvent, error) {
	defer observe("list_picks", time.Now())

	var out []model.PickEvent
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, pickPrefix(sessionID), func(raw []byte) error {
			var ev model.PickEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list picks %s: %w", sessionID, err)
	}
	// Participant ids are escaped in keys, so restore the natural order.
	repository.SortPicks(out)
	return out, nil
}

// PutResult implements repository.ResultStore.
func (s *Store) PutResult(ctx context.Context, r *model.SessionRiskResult) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("risk result: %w", repository.ErrInvalidInput)
	}
	defer observe("put_result", time.Now())

	err := s.updateWithRetry(func(txn *badger.Txn) error {
		var prev model.SessionRiskResult
		found, err := getJSON(txn, resultKey(r.SessionID), &prev)
		if err != nil {
			return err
		}
		stored := *r
		if found && prev.Status == model.ResultReviewed {
			stored.Status = model.ResultReviewed
		}
		raw, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		return txn.Set(resultKey(r.SessionID), raw)
	})
	if err != nil {
		return fmt.Errorf("put result %s: %w", r.SessionID, err)
	}
	return nil
}

// MarkResultReviewed implements repository.ResultStore.
func (s *Store) MarkResultReviewed(ctx context.Context, sessionID string) error {
	defer observe("mark_result_reviewed", time.Now())

	err := s.updateWithRetry(func(txn *badger.Txn) error {
		var r model.SessionRiskResult
		found, err := getJSON(txn, resultKey(sessionID), &r)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("result %s: %w", sessionID, repository.ErrNotFound)
		}
		if r.Status == model.ResultReviewed {
			return nil
		}
		r.Status = model.ResultReviewed
		raw, err := json.Marshal(&r)
		if err != nil {
			return err
		}
		return txn.Set(resultKey(sessionID), raw)
	})
	if err != nil {
		return fmt.Errorf("mark result reviewed %s: %w", sessionID, err)
	}
	return nil
}

// updateWithRetry reruns a read-modify-write transaction that lost a
// conflict to a concurrent writer.
func (s *Store) updateWithRetry(fn func(txn *badger.Txn) error) error {
	var err error
	for range resultWriteAttempts {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// GetResult implements repository.ResultStore.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	defer observe("get_result", time.Now())

	var r model.SessionRiskResult
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, resultKey(sessionID), &r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", sessionID, err)
	}
	if !found {
		return nil, fmt.Errorf("result %s: %w", sessionID, repository.ErrNotFound)
	}
	return &r, nil
}

// ListResults implements repository.ResultStore.
func (s *Store) ListResults(ctx context.Context, since time.Time) ([]*model.SessionRiskResult, error) {
	defer observe("list_results", time.Now())

	var out []*model.SessionRiskResult
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixResult), func(raw []byte) error {
			var r model.SessionRiskResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if !r.SessionTime.Before(since) {
				out = append(out, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	repository.SortResults(out)
	return out, nil
}

// PutHistory implements repository.HistoryStore.
func (s *Store) PutHistory(ctx context.Context, h *model.PairHistory) error {
	if h == nil || h.Pair.Low == "" || h.Pair.High == "" {
		return fmt.Errorf("pair history: %w", repository.ErrInvalidInput)
	}
	defer observe("put_history", time.Now())

	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(h.Pair), raw)
	}); err != nil {
		return fmt.Errorf("put history %s: %w", h.Pair, err)
	}
	return nil
}

// GetHistory implements repository.HistoryStore.
func (s *Store) GetHistory(ctx context.Context, pair model.PairKey) (*model.PairHistory, error) {
	defer observe("get_history", time.Now())

	var h model.PairHistory
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, historyKey(pair), &h)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", pair, err)
	}
	if !found {
		return nil, fmt.Errorf("history %s: %w", pair, repository.ErrNotFound)
	}
	return &h, nil
}

// ListHistories implements repository.HistoryStore.
func (s *Store) ListHistories(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error) {
	defer observe("list_histories", time.Now())

	var out []*model.PairHistory
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixHistory), func(raw []byte) error {
			var h model.PairHistory
			if err := json.Unmarshal(raw, &h); err != nil {
				return err
			}
			if repository.AtLeast(&h, minLevel) {
				out = append(out, &h)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}
	repository.SortHistories(out)
	return out, nil
}

// DeleteHistory implements repository.HistoryStore.
func (s *Store) DeleteHistory(ctx context.Context, pair model.PairKey) error {
	defer observe("delete_history", time.Now())

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(historyKey(pair))
	}); err != nil {
		return fmt.Errorf("delete history %s: %w", pair, err)
	}
	return nil
}

// Close implements repository.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
