// Package repository defines the persistence contract for session state,
// picks, risk results and pair histories, plus an in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/draftwatch/internal/domain/model"
)

// SessionStore persists the per-session snapshot and flag ledger as one
// versioned record.
type SessionStore interface {
	// LoadSession returns the stored state of a session. Unknown sessions yield
	// a fresh active state with Version 0. An expired snapshot is returned empty.
	LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error)

	// SaveSession writes state if the stored version still equals state.Version
	// and increments state.Version on success. A mismatch returns ErrConflict.
	// A nil Snapshot removes the stored snapshot.
	SaveSession(ctx context.Context, state *model.SessionState) error

	// GetSummary returns the flag ledger of a session or ErrNotFound.
	GetSummary(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
}

// PickLog keeps every submitted pick for post-session scoring.
type PickLog interface {
	// AppendPick stores ev. Re-appending the same (session, pick, participant)
	// is a no-op.
	AppendPick(ctx context.Context, ev model.PickEvent) error

	// ListPicks returns the picks of a session ordered by pick number, then
	// participant id.
	ListPicks(ctx context.Context, sessionID string) ([]model.PickEvent, error)
}

// ResultStore persists session risk results.
type ResultStore interface {
	// PutResult replaces the result of r.SessionID. A stored reviewed status
	// is kept whatever status r carries.
	PutResult(ctx context.Context, r *model.SessionRiskResult) error

	// MarkResultReviewed sets the status of a stored result to reviewed
	// without touching its scores, or returns ErrNotFound.
	MarkResultReviewed(ctx context.Context, sessionID string) error

	// GetResult returns the result of a session or ErrNotFound.
	GetResult(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)

	// ListResults returns results whose SessionTime is not before since,
	// ordered by SessionTime then session id.
	ListResults(ctx context.Context, since time.Time) ([]*model.SessionRiskResult, error)
}

// HistoryStore persists cross-session pair histories.
type HistoryStore interface {
	// PutHistory replaces the history of h.Pair.
	PutHistory(ctx context.Context, h *model.PairHistory) error

	// GetHistory returns the history of a pair or ErrNotFound.
	GetHistory(ctx context.Context, pair model.PairKey) (*model.PairHistory, error)

	// ListHistories returns histories at or above minLevel, most severe first,
	// then most recently seen.
	ListHistories(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error)

	// DeleteHistory removes the history of a pair. Unknown pairs are a no-op.
	DeleteHistory(ctx context.Context, pair model.PairKey) error
}

// Store is the full persistence contract.
type Store interface {
	SessionStore
	PickLog
	ResultStore
	HistoryStore

	// Close releases the underlying resources.
	Close() error
}
