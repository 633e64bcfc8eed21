// Package sqlstore implements repository.Store on database/sql. It runs on
// SQLite (modernc.org/sqlite) for single-node deployments and on PostgreSQL
// (lib/pq) when several service instances share state.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver.
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
	"github.com/okian/draftwatch/pkg/metrics"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("unsupported sql driver")

// Store is a database/sql backed repository.Store.
type Store struct {
	db     *sql.DB
	driver string
	logger logger.Logger
	now    func() time.Time
}

// Compile-time check.
var _ repository.Store = (*Store)(nil)

// Open connects to dsn with driver and applies migrations.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%q: %w", driver, ErrUnsupportedDriver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("sqlstore")
	}

	if err := s.migrate(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			s.logger.Warn(ctx, "close after failed migration", logger.Error(cerr))
		}
		return nil, err
	}
	s.logger.Debug(ctx, "sql store ready", logger.String("driver", driver))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_state (
			session_id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			summary TEXT NOT NULL,
			snapshot TEXT,
			snapshot_expires_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS picks (
			session_id TEXT NOT NULL,
			pick_number BIGINT NOT NULL,
			participant_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (session_id, pick_number, participant_id)
		)`,
		`CREATE TABLE IF NOT EXISTS risk_results (
			session_id TEXT PRIMARY KEY,
			session_time BIGINT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pair_histories (
			pair_key TEXT PRIMARY KEY,
			severity BIGINT NOT NULL,
			last_session BIGINT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_results_session_time ON risk_results(session_time)`,
		`CREATE INDEX IF NOT EXISTS idx_pair_histories_severity ON pair_histories(severity)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) observe(operation string, start time.Time) {
	metrics.RecordStoreLatency(s.driver, operation, float64(time.Since(start).Microseconds())/1000)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// LoadSession implements repository.SessionStore.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	defer s.observe("load_session", time.Now())

	var (
		version  int64
		summary  string
		snapshot sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT version, summary, snapshot FROM session_state WHERE session_id = ?`),
		sessionID,
	).Scan(&version, &summary, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewSessionState(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	state := model.NewSessionState(sessionID)
	state.Version = uint64(version)
	if err := json.Unmarshal([]byte(summary), state.Summary); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", sessionID, err)
	}
	if snapshot.Valid {
		snap := model.NewProximitySnapshot(sessionID)
		if err := json.Unmarshal([]byte(snapshot.String), snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
		}
		if !repository.SnapshotExpired(snap, s.now()) {
			state.Snapshot = snap
		}
	}
	return state, nil
}

// SaveSession implements repository.SessionStore.
func (s *Store) SaveSession(ctx context.Context, state *model.SessionState) error {
	if err := repository.ValidateState(state); err != nil {
		return err
	}
	defer s.observe("save_session", time.Now())

	summary, err := json.Marshal(state.Summary)
	if err != nil {
		return err
	}
	var (
		snapshot  sql.NullString
		expiresAt int64
	)
	if snap := state.Snapshot; snap != nil && !repository.SnapshotExpired(snap, s.now()) {
		raw, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		snapshot = sql.NullString{String: string(raw), Valid: true}
		expiresAt = unixNano(snap.ExpiresAt)
	}

	next := state.Version + 1
	var res sql.Result
	if state.Version == 0 {
		res, err = s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO session_state (session_id, version, summary, snapshot, snapshot_expires_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (session_id) DO NOTHING`),
			state.SessionID, int64(next), string(summary), snapshot, expiresAt)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(
			`UPDATE session_state
			 SET version = ?, summary = ?, snapshot = ?, snapshot_expires_at = ?
			 WHERE session_id = ? AND version = ?`),
			int64(next), string(summary), snapshot, expiresAt, state.SessionID, int64(state.Version))
	}
	if err != nil {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s moved past version %d: %w", state.SessionID, state.Version, repository.ErrConflict)
	}
	state.Version = next
	return nil
}

// GetSummary implements repository.SessionStore.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error) {
	defer s.observe("get_summary", time.Now())

	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT summary FROM session_state WHERE session_id = ?`), sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", sessionID, err)
	}
	summary := model.NewSessionIntegritySummary(sessionID)
	if err := json.Unmarshal([]byte(raw), summary); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", sessionID, err)
	}
	return summary, nil
}

// AppendPick implements repository.PickLog.
func (s *Store) AppendPick(ctx context.Context, ev model.PickEvent) error {
	if err := repository.ValidatePick(&ev); err != nil {
		return err
	}
	defer s.observe("append_pick", time.Now())

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO picks (session_id, pick_number, participant_id, payload)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, pick_number, participant_id) DO NOTHING`),
		ev.SessionID, int64(ev.PickNumber), ev.ParticipantID, string(raw))
	if err != nil {
		return fmt.Errorf("append pick %s: %w", ev.Key(), err)
	}
	return nil
}

// ListPicks implements repository.PickLog.
func (s *Store) ListPicks(ctx context.Context, sessionID string) ([]model.PickEvent, error) {
	defer s.observe("list_picks", time.Now())

	payloads, err := s.queryPayloads(ctx,
		`SELECT payload FROM picks WHERE session_id = ? ORDER BY pick_number, participant_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list picks %s: %w", sessionID, err)
	}
	out := make([]model.PickEvent, 0, len(payloads))
	for _, raw := range payloads {
		var ev model.PickEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode pick: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// PutResult implements repository.ResultStore.
func (s *Store) PutResult(ctx context.Context, r *model.SessionRiskResult) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("risk result: %w", repository.ErrInvalidInput)
	}
	defer s.observe("put_result", time.Now())

	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	// The status column is authoritative; a reviewed row stays reviewed.
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO risk_results (session_id, session_time, status, payload)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET session_time = excluded.session_time,
		   payload = excluded.payload,
		   status = CASE WHEN risk_results.status = ? THEN risk_results.status ELSE excluded.status END`),
		r.SessionID, unixNano(r.SessionTime), string(r.Status), string(raw), string(model.ResultReviewed))
	if err != nil {
		return fmt.Errorf("put result %s: %w", r.SessionID, err)
	}
	return nil
}

// MarkResultReviewed implements repository.ResultStore.
func (s *Store) MarkResultReviewed(ctx context.Context, sessionID string) error {
	defer s.observe("mark_result_reviewed", time.Now())

	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE risk_results SET status = ? WHERE session_id = ?`),
		string(model.ResultReviewed), sessionID)
	if err != nil {
		return fmt.Errorf("mark result reviewed %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark result reviewed %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("result %s: %w", sessionID, repository.ErrNotFound)
	}
	return nil
}

// decodeResult unmarshals a stored result and applies its status column.
func decodeResult(raw, status string) (*model.SessionRiskResult, error) {
	var r model.SessionRiskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	r.Status = model.ResultStatus(status)
	return &r, nil
}

// GetResult implements repository.ResultStore.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	defer s.observe("get_result", time.Now())

	var raw, status string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload, status FROM risk_results WHERE session_id = ?`), sessionID,
	).Scan(&raw, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", sessionID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", sessionID, err)
	}
	r, err := decodeResult(raw, status)
	if err != nil {
		return nil, fmt.Errorf("decode result %s: %w", sessionID, err)
	}
	return r, nil
}

// ListResults implements repository.ResultStore.
func (s *Store) ListResults(ctx context.Context, since time.Time) ([]*model.SessionRiskResult, error) {
	defer s.observe("list_results", time.Now())

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT payload, status FROM risk_results WHERE session_time >= ? ORDER BY session_time, session_id`),
		unixNano(since))
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn(ctx, "close rows", logger.Error(cerr))
		}
	}()

	out := []*model.SessionRiskResult{}
	for rows.Next() {
		var raw, status string
		if err := rows.Scan(&raw, &status); err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		r, err := decodeResult(raw, status)
		if err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// PutHistory implements repository.HistoryStore.
func (s *Store) PutHistory(ctx context.Context, h *model.PairHistory) error {
	if h == nil || h.Pair.Low == "" || h.Pair.High == "" {
		return fmt.Errorf("pair history: %w", repository.ErrInvalidInput)
	}
	defer s.observe("put_history", time.Now())

	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO pair_histories (pair_key, severity, last_session, payload)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (pair_key) DO UPDATE SET severity = excluded.severity,
		   last_session = excluded.last_session, payload = excluded.payload`),
		h.Pair.String(), int64(h.OverallRiskLevel.Severity()), unixNano(h.LastSessionTogether), string(raw))
	if err != nil {
		return fmt.Errorf("put history %s: %w", h.Pair, err)
	}
	return nil
}

// GetHistory implements repository.HistoryStore.
func (s *Store) GetHistory(ctx context.Context, pair model.PairKey) (*model.PairHistory, error) {
	defer s.observe("get_history", time.Now())

	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM pair_histories WHERE pair_key = ?`), pair.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %s: %w", pair, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", pair, err)
	}
	var h model.PairHistory
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", pair, err)
	}
	return &h, nil
}

// ListHistories implements repository.HistoryStore.
func (s *Store) ListHistories(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error) {
	defer s.observe("list_histories", time.Now())

	payloads, err := s.queryPayloads(ctx,
		`SELECT payload FROM pair_histories WHERE severity >= ?
		 ORDER BY severity DESC, last_session DESC, pair_key`,
		int64(minLevel.Severity()))
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}
	out := make([]*model.PairHistory, 0, len(payloads))
	for _, raw := range payloads {
		var h model.PairHistory
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		out = append(out, &h)
	}
	return out, nil
}

// DeleteHistory implements repository.HistoryStore.
func (s *Store) DeleteHistory(ctx context.Context, pair model.PairKey) error {
	defer s.observe("delete_history", time.Now())

	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM pair_histories WHERE pair_key = ?`), pair.String()); err != nil {
		return fmt.Errorf("delete history %s: %w", pair, err)
	}
	return nil
}

// queryPayloads runs a single-column query and drains it before returning so
// the connection is free for the next statement.
func (s *Store) queryPayloads(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn(ctx, "close rows", logger.Error(cerr))
		}
	}()

	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}
