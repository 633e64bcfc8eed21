// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/draftwatch/internal/adapters/repository"
	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/internal/domain/proximity"
	"github.com/okian/draftwatch/internal/domain/risk"
	"github.com/okian/draftwatch/pkg/logger"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	RecordPick(ctx context.Context, ev model.PickEvent) error
	MarkSessionCompleted(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	MarkSessionReviewed(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	ScoreSession(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
	RunAggregation(ctx context.Context, lookback time.Duration) (pattern.Summary, error)

	GetIntegrity(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	GetRisk(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
	GetPairHistory(ctx context.Context, a, b string) (*model.PairHistory, error)
	ListPairs(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error)

	GetStats() service.Stats
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	picksHandler   *PicksHandler
	sessionHandler *SessionHandler
	pairsHandler   *PairsHandler
	logger         logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the request middleware.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	validate := newValidator()
	s := &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		picksHandler:   NewPicksHandler(deps, validate),
		sessionHandler: NewSessionHandler(deps),
		pairsHandler:   NewPairsHandler(deps, validate),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	handle := func(route, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(route, RequestIDMiddleware(s.logger, MetricsMiddleware(h, endpoint)))
	}

	handle("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	handle("GET /stats", "stats", s.statsHandler.HandleStats)

	handle("POST /picks", "picks", s.picksHandler.HandlePostPick)

	handle("POST /sessions/{id}/complete", "session_complete", s.sessionHandler.HandleComplete)
	handle("POST /sessions/{id}/review", "session_review", s.sessionHandler.HandleReview)
	handle("POST /sessions/{id}/score", "session_score", s.sessionHandler.HandleScore)
	handle("GET /sessions/{id}/integrity", "session_integrity", s.sessionHandler.HandleGetIntegrity)
	handle("GET /sessions/{id}/risk", "session_risk", s.sessionHandler.HandleGetRisk)

	handle("GET /pairs", "pairs", s.pairsHandler.HandleListPairs)
	handle("GET /pairs/{a}/{b}/history", "pair_history", s.pairsHandler.HandleGetHistory)
	handle("POST /aggregations", "aggregations", s.pairsHandler.HandleRunAggregation)
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case isBadInput(err):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, proximity.ErrSessionActive):
		writeError(w, http.StatusConflict, "conflict", WrapKind(op, ErrConflict, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", Wrap(op, err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, risk.ErrNoSession) ||
		errors.Is(err, proximity.ErrSessionNotStarted) ||
		errors.Is(err, ErrNotFound)
}

func isBadInput(err error) bool {
	return errors.Is(err, service.ErrInvalidPick) ||
		errors.Is(err, service.ErrInvalidSession) ||
		errors.Is(err, repository.ErrInvalidInput) ||
		errors.Is(err, pattern.ErrInvalidLookback) ||
		errors.Is(err, ErrBadRequest)
}
