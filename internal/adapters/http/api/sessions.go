package api

import (
	"context"
	"net/http"

	"github.com/okian/draftwatch/internal/domain/model"
)

// SessionDependencies covers the session lifecycle and its reads.
type SessionDependencies interface {
	MarkSessionCompleted(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	MarkSessionReviewed(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	ScoreSession(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
	GetIntegrity(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	GetRisk(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
}

// SessionHandler handles /sessions/{id}/... requests.
type SessionHandler struct {
	deps SessionDependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps SessionDependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

// HandleComplete handles POST /sessions/{id}/complete.
func (h *SessionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.MarkSessionCompleted(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.complete_session", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleReview handles POST /sessions/{id}/review.
func (h *SessionHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.MarkSessionReviewed(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.review_session", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleScore handles POST /sessions/{id}/score and returns the fresh result.
func (h *SessionHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.ScoreSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.score_session", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetIntegrity handles GET /sessions/{id}/integrity.
func (h *SessionHandler) HandleGetIntegrity(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.GetIntegrity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.get_integrity", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleGetRisk handles GET /sessions/{id}/risk.
func (h *SessionHandler) HandleGetRisk(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.GetRisk(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.get_risk", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
