package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/domain/pattern"
)

// defaultListLevel is used when GET /pairs has no level parameter.
const defaultListLevel = model.RiskHigh

// PairsDependencies covers pair history reads and aggregation runs.
type PairsDependencies interface {
	RunAggregation(ctx context.Context, lookback time.Duration) (pattern.Summary, error)
	GetPairHistory(ctx context.Context, a, b string) (*model.PairHistory, error)
	ListPairs(ctx context.Context, minLevel model.RiskLevel) ([]*model.PairHistory, error)
}

// PairsHandler handles pair history and aggregation requests.
type PairsHandler struct {
	deps     PairsDependencies
	validate *validator.Validate
}

// NewPairsHandler creates a new pairs handler.
func NewPairsHandler(deps PairsDependencies, validate *validator.Validate) *PairsHandler {
	return &PairsHandler{deps: deps, validate: validate}
}

type pairListResponse struct {
	Level model.RiskLevel      `json:"level"`
	Count int                  `json:"count"`
	Pairs []*model.PairHistory `json:"pairs"`
}

// HandleListPairs handles GET /pairs?level=high, returning pairs at or above
// the level.
func (h *PairsHandler) HandleListPairs(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_pairs"
	raw := r.URL.Query().Get("level")
	if err := h.validate.Var(raw, "omitempty,oneof=low medium high critical"); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, validationError(err)))
		return
	}
	level := defaultListLevel
	if raw != "" {
		level, _ = model.ParseRiskLevel(raw)
	}

	pairs, err := h.deps.ListPairs(r.Context(), level)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if pairs == nil {
		pairs = []*model.PairHistory{}
	}
	writeJSON(w, http.StatusOK, pairListResponse{Level: level, Count: len(pairs), Pairs: pairs})
}

// HandleGetHistory handles GET /pairs/{a}/{b}/history.
func (h *PairsHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.deps.GetPairHistory(r.Context(), r.PathValue("a"), r.PathValue("b"))
	if err != nil {
		writeServiceError(w, "api.get_pair_history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleRunAggregation handles POST /aggregations?lookback=2160h. Without a
// lookback the configured window is used.
func (h *PairsHandler) HandleRunAggregation(w http.ResponseWriter, r *http.Request) {
	const op = "api.run_aggregation"
	var lookback time.Duration
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if d <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, pattern.ErrInvalidLookback))
			return
		}
		lookback = d
	}

	summary, err := h.deps.RunAggregation(r.Context(), lookback)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
