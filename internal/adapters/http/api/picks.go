package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/draftwatch/internal/domain/model"
)

// PickRecorder accepts picks for the pipeline.
type PickRecorder interface {
	RecordPick(ctx context.Context, ev model.PickEvent) error
}

// PicksHandler handles pick submissions.
type PicksHandler struct {
	recorder PickRecorder
	validate *validator.Validate
}

// NewPicksHandler creates a new picks handler.
func NewPicksHandler(recorder PickRecorder, validate *validator.Validate) *PicksHandler {
	return &PicksHandler{recorder: recorder, validate: validate}
}

// pickRequest mirrors the OpenAPI schema for POST /picks.
type pickRequest struct {
	SessionID      string           `json:"session_id" validate:"required"`
	PickNumber     int              `json:"pick_number" validate:"required,min=1"`
	ParticipantID  string           `json:"participant_id" validate:"required"`
	ItemID         string           `json:"item_id" validate:"required"`
	Timestamp      time.Time        `json:"timestamp"`
	Location       *locationRequest `json:"location,omitempty"`
	NetworkAddress string           `json:"network_address,omitempty" validate:"max=256"`
	DeviceID       string           `json:"device_id,omitempty"`
}

type locationRequest struct {
	Latitude       float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude      float64 `json:"longitude" validate:"min=-180,max=180"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty" validate:"min=0"`
}

func (p pickRequest) toEvent() model.PickEvent {
	ev := model.PickEvent{
		SessionID:      p.SessionID,
		PickNumber:     p.PickNumber,
		ParticipantID:  p.ParticipantID,
		ItemID:         p.ItemID,
		Timestamp:      p.Timestamp,
		NetworkAddress: p.NetworkAddress,
		DeviceID:       p.DeviceID,
	}
	if p.Location != nil {
		ev.Location = &model.Location{
			Latitude:       p.Location.Latitude,
			Longitude:      p.Location.Longitude,
			AccuracyMeters: p.Location.AccuracyMeters,
		}
	}
	return ev
}

// HandlePostPick handles POST /picks. A valid pick is always accepted; the
// proximity check runs in the background.
func (h *PicksHandler) HandlePostPick(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_pick"
	var req pickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, validationError(err)))
		return
	}
	if err := h.recorder.RecordPick(r.Context(), req.toEvent()); err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
