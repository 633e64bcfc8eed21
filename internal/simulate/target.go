package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/domain/model"
)

// ErrUnexpectedStatus is returned when the server answers with a status the
// simulator did not expect.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Target is where a simulated draft is played.
type Target interface {
	SubmitPick(ctx context.Context, ev model.PickEvent) error
	Stats(ctx context.Context) (service.Stats, error)
	Complete(ctx context.Context, sessionID string) error
	Score(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
}

// Pipeline is the part of *service.Service the in-process target drives.
type Pipeline interface {
	RecordPick(ctx context.Context, ev model.PickEvent) error
	GetStats() service.Stats
	MarkSessionCompleted(ctx context.Context, sessionID string) (*model.SessionIntegritySummary, error)
	ScoreSession(ctx context.Context, sessionID string) (*model.SessionRiskResult, error)
}

// InProcess plays the draft against a service in this process.
type InProcess struct {
	Pipeline Pipeline
}

// SubmitPick implements Target.
func (t InProcess) SubmitPick(ctx context.Context, ev model.PickEvent) error {
	return t.Pipeline.RecordPick(ctx, ev)
}

// Stats implements Target.
func (t InProcess) Stats(context.Context) (service.Stats, error) {
	return t.Pipeline.GetStats(), nil
}

// Complete implements Target.
func (t InProcess) Complete(ctx context.Context, sessionID string) error {
	_, err := t.Pipeline.MarkSessionCompleted(ctx, sessionID)
	return err
}

// Score implements Target.
func (t InProcess) Score(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	return t.Pipeline.ScoreSession(ctx, sessionID)
}

// HTTPTarget plays the draft against a running server.
type HTTPTarget struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTarget creates a target for the server at baseURL.
func NewHTTPTarget(baseURL string, timeout time.Duration) *HTTPTarget {
	return &HTTPTarget{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// SubmitPick implements Target.
func (t *HTTPTarget) SubmitPick(ctx context.Context, ev model.PickEvent) error {
	return t.do(ctx, http.MethodPost, "/picks", ev, http.StatusAccepted, nil)
}

// Stats implements Target.
func (t *HTTPTarget) Stats(ctx context.Context) (service.Stats, error) {
	var stats service.Stats
	err := t.do(ctx, http.MethodGet, "/stats", nil, http.StatusOK, &stats)
	return stats, err
}

// Complete implements Target.
func (t *HTTPTarget) Complete(ctx context.Context, sessionID string) error {
	return t.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/complete", nil, http.StatusOK, nil)
}

// Score implements Target.
func (t *HTTPTarget) Score(ctx context.Context, sessionID string) (*model.SessionRiskResult, error) {
	var result model.SessionRiskResult
	if err := t.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/score", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTarget) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %w %d: %s", method, path, ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
