// Package api exposes the handoff engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
)

const maxRequestBodySize = 1 << 20

// Engine is the subset of *handoff.Engine served over HTTP.
type Engine interface {
	PublishPosting(ctx context.Context, postingID string) (*models.Posting, error)
	Apply(ctx context.Context, postingID, professionalID string) (*models.Candidacy, error)
	SelectInitialCandidate(ctx context.Context, postingID string) (*handoff.Selection, error)
	CancelPosting(ctx context.Context, postingID string) (*handoff.Cancellation, error)
	ResolveConfirmation(ctx context.Context, postingID, candidacyID string, accept bool) (*handoff.Resolution, error)
	RunExpiredTimerSweep(ctx context.Context) (*handoff.SweepResult, error)
}

// Instrumentation traces each handled request and records its outcome.
type Instrumentation interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordOperation(ctx context.Context, operation, status string, duration time.Duration)
}

type Handler struct {
	engine   Engine
	recorder Instrumentation
	logger   logger.Logger
}

func NewHandler(engine Engine, recorder Instrumentation, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{engine: engine, recorder: recorder, logger: log}
}

type confirmationRequest struct {
	Accept *bool `json:"accept"`
}

type applyRequest struct {
	ProfessionalID string `json:"professionalId"`
}

type errorResponse struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ResolveConfirmation handles
// POST /v1/postings/{postingID}/candidacies/{candidacyID}/confirmation.
func (h *Handler) ResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, "resolve_confirmation", err)
		return
	}
	if req.Accept == nil {
		h.writeError(w, r, "resolve_confirmation", apperrors.NewInvalidInputError("accept is required"))
		return
	}
	h.serve(w, r, "resolve_confirmation", http.StatusOK, func(ctx context.Context) (interface{}, error) {
		return h.engine.ResolveConfirmation(ctx, chi.URLParam(r, "postingID"), chi.URLParam(r, "candidacyID"), *req.Accept)
	})
}

// Apply handles POST /v1/postings/{postingID}/candidacies.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, "apply", err)
		return
	}
	if req.ProfessionalID == "" {
		h.writeError(w, r, "apply", apperrors.NewInvalidInputError("professionalId is required"))
		return
	}
	h.serve(w, r, "apply", http.StatusCreated, func(ctx context.Context) (interface{}, error) {
		return h.engine.Apply(ctx, chi.URLParam(r, "postingID"), req.ProfessionalID)
	})
}

// SelectInitialCandidate handles POST /v1/postings/{postingID}/selection.
func (h *Handler) SelectInitialCandidate(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "select_initial_candidate", http.StatusOK, func(ctx context.Context) (interface{}, error) {
		return h.engine.SelectInitialCandidate(ctx, chi.URLParam(r, "postingID"))
	})
}

// CancelPosting handles POST /v1/postings/{postingID}/cancellation.
func (h *Handler) CancelPosting(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "cancel_posting", http.StatusOK, func(ctx context.Context) (interface{}, error) {
		return h.engine.CancelPosting(ctx, chi.URLParam(r, "postingID"))
	})
}

// PublishPosting handles POST /v1/postings/{postingID}/publication.
func (h *Handler) PublishPosting(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "publish_posting", http.StatusOK, func(ctx context.Context) (interface{}, error) {
		return h.engine.PublishPosting(ctx, chi.URLParam(r, "postingID"))
	})
}

// RunSweep handles POST /v1/sweeps. A sweep that failed part-way still
// reports what it processed alongside the error.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := h.engine.RunExpiredTimerSweep(r.Context())
	if err != nil && result == nil {
		h.writeError(w, r, "sweep", err)
		return
	}
	status := "success"
	code := http.StatusOK
	if err != nil {
		status = "partial"
		code = http.StatusMultiStatus
		h.logger.Warn("sweep finished with errors", map[string]interface{}{
			"processedCount": result.ProcessedCount,
			"error":          err.Error(),
		})
	}
	h.record(r.Context(), "sweep", status, start)
	writeJSON(w, code, result)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, operation string, okStatus int, call func(context.Context) (interface{}, error)) {
	start := time.Now()
	ctx := r.Context()
	if h.recorder != nil {
		var span trace.Span
		ctx, span = h.recorder.StartSpan(ctx, "api."+operation, attribute.String("http.path", r.URL.Path))
		defer span.End()
	}
	result, err := call(ctx)
	if err != nil {
		h.record(ctx, operation, string(apperrors.CodeOf(err)), start)
		h.writeError(w, r, operation, err)
		return
	}
	h.record(ctx, operation, "success", start)
	writeJSON(w, okStatus, result)
}

func (h *Handler) record(ctx context.Context, operation, status string, start time.Time) {
	if h.recorder != nil {
		h.recorder.RecordOperation(ctx, operation, status, time.Since(start))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	stdErr := apperrors.Normalize(err)
	status := apperrors.HTTPStatus(stdErr.Code)
	fields := map[string]interface{}{
		"operation": operation,
		"path":      r.URL.Path,
		"code":      string(stdErr.Code),
		"error":     err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields)
	} else {
		h.logger.Debug("request rejected", fields)
	}
	writeJSON(w, status, errorResponse{
		Code:     string(stdErr.Code),
		Message:  stdErr.Message,
		Details:  stdErr.Details,
		Metadata: stdErr.Metadata,
	})
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewInvalidInputError("request body is empty")
		}
		return apperrors.NewInvalidInputError("malformed request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
