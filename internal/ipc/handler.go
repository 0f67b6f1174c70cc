// Package ipc provides the HTTP API for the handoff engine.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/bridge"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Bridge *bridge.Bridge
	Logger *zap.Logger
	// PollInterval is how often StreamLog checks for new entries.
	PollInterval time.Duration
}

// NewHandler creates a Handler over b.
func NewHandler(b *bridge.Bridge, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Bridge: b, Logger: logger, PollInterval: 2 * time.Second}
}

// DecisionRequest is the body for POST /api/v1/workflows/{traceID}/decision.
type DecisionRequest struct {
	Choice string `json:"choice"`
}

// AnalyzeRequest is the body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	Task string `json:"task"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Bridge.Store.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateWorkflow handles POST /api/v1/workflows. The request runs the
// workflow to its first stop; a failed workflow is still reported with its
// state and error.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req bridge.ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Task == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "task is required"})
		return
	}

	view, err := h.Bridge.ExecuteWorkflow(r.Context(), req)
	if view == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// ListWorkflows handles GET /api/v1/workflows?status=paused. The status
// defaults to paused.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(domain.StatusPaused)
	}
	list, err := h.Bridge.ListWorkflows(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetWorkflow handles GET /api/v1/workflows/{traceID}.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	view, err := h.Bridge.GetWorkflow(r.Context(), r.PathValue("traceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Decide handles POST /api/v1/workflows/{traceID}/decision.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Choice == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "choice is required"})
		return
	}

	view, err := h.Bridge.ResumeWorkflow(r.Context(), r.PathValue("traceID"), req.Choice)
	if view == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListLog handles GET /api/v1/workflows/{traceID}/log.
func (h *Handler) ListLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Bridge.ReadLog(r.Context(), r.PathValue("traceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListAudit handles GET /api/v1/workflows/{traceID}/audit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Bridge.AuditTrail(r.Context(), r.PathValue("traceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListReviews handles GET /api/v1/workflows/{traceID}/reviews.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.Bridge.Store.Reviews(r.Context(), r.PathValue("traceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if reviews == nil {
		reviews = []domain.SMEReviewRecord{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

// Analyze handles POST /api/v1/analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Bridge.AnalyzeTask(req.Task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ValidateConfig handles POST /api/v1/config/validate. An empty body
// validates the configured document.
func (h *Handler) ValidateConfig(w http.ResponseWriter, r *http.Request) {
	var req bridge.ValidateRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	res, err := h.Bridge.ValidateConfig(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StreamLog handles GET /api/v1/workflows/{traceID}/log/stream (SSE). It
// sends the existing phase log and then polls for new entries until the
// client disconnects.
func (h *Handler) StreamLog(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("traceID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	entries, err := h.Bridge.ReadLog(r.Context(), traceID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for _, e := range entries {
		writeSSEEvent(w, flusher, e)
	}
	sent := len(entries)

	ctx := r.Context()
	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := h.Bridge.Store.ReadLog(ctx, traceID)
			if err != nil {
				if ctx.Err() == nil {
					writeSSEError(w, flusher, err)
				}
				return
			}
			for _, e := range entries[min(sent, len(entries)):] {
				writeSSEEvent(w, flusher, e)
			}
			sent = max(sent, len(entries))
		}
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Logger.Debug("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	f := bridge.AsFailure(err)
	writeJSON(w, statusFor(err, f.Kind), f)
}

func statusFor(err error, kind domain.Kind) int {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrWorkflowDone), errors.Is(err, domain.ErrWorkflowNotPaused),
		errors.Is(err, domain.ErrOptimisticLock):
		return http.StatusConflict
	}
	switch kind {
	case domain.KindInvalidInput, domain.KindInsufficientInput, domain.KindParseError,
		domain.KindSchemaVersionMismatch:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindMaxRetriesExceeded, domain.KindGateAbort:
		return http.StatusUnprocessableEntity
	case domain.KindCapabilityUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, entry json.RawMessage) {
	fmt.Fprintf(w, "event: phase\ndata: %s\n\n", entry)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
