// Package capability defines the boundary contracts the engine calls into:
// model execution, file mutation, persistence and rollback.
package capability

import (
	"context"
	"encoding/json"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// Request is a phase-specific structured request sent to a model backend.
type Request struct {
	TraceID string          `json:"traceId"`
	Role    domain.Phase    `json:"role"`
	SME     domain.SMEKind  `json:"sme,omitempty"`
	Model   string          `json:"model,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the backend's structured reply.
type Response struct {
	Model   string          `json:"model,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ModelExecutor asks a reasoning backend to perform one phase step. It may
// fail with CapabilityUnavailable or Timeout.
type ModelExecutor interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Call marshals in, invokes exec and decodes the reply payload into Out.
// A payload that does not decode is reported as InvalidResponse.
func Call[In, Out any](ctx context.Context, exec ModelExecutor, req Request, in In) (Out, string, error) {
	var out Out
	payload, err := json.Marshal(in)
	if err != nil {
		return out, "", domain.ErrInvalidInput.Wrap(err, "marshal request")
	}
	req.Payload = payload
	resp, err := exec.Invoke(ctx, req)
	if err != nil {
		return out, "", err
	}
	if len(resp.Payload) == 0 {
		return out, resp.Model, domain.ErrInvalidResponse.Withf("%s returned an empty payload", req.Role)
	}
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return out, resp.Model, domain.ErrInvalidResponse.Wrap(err, "decode "+string(req.Role)+" response")
	}
	return out, resp.Model, nil
}

// FileOpKind is the kind of a file operation.
type FileOpKind string

const (
	FileCreate FileOpKind = "create"
	FileEdit   FileOpKind = "edit"
	FileDelete FileOpKind = "delete"
)

// FileOperation is one change the Implement phase applies.
type FileOperation struct {
	Kind    FileOpKind `json:"kind"`
	Path    string     `json:"path"`
	Content string     `json:"content,omitempty"`
}

// FileMutator applies file operations. Failures are FileOpError.
type FileMutator interface {
	Apply(ctx context.Context, op FileOperation) error
}

// Persistence is the append-only log store keyed by trace id. AppendLog is
// idempotent per (traceID, phase, seq).
type Persistence interface {
	AppendLog(ctx context.Context, traceID string, phase domain.Phase, seq int64, payload json.RawMessage) error
	ReadLog(ctx context.Context, traceID string) ([]json.RawMessage, error)
}

// Sessioner hands out a FileMutator scoped to one workflow run. Rollback
// state kept by the session never outlives the run.
type Sessioner interface {
	Session() FileMutator
}

// Rollbacker undoes applied file operations after a partial Implement failure.
type Rollbacker interface {
	Rollback(ctx context.Context, traceID string, applied []FileOperation) error
}
