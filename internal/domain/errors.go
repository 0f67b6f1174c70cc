package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an EngineError for callers that branch on failure type.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindInsufficientInput     Kind = "insufficient_input"
	KindSchemaVersionMismatch Kind = "schema_version_mismatch"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindTimeout               Kind = "timeout"
	KindPhaseError            Kind = "phase_error"
	KindFileOpError           Kind = "file_op_error"
	KindMaxRetriesExceeded    Kind = "max_retries_exceeded"
	KindGateAbort             Kind = "gate_abort"
	KindNotFound              Kind = "not_found"
	KindParseError            Kind = "parse_error"
)

// EngineError is the unified error type for the engine.
// Each error has a kind, a numeric code and a human-readable message.
// TraceID and LastPhase are filled in by the orchestrator on terminal failures.
type EngineError struct {
	Kind      Kind
	Code      int
	Message   string
	TraceID   string
	LastPhase Phase
	Cause     error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine error %d (%s): %s: %v", e.Code, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("engine error %d (%s): %s", e.Code, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an EngineError with the same kind and code, so copies
// produced by Withf and Wrap still match their sentinel.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Withf returns a copy of the sentinel with a formatted message.
func (e *EngineError) Withf(format string, args ...any) *EngineError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy of the sentinel carrying cause.
func (e *EngineError) Wrap(cause error, msg string) *EngineError {
	c := *e
	c.Message = msg
	c.Cause = cause
	return &c
}

// WithTrace returns a copy annotated with the workflow trace id and the last
// successfully completed phase.
func (e *EngineError) WithTrace(traceID string, last Phase) *EngineError {
	c := *e
	c.TraceID = traceID
	c.LastPhase = last
	return &c
}

// ---- Input / analysis errors (-32001 to -32009) ----

var (
	ErrInvalidInput      = &EngineError{Kind: KindInvalidInput, Code: -32001, Message: "invalid input"}
	ErrInsufficientInput = &EngineError{Kind: KindInsufficientInput, Code: -32002, Message: "task text is required"}
)

// ---- Engine / FSM / Gate errors (-32010 to -32039) ----

var (
	ErrInvalidTransition  = &EngineError{Kind: KindPhaseError, Code: -32010, Message: "invalid phase transition"}
	ErrPhaseFailed        = &EngineError{Kind: KindPhaseError, Code: -32011, Message: "phase failed"}
	ErrWorkflowNotFound   = &EngineError{Kind: KindNotFound, Code: -32012, Message: "workflow not found"}
	ErrWorkflowDone       = &EngineError{Kind: KindPhaseError, Code: -32013, Message: "workflow already finished"}
	ErrWorkflowNotPaused  = &EngineError{Kind: KindPhaseError, Code: -32014, Message: "workflow is not paused"}
	ErrOptimisticLock     = &EngineError{Kind: KindPhaseError, Code: -32015, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrInvalidPhase       = &EngineError{Kind: KindPhaseError, Code: -32016, Message: "invalid phase value"}
	ErrFieldOverwrite     = &EngineError{Kind: KindPhaseError, Code: -32017, Message: "phase wrote a field it does not own"}
	ErrMissingUpstream    = &EngineError{Kind: KindPhaseError, Code: -32018, Message: "required upstream field is missing"}
	ErrGateAbort          = &EngineError{Kind: KindGateAbort, Code: -32019, Message: "workflow aborted"}
	ErrExecutorMissing    = &EngineError{Kind: KindPhaseError, Code: -32020, Message: "no executor registered for phase"}
	ErrInvalidChoice      = &EngineError{Kind: KindInvalidInput, Code: -32021, Message: "invalid resume choice"}
	ErrPacketInvariant    = &EngineError{Kind: KindPhaseError, Code: -32022, Message: "handoff packet invariant violated"}
	ErrGateNotRegistered  = &EngineError{Kind: KindPhaseError, Code: -32023, Message: "no gate registered for phase"}
	ErrSnapshotCorrupt    = &EngineError{Kind: KindPhaseError, Code: -32024, Message: "snapshot checksum mismatch"}
	ErrVerificationFailed = &EngineError{Kind: KindPhaseError, Code: -32025, Message: "verification did not produce a decision"}
)

// ---- Capability errors (-32070 to -32099) ----

var (
	ErrCapabilityUnavailable = &EngineError{Kind: KindCapabilityUnavailable, Code: -32070, Message: "capability unavailable"}
	ErrTimeout               = &EngineError{Kind: KindTimeout, Code: -32071, Message: "capability call timed out"}
	ErrInvalidResponse       = &EngineError{Kind: KindPhaseError, Code: -32072, Message: "capability returned invalid response"}
	ErrProviderNotFound      = &EngineError{Kind: KindCapabilityUnavailable, Code: -32075, Message: "no provider registered for role"}
	ErrFileOp                = &EngineError{Kind: KindFileOpError, Code: -32080, Message: "file operation failed"}
	ErrPathEscapesRoot       = &EngineError{Kind: KindFileOpError, Code: -32081, Message: "path escapes workspace root"}
)

// ---- Guard errors (-32100 to -32129) ----

var (
	ErrRateLimitExceeded  = &EngineError{Kind: KindTimeout, Code: -32103, Message: "rate limit wait exceeded"}
	ErrPermissionDenied   = &EngineError{Kind: KindFileOpError, Code: -32104, Message: "permission denied"}
	ErrMaxRetriesExceeded = &EngineError{Kind: KindMaxRetriesExceeded, Code: -32105, Message: "maximum loop-backs exceeded"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit             = &EngineError{Kind: KindPhaseError, Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery            = &EngineError{Kind: KindPhaseError, Code: -32131, Message: "store query failed"}
	ErrStoreWrite            = &EngineError{Kind: KindPhaseError, Code: -32132, Message: "store write failed"}
	ErrSchemaVersionMismatch = &EngineError{Kind: KindSchemaVersionMismatch, Code: -32134, Message: "unsupported handoff packet schema version"}
	ErrConfigInvalid         = &EngineError{Kind: KindInvalidInput, Code: -32136, Message: "invalid configuration"}
	ErrConfigNotFound        = &EngineError{Kind: KindNotFound, Code: -32138, Message: "configuration not found"}
	ErrConfigParse           = &EngineError{Kind: KindParseError, Code: -32139, Message: "configuration could not be parsed"}
	ErrPacketMalformed       = &EngineError{Kind: KindInvalidInput, Code: -32140, Message: "handoff packet is malformed"}
)

// ---- Review errors (-32160 to -32189) ----

var (
	ErrFindingInvalid = &EngineError{Kind: KindPhaseError, Code: -32160, Message: "SME response validation failed"}
)

// KindOf classifies any error into the engine taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindGateAbort
	}
	return KindPhaseError
}

// AsEngineError converts err into an *EngineError, mapping context errors and
// foreign errors onto the taxonomy.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.Wrap(err, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return ErrGateAbort.Wrap(err, "workflow cancelled")
	default:
		return ErrPhaseFailed.Wrap(err, "phase failed")
	}
}
