// Package bridge is the caller facade over the workflow engine. It resolves
// the effective configuration, drives the orchestrator and reports every
// error as a Failure.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/analyzer"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/review"
	"github.com/Rogers-F/handoff-engine/internal/store"
	"github.com/Rogers-F/handoff-engine/internal/workflow"
)

// Failure is the structured error returned to callers.
type Failure struct {
	Kind               domain.Kind  `json:"kind"`
	Code               int          `json:"code"`
	Message            string       `json:"message"`
	TraceID            string       `json:"traceId,omitempty"`
	LastCompletedPhase domain.Phase `json:"lastCompletedPhase,omitempty"`

	err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.TraceID != "" {
		return string(f.Kind) + ": " + f.Message + " (trace " + f.TraceID + ")"
	}
	return string(f.Kind) + ": " + f.Message
}

// Unwrap returns the engine error the failure was built from.
func (f *Failure) Unwrap() error { return f.err }

// AsFailure converts any error into a Failure. It returns nil for nil.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	e := domain.AsEngineError(err)
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return &Failure{
		Kind:               e.Kind,
		Code:               e.Code,
		Message:            msg,
		TraceID:            e.TraceID,
		LastCompletedPhase: e.LastPhase,
		err:                e,
	}
}

// WorkflowView is the caller-facing state of one workflow.
type WorkflowView struct {
	TraceID     string                `json:"traceId"`
	Status      domain.WorkflowStatus `json:"status"`
	PauseReason domain.PauseReason    `json:"pauseReason,omitempty"`
	LoopBacks   int                   `json:"loopBacks"`
	Packet      *domain.HandoffPacket `json:"packet"`
	Gate        *review.Decision      `json:"gate,omitempty"`
	Consensus   *review.Summary       `json:"consensus,omitempty"`
	Warnings    []string              `json:"configWarnings,omitempty"`
	Error       *Failure              `json:"error,omitempty"`
}

// WorkflowSummary is one row of ListWorkflows.
type WorkflowSummary struct {
	TraceID      string                `json:"traceId"`
	Status       domain.WorkflowStatus `json:"status"`
	CurrentPhase domain.Phase          `json:"currentPhase"`
	PauseReason  domain.PauseReason    `json:"pauseReason,omitempty"`
	LoopBacks    int                   `json:"loopBacks"`
	LastError    string                `json:"lastError,omitempty"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// ExecuteRequest starts a workflow.
type ExecuteRequest struct {
	Task         string         `json:"task"`
	ContextHints []string       `json:"contextHints,omitempty"`
	Overrides    map[string]any `json:"configOverrides,omitempty"`
}

// ValidateRequest names the document to validate: an inline document, a
// path, or neither for the configured document.
type ValidateRequest struct {
	Path     string         `json:"path,omitempty"`
	Document map[string]any `json:"document,omitempty"`
}

// Bridge serves the caller operations.
type Bridge struct {
	Orchestrator *workflow.Orchestrator
	Store        *store.Store
	Source       config.Source
	// ConfigPath is the workflow configuration document. Empty uses
	// config.DefaultDocument.
	ConfigPath string
	Settings   *config.Settings
	Logger     *zap.Logger

	consensus review.ConsensusEngine
}

// New creates a Bridge. settings may be nil.
func New(orch *workflow.Orchestrator, st *store.Store, configPath string, settings *config.Settings, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		Orchestrator: orch,
		Store:        st,
		Source:       config.FileSource{},
		ConfigPath:   configPath,
		Settings:     settings,
		Logger:       logger,
	}
}

// ExecuteWorkflow runs a new workflow until it completes, pauses or fails.
// A failed or aborted workflow returns both its view and the Failure.
func (b *Bridge) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (*WorkflowView, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, AsFailure(domain.ErrInsufficientInput.Withf("task is required"))
	}
	cfg, warnings, err := b.resolveConfig(req.Overrides)
	if err != nil {
		return nil, b.fail("execute", err)
	}

	res, err := b.Orchestrator.Start(ctx, workflow.StartRequest{
		Task:   req.Task,
		Hints:  req.ContextHints,
		Config: &cfg,
	})
	view := b.view(res, err)
	if view != nil {
		view.Warnings = warnings
	}
	if err != nil {
		return view, b.fail("execute", err)
	}
	return view, nil
}

// ResumeWorkflow applies choice (fix, proceed or abort) to a paused workflow.
func (b *Bridge) ResumeWorkflow(ctx context.Context, traceID, choice string) (*WorkflowView, error) {
	c, err := domain.ParseChoice(choice)
	if err != nil {
		return nil, b.fail("resume", err)
	}
	res, err := b.Orchestrator.Resume(ctx, traceID, c)
	view := b.view(res, err)
	if err != nil {
		return view, b.fail("resume", err)
	}
	return view, nil
}

// GetWorkflow returns the persisted state of a workflow.
func (b *Bridge) GetWorkflow(ctx context.Context, traceID string) (*WorkflowView, error) {
	res, err := b.Orchestrator.Get(ctx, traceID)
	if err != nil {
		return nil, b.fail("get", err)
	}
	return b.view(res, nil), nil
}

// ReadLog returns the phase log payloads of a workflow in insertion order.
func (b *Bridge) ReadLog(ctx context.Context, traceID string) ([]json.RawMessage, error) {
	if _, err := b.Orchestrator.Get(ctx, traceID); err != nil {
		return nil, b.fail("read log", err)
	}
	entries, err := b.Store.ReadLog(ctx, traceID)
	if err != nil {
		return nil, b.fail("read log", err)
	}
	return entries, nil
}

// ListWorkflows returns the workflows currently in status.
func (b *Bridge) ListWorkflows(ctx context.Context, status string) ([]WorkflowSummary, error) {
	st := domain.WorkflowStatus(status)
	switch st {
	case domain.StatusRunning, domain.StatusPaused, domain.StatusCompleted, domain.StatusFailed, domain.StatusAborted:
	default:
		return nil, b.fail("list", domain.ErrInvalidInput.Withf("unknown workflow status %q", status))
	}
	recs, err := b.Store.ListWorkflows(ctx, st)
	if err != nil {
		return nil, b.fail("list", err)
	}
	out := make([]WorkflowSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, WorkflowSummary{
			TraceID:      r.TraceID,
			Status:       r.Status,
			CurrentPhase: r.CurrentPhase,
			PauseReason:  r.PauseReason,
			LoopBacks:    r.LoopBacks,
			LastError:    r.LastError,
			UpdatedAt:    time.Unix(r.UpdatedAtUnix, 0).UTC(),
		})
	}
	return out, nil
}

// AuditTrail returns the audit records of a workflow.
func (b *Bridge) AuditTrail(ctx context.Context, traceID string) ([]domain.AuditRecord, error) {
	recs, err := b.Store.AuditTrail(ctx, traceID)
	if err != nil {
		return nil, b.fail("audit", err)
	}
	return recs, nil
}

// ValidateConfig validates a configuration document. Load failures are
// returned as a Failure; schema problems are reported in the result.
func (b *Bridge) ValidateConfig(ctx context.Context, req ValidateRequest) (config.ValidationResult, error) {
	doc := req.Document
	if doc == nil {
		path := req.Path
		if path == "" {
			path = b.ConfigPath
		}
		if path == "" {
			return config.Validate(config.DefaultDocument()), nil
		}
		loaded, err := b.Source.Load(path)
		if err != nil {
			return config.ValidationResult{}, b.fail("validate config", err)
		}
		doc = loaded
	}
	return config.Validate(doc), nil
}

// AnalyzeTask classifies task text without starting a workflow.
func (b *Bridge) AnalyzeTask(task string) (analyzer.Analysis, error) {
	a, err := analyzer.Analyze(task)
	if err != nil {
		return analyzer.Analysis{}, b.fail("analyze", err)
	}
	return a, nil
}

// resolveConfig loads the configured document, merges overrides over it,
// validates the result and overlays engine settings.
func (b *Bridge) resolveConfig(overrides map[string]any) (config.WorkflowConfig, []string, error) {
	doc := config.DefaultDocument()
	if b.ConfigPath != "" {
		loaded, err := b.Source.Load(b.ConfigPath)
		if err != nil {
			return config.WorkflowConfig{}, nil, err
		}
		doc = loaded
	}
	if len(overrides) > 0 {
		doc = config.Merge(doc, overrides)
	}
	cfg, warnings, err := config.FromDocument(doc)
	if err != nil {
		return config.WorkflowConfig{}, warnings, err
	}
	if b.Settings != nil {
		cfg = b.Settings.ApplyTo(cfg, doc)
	}
	return cfg, warnings, nil
}

func (b *Bridge) view(res *workflow.Result, err error) *WorkflowView {
	if res == nil {
		return nil
	}
	v := &WorkflowView{
		TraceID:     res.TraceID,
		Status:      res.Status,
		PauseReason: res.PauseReason,
		LoopBacks:   res.LoopBacks,
		Packet:      res.Packet,
		Gate:        res.Gate,
		Error:       AsFailure(err),
	}
	if res.Packet != nil && len(res.Packet.SMEReviews) > 0 {
		s := b.consensus.Summarize(res.Packet.SMEReviews)
		v.Consensus = &s
	}
	return v
}

func (b *Bridge) fail(op string, err error) *Failure {
	f := AsFailure(err)
	b.Logger.Warn(op+" failed",
		zap.String("kind", string(f.Kind)),
		zap.Int("code", f.Code),
		zap.String("trace_id", f.TraceID),
		zap.String("last_completed_phase", string(f.LastCompletedPhase)),
		zap.String("message", f.Message))
	return f
}
