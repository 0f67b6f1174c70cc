// Package team runs the SME review panel and checks file-operation batches
// proposed for the Implement phase.
package team

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/review"
)

// DefaultSMETimeout bounds one SME call when the panel has no timeout set.
const DefaultSMETimeout = 60 * time.Second

// Panel fans SME review requests out to the model executor and joins them.
type Panel struct {
	Exec      capability.ModelExecutor
	Validator *review.SchemaValidator
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewPanel creates a Panel with sensible defaults for zero-value fields.
func NewPanel(exec capability.ModelExecutor, timeout time.Duration, logger *zap.Logger) *Panel {
	if timeout <= 0 {
		timeout = DefaultSMETimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Panel{
		Exec:      exec,
		Validator: &review.SchemaValidator{},
		Timeout:   timeout,
		Logger:    logger,
	}
}

// Result is one SME's review plus the model that produced it.
type Result struct {
	Kind   domain.SMEKind
	Review domain.SMEReview
	Model  string
}

// Convene runs one review per kind concurrently and waits for all of them to
// finish or time out. A failed or timed-out SME is recorded as not executed
// and never affects the others. Results come back in kinds order.
func (p *Panel) Convene(ctx context.Context, traceID string, kinds []domain.SMEKind, build func(domain.SMEKind) capability.SMERequest) []Result {
	results := make([]Result, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			results[i] = p.review(ctx, traceID, kind, build(kind))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

type callResult struct {
	resp  capability.SMEResponse
	model string
	err   error
}

// review performs one SME call bounded by the panel timeout. The call runs
// in its own goroutine so an executor that ignores ctx cannot hold the barrier.
func (p *Panel) review(ctx context.Context, traceID string, kind domain.SMEKind, in capability.SMERequest) Result {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		req := capability.Request{TraceID: traceID, Role: domain.PhaseSmeGate, SME: kind}
		resp, model, err := capability.Call[capability.SMERequest, capability.SMEResponse](cctx, p.Exec, req, in)
		done <- callResult{resp: resp, model: model, err: err}
	}()

	var cr callResult
	select {
	case cr = <-done:
	case <-cctx.Done():
		cr.err = domain.ErrTimeout.Wrap(cctx.Err(), "SME "+string(kind)+" review")
	}

	if cr.err == nil {
		cr.err = p.Validator.Validate(kind, cr.resp)
	}

	logger := p.Logger.With(
		zap.String("trace_id", traceID),
		zap.String("sme", string(kind)),
		zap.Duration("duration", time.Since(start)),
	)

	if cr.err != nil {
		logger.Warn("SME review failed", zap.Error(cr.err))
		return Result{
			Kind: kind,
			Review: domain.SMEReview{
				Executed: false,
				Findings: []domain.Finding{},
				Error:    cr.err.Error(),
			},
		}
	}

	findings := cr.resp.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	logger.Info("SME review completed",
		zap.String("overall_risk", string(cr.resp.OverallRisk)),
		zap.Int("findings", len(findings)),
	)
	return Result{
		Kind:  kind,
		Model: cr.model,
		Review: domain.SMEReview{
			Executed:       true,
			OverallRisk:    cr.resp.OverallRisk,
			Findings:       findings,
			Recommendation: cr.resp.Recommendation,
		},
	}
}

// Aggregate folds panel results into reviews keyed by SME.
func Aggregate(results []Result) domain.SMEReviews {
	out := make(domain.SMEReviews, len(results))
	for _, r := range results {
		out[r.Kind] = r.Review
	}
	return out
}
