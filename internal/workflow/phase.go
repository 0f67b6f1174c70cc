package workflow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/review"
)

// FileRetries is how many times Implement retries a failed file operation.
const FileRetries = 2

// Env is the per-workflow context handed to every phase: the trace id, the
// effective configuration and the capabilities the phase may call.
type Env struct {
	TraceID string
	Config  config.WorkflowConfig
	Exec    capability.ModelExecutor
	Files   capability.FileMutator
	Logger  *zap.Logger

	// NewBackOff returns the retry schedule for one retried call.
	NewBackOff func() backoff.BackOff
}

func (e *Env) backOff() backoff.BackOff {
	if e.NewBackOff == nil {
		return backoff.NewExponentialBackOff()
	}
	return e.NewBackOff()
}

func (e *Env) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Outcome is what a phase reports to the orchestrator besides the packet it
// mutated.
type Outcome struct {
	Model string

	// Pause asks the orchestrator to suspend for an external decision.
	Pause domain.PauseReason

	// Gate is the quality gate decision of an SmeGate run.
	Gate *review.Decision

	// Applied lists the file operations that succeeded. Rollback is set when
	// at least one operation failed after retries.
	Applied  []capability.FileOperation
	Rollback bool
}

// PhaseExecutor runs one phase against a working copy of the packet. It
// writes only the fields its phase owns.
type PhaseExecutor interface {
	Phase() domain.Phase
	Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error)
}

// nonFatal is implemented by phases whose failure is logged as a warning
// instead of failing the workflow.
type nonFatal interface {
	NonFatal() bool
}

func isNonFatal(e PhaseExecutor) bool {
	nf, ok := e.(nonFatal)
	return ok && nf.NonFatal()
}

// DefaultExecutors returns the executor for every phase.
func DefaultExecutors() []PhaseExecutor {
	return []PhaseExecutor{
		&StrategyPhase{},
		&ResearchPhase{},
		&VerifyPhase{},
		&SmeGatePhase{Gate: &review.QualityGate{}},
		&ImplementPhase{},
		&DocumentPhase{},
	}
}

// retryable reports whether a model call error is worth retrying.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch domain.KindOf(err) {
	case domain.KindCapabilityUnavailable, domain.KindTimeout:
		return true
	}
	return false
}

// call invokes the model executor for one phase step, retrying transient
// failures up to Config.ModelRetries times.
func call[In, Out any](ctx context.Context, env *Env, req capability.Request, in In) (Out, string, error) {
	req.TraceID = env.TraceID
	var model string
	op := func() (Out, error) {
		out, m, err := capability.Call[In, Out](ctx, env.Exec, req, in)
		model = m
		if err != nil && !retryable(ctx, err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	tries := uint(1)
	if env.Config.ModelRetries > 0 {
		tries += uint(env.Config.ModelRetries)
	}
	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(env.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			env.log().Warn("model call failed, retrying",
				zap.String("role", string(req.Role)),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return out, model, domain.AsEngineError(err)
	}
	return out, model, nil
}
