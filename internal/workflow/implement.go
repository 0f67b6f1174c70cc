package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/team"
)

// ImplementPhase asks the backend for file operations and applies them,
// retrying each failed operation up to FileRetries times. Any operation that
// still fails marks the phase for rollback.
type ImplementPhase struct {
	Conflicts team.ConflictDetector
}

// Phase returns PhaseImplement.
func (i *ImplementPhase) Phase() domain.Phase { return domain.PhaseImplement }

// Run executes the Implement phase.
func (i *ImplementPhase) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	if p.Context.Findings == nil || p.Context.Verification == nil {
		return Outcome{}, domain.ErrMissingUpstream.Withf("implement requires context.findings and context.verification")
	}

	in := capability.ImplementRequest{
		Task:        p.UserRequest.Original,
		Research:    p.Context.Findings,
		Constraints: p.Constraints,
	}
	if findings := p.SMEReviews.Findings(); len(findings) > 0 {
		in.SMEFindings = findings
	}
	resp, model, err := call[capability.ImplementRequest, capability.ImplementResponse](ctx, env,
		capability.Request{Role: domain.PhaseImplement}, in)
	if err != nil {
		return Outcome{}, err
	}

	if conflicts := i.Conflicts.Detect(resp.Operations); len(conflicts) > 0 {
		files := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			files = append(files, fmt.Sprintf("%s (%s)", c.File, c.Type))
		}
		return Outcome{}, domain.ErrPhaseFailed.Withf("conflicting file operations: %s", strings.Join(files, ", "))
	}
	if len(resp.Operations) > 0 && env.Files == nil {
		return Outcome{}, domain.ErrCapabilityUnavailable.Withf("no file mutator configured for %d operations", len(resp.Operations))
	}

	impl := &domain.ImplementationOutput{Summary: resp.Summary, Files: []domain.FileResult{}}
	out := Outcome{Model: model}
	for _, op := range resp.Operations {
		attempts, err := applyWithRetry(ctx, env, op)
		res := domain.FileResult{Path: op.Path, Operation: string(op.Kind), OK: err == nil, Attempts: attempts}
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			res.Error = err.Error()
			impl.Failed++
			env.log().Warn("file operation failed",
				zap.String("path", op.Path),
				zap.String("op", string(op.Kind)),
				zap.Int("attempts", attempts),
				zap.Error(err))
		} else {
			impl.Succeeded++
			out.Applied = append(out.Applied, op)
		}
		impl.Files = append(impl.Files, res)
	}
	impl.Rollback = impl.Failed > 0
	out.Rollback = impl.Rollback
	p.Context.Implementation = impl
	return out, nil
}

// applyWithRetry applies op, retrying up to FileRetries times. Denied or
// escaping paths are not retried.
func applyWithRetry(ctx context.Context, env *Env, op capability.FileOperation) (int, error) {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := env.Files.Apply(ctx, op)
		if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrPathEscapesRoot) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(env.backOff()),
		backoff.WithMaxTries(FileRetries+1),
	)
	return attempts, err
}

// DocumentPhase updates documentation. Its failures never fail the workflow.
type DocumentPhase struct{}

// Phase returns PhaseDocument.
func (d *DocumentPhase) Phase() domain.Phase { return domain.PhaseDocument }

// NonFatal marks Document failures as warnings.
func (d *DocumentPhase) NonFatal() bool { return true }

// Run executes the Document phase.
func (d *DocumentPhase) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	if p.Context.Implementation == nil {
		return Outcome{}, domain.ErrMissingUpstream.Withf("document requires context.implementation")
	}

	resp, model, err := call[capability.DocumentRequest, capability.DocumentResponse](ctx, env,
		capability.Request{Role: domain.PhaseDocument},
		capability.DocumentRequest{Task: p.UserRequest.Original, Implementation: p.Context.Implementation})
	if err != nil {
		return Outcome{}, err
	}
	if len(resp.Operations) > 0 && env.Files == nil {
		return Outcome{}, domain.ErrCapabilityUnavailable.Withf("no file mutator configured for documentation")
	}

	doc := &domain.DocumentationOutput{Summary: resp.Summary, Updated: []string{}}
	out := Outcome{Model: model}
	for _, op := range resp.Operations {
		if err := env.Files.Apply(ctx, op); err != nil {
			return Outcome{}, domain.ErrFileOp.Wrap(err, "update "+op.Path)
		}
		doc.Updated = append(doc.Updated, op.Path)
		out.Applied = append(out.Applied, op)
	}
	p.Context.Documentation = doc
	return out, nil
}
