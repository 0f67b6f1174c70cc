package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// ExecutorFunc adapts a function to the ModelExecutor interface.
type ExecutorFunc func(ctx context.Context, req Request) (Response, error)

// Invoke calls f.
func (f ExecutorFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// TemplateModel is the model id reported by TemplateExecutor.
const TemplateModel = "template"

// TemplateExecutor answers every role with templated instructions instead of
// calling a backend. It proposes no file operations and reports no findings,
// so a workflow driven by it completes without pausing.
type TemplateExecutor struct{}

// Invoke returns the templated response for req.Role.
func (TemplateExecutor) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, domain.ErrTimeout.Wrap(err, "template executor")
	}

	var out any
	switch req.Role {
	case domain.PhaseStrategy:
		var in StrategyRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return Response{}, domain.ErrInvalidInput.Wrap(err, "decode strategy request")
		}
		out = StrategyResponse{
			ParsedIntent: in.Task,
			PrimaryQuestions: []string{
				fmt.Sprintf("What does %q require in the %s domain?", in.Task, in.Domain),
				"Which existing components are affected?",
			},
			Sources:            []string{"repository source", "project documentation"},
			SearchQueries:      []string{in.Task},
			ValidationCriteria: []string{"findings cite a source", "affected files are listed"},
			AcceptanceCriteria: []string{"the requested change is implemented: " + in.Task},
		}
	case domain.PhaseResearch:
		out = ResearchResponse{
			Findings:   []string{"research must be performed by a configured model provider"},
			Sources:    []string{},
			Confidence: domain.ConfidenceHigh,
			RiskLevel:  domain.RiskLow,
			Risks:      []string{},
		}
	case domain.PhaseVerify:
		out = VerifyResponse{Issues: []string{}}
	case domain.PhaseSmeGate:
		out = SMEResponse{
			OverallRisk:    domain.RiskLow,
			Findings:       []domain.Finding{},
			Recommendation: domain.RecommendProceed,
		}
	case domain.PhaseImplement:
		out = ImplementResponse{Summary: "no changes proposed by template executor", Operations: []FileOperation{}}
	case domain.PhaseDocument:
		out = DocumentResponse{Summary: "no documentation changes proposed by template executor", Operations: []FileOperation{}}
	default:
		return Response{}, domain.ErrCapabilityUnavailable.Withf("template executor has no template for role %q", req.Role)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return Response{}, domain.ErrInvalidResponse.Wrap(err, "encode template response")
	}
	return Response{Model: TemplateModel, Payload: data}, nil
}
