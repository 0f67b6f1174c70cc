package workflow

import (
	"context"
	"strings"

	"github.com/Rogers-F/handoff-engine/internal/analyzer"
	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// StrategyPhase classifies the task and asks the backend for a research plan.
// It is the only phase that writes userRequest and seeds the constraint lists.
type StrategyPhase struct{}

// Phase returns PhaseStrategy.
func (s *StrategyPhase) Phase() domain.Phase { return domain.PhaseStrategy }

// Run executes the Strategy phase.
func (s *StrategyPhase) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	task := strings.TrimSpace(p.UserRequest.Original)
	if task == "" {
		return Outcome{}, domain.ErrInsufficientInput.Withf("userRequest.original is empty")
	}
	a, err := analyzer.Analyze(task)
	if err != nil {
		return Outcome{}, err
	}

	resp, model, err := call[capability.StrategyRequest, capability.StrategyResponse](ctx, env,
		capability.Request{Role: domain.PhaseStrategy},
		capability.StrategyRequest{
			Task:        task,
			Domain:      a.Domain,
			Complexity:  string(a.Complexity),
			RiskFlags:   a.RiskFlags,
			Constraints: p.Constraints,
		})
	if err != nil {
		return Outcome{}, err
	}

	p.UserRequest.ParsedIntent = resp.ParsedIntent
	if p.UserRequest.ParsedIntent == "" {
		p.UserRequest.ParsedIntent = task
	}
	p.UserRequest.Domain = a.Domain
	p.UserRequest.ClarityScore = a.ClarityScore
	p.UserRequest.RiskFlags = a.RiskFlags

	p.Context.Strategy = &domain.StrategyOutput{
		Complexity:         string(a.Complexity),
		PrimaryQuestions:   nonNil(resp.PrimaryQuestions),
		Sources:            nonNil(resp.Sources),
		SearchQueries:      nonNil(resp.SearchQueries),
		ValidationCriteria: nonNil(resp.ValidationCriteria),
		ResearchModel:      a.RecommendedModel,
		EstimatedMinutes:   a.EstimatedMinutes,
	}

	p.Constraints = append(p.Constraints, resp.Constraints...)
	p.AcceptanceCriteria = append(p.AcceptanceCriteria, resp.AcceptanceCriteria...)
	p.SafetyInvariants = append(p.SafetyInvariants, resp.SafetyInvariants...)
	if env.Config.SafetyHooks {
		for _, path := range env.Config.ProtectedPaths {
			p.SafetyInvariants = append(p.SafetyInvariants, "do not modify protected path "+path)
		}
	}
	return Outcome{Model: model}, nil
}

// ResearchPhase gathers findings for the strategy. It writes only context.findings.
type ResearchPhase struct{}

// Phase returns PhaseResearch.
func (r *ResearchPhase) Phase() domain.Phase { return domain.PhaseResearch }

// Run executes the Research phase.
func (r *ResearchPhase) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	if p.Context.Strategy == nil {
		return Outcome{}, domain.ErrMissingUpstream.Withf("research requires context.strategy")
	}

	resp, model, err := call[capability.ResearchRequest, capability.ResearchResponse](ctx, env,
		capability.Request{Role: domain.PhaseResearch, Model: p.Context.Strategy.ResearchModel},
		capability.ResearchRequest{Task: p.UserRequest.Original, Strategy: p.Context.Strategy})
	if err != nil {
		return Outcome{}, err
	}
	if !resp.Confidence.Valid() {
		return Outcome{}, domain.ErrInvalidResponse.Withf("research confidence %q is not high, medium or low", resp.Confidence)
	}
	if resp.RiskLevel == "" {
		resp.RiskLevel = domain.RiskLow
	}
	if !resp.RiskLevel.Valid() {
		return Outcome{}, domain.ErrInvalidResponse.Withf("research riskLevel %q is not recognized", resp.RiskLevel)
	}

	p.Context.Findings = &domain.ResearchOutput{
		Findings:       nonNil(resp.Findings),
		Sources:        nonNil(resp.Sources),
		Confidence:     resp.Confidence,
		RiskLevel:      resp.RiskLevel,
		Risks:          nonNil(resp.Risks),
		AffectedFiles:  resp.AffectedFiles,
		EstimatedLines: resp.EstimatedLines,
	}
	return Outcome{Model: model}, nil
}

// VerifyPhase cross-checks research and applies the decision matrix. The
// decision is surfaced to the orchestrator; anything short of auto-proceed
// pauses unless the workflow was pre-approved.
type VerifyPhase struct{}

// Phase returns PhaseVerify.
func (v *VerifyPhase) Phase() domain.Phase { return domain.PhaseVerify }

// Run executes the Verify phase.
func (v *VerifyPhase) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	research := p.Context.Findings
	if research == nil {
		return Outcome{}, domain.ErrMissingUpstream.Withf("verify requires context.findings")
	}

	resp, model, err := call[capability.VerifyRequest, capability.VerifyResponse](ctx, env,
		capability.Request{Role: domain.PhaseVerify},
		capability.VerifyRequest{
			Task:               p.UserRequest.Original,
			Research:           research,
			AcceptanceCriteria: p.AcceptanceCriteria,
			LoopBack:           p.Metadata.LoopBacks,
		})
	if err != nil {
		return Outcome{}, err
	}

	confidence, risk := research.Confidence, research.RiskLevel
	if resp.Confidence != "" {
		if !resp.Confidence.Valid() {
			return Outcome{}, domain.ErrVerificationFailed.Withf("verify confidence %q is not recognized", resp.Confidence)
		}
		confidence = resp.Confidence
	}
	if resp.RiskLevel != "" {
		if !resp.RiskLevel.Valid() {
			return Outcome{}, domain.ErrVerificationFailed.Withf("verify riskLevel %q is not recognized", resp.RiskLevel)
		}
		risk = resp.RiskLevel
	}

	decision := Decide(confidence, risk)
	approved := decision == domain.VerifyAutoProceed || env.Config.AutoApprove
	p.Context.Verification = &domain.VerificationOutput{
		Decision:   decision,
		Confidence: confidence,
		RiskLevel:  risk,
		Issues:     nonNil(resp.Issues),
		Approved:   approved,
	}

	out := Outcome{Model: model}
	if !approved {
		out.Pause = domain.PauseVerification
	}
	return out, nil
}

// Decide applies the verification matrix:
// high confidence and low risk proceeds automatically, high confidence and
// medium risk needs one confirmation, anything else needs a full review.
func Decide(confidence domain.Confidence, risk domain.RiskLevel) domain.VerifyDecision {
	if confidence != domain.ConfidenceHigh {
		return domain.VerifyFullReview
	}
	switch risk {
	case domain.RiskLow:
		return domain.VerifyAutoProceed
	case domain.RiskMedium:
		return domain.VerifySingleConfirmation
	}
	return domain.VerifyFullReview
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
