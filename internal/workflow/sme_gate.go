package workflow

import (
	"context"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/review"
	"github.com/Rogers-F/handoff-engine/internal/team"
)

// SmeGatePhase convenes the triggered SMEs concurrently, records their
// reviews and defers to the quality gate for the control decision.
type SmeGatePhase struct {
	Gate *review.QualityGate
}

// Phase returns PhaseSmeGate.
func (s *SmeGatePhase) Phase() domain.Phase { return domain.PhaseSmeGate }

// Run executes the SmeGate phase.
func (s *SmeGatePhase) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	if p.Context.Verification == nil {
		return Outcome{}, domain.ErrMissingUpstream.Withf("sme gate requires context.verification")
	}

	kinds := review.SelectSMEs(env.Config, p)
	panel := team.NewPanel(env.Exec, env.Config.SMETimeout, env.log())
	results := panel.Convene(ctx, env.TraceID, kinds, func(kind domain.SMEKind) capability.SMERequest {
		return capability.SMERequest{
			Kind:             kind,
			Task:             p.UserRequest.Original,
			RiskFlags:        p.UserRequest.RiskFlags,
			Research:         p.Context.Findings,
			Verification:     p.Context.Verification,
			SafetyInvariants: p.SafetyInvariants,
		}
	})
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	p.SMEReviews = team.Aggregate(results)

	gate := s.Gate
	if gate == nil {
		gate = &review.QualityGate{}
	}
	decision := gate.Decide(p.SMEReviews.Findings())

	out := Outcome{Gate: &decision}
	for _, r := range results {
		if r.Model != "" {
			out.Model = r.Model
			break
		}
	}
	if decision.Verdict == review.VerdictPause {
		out.Pause = domain.PauseQualityGate
	}
	return out, nil
}
