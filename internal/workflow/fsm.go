package workflow

import (
	"slices"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// Action names the reason for a phase transition.
type Action string

const (
	// ActionAdvance moves to the next phase in order.
	ActionAdvance Action = "advance"
	// ActionSkip passes over the conditional SmeGate.
	ActionSkip Action = "skip"
	// ActionLoopBack returns to Verify after a "fix" decision.
	ActionLoopBack Action = "loop_back"
)

// validTransitions defines the legal phase transitions.
// Each key is a source phase, and the value maps target phases to the action that reaches them.
var validTransitions = map[domain.Phase]map[domain.Phase]Action{
	domain.PhaseStrategy: {domain.PhaseResearch: ActionAdvance},
	domain.PhaseResearch: {domain.PhaseVerify: ActionAdvance},
	domain.PhaseVerify: {
		domain.PhaseSmeGate:   ActionAdvance,
		domain.PhaseImplement: ActionSkip,
		domain.PhaseVerify:    ActionLoopBack, // re-verify after a verification pause
	},
	domain.PhaseSmeGate: {
		domain.PhaseImplement: ActionAdvance,
		domain.PhaseVerify:    ActionLoopBack,
	},
	domain.PhaseImplement: {domain.PhaseDocument: ActionAdvance},
}

// IsValidTransition checks if a phase transition is legal.
func IsValidTransition(from, to domain.Phase) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// ResolveNext determines the target phase for action taken at current.
func ResolveNext(current domain.Phase, action Action) (domain.Phase, error) {
	for to, a := range validTransitions[current] {
		if a == action {
			return to, nil
		}
	}
	return "", domain.ErrInvalidTransition.Withf("%s not allowed from phase %s", action, current)
}

// transition moves p from its current phase to to, validating the edge.
// A skipped SmeGate is recorded in metadata and counted as completed.
func transition(p *domain.HandoffPacket, to domain.Phase) error {
	from := p.Phase.Current
	if !IsValidTransition(from, to) {
		return domain.ErrInvalidTransition.Withf("illegal transition %s -> %s", from, to)
	}
	if validTransitions[from][to] == ActionSkip {
		for i := from.Index() + 1; i < to.Index(); i++ {
			if skipped := domain.PhaseOrder[i]; !slices.Contains(p.Metadata.SkippedPhases, skipped) {
				p.Metadata.SkippedPhases = append(p.Metadata.SkippedPhases, skipped)
			}
		}
	}
	p.EnterPhase(to)
	return nil
}
