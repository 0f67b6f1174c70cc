// Package workflow drives a handoff packet through the phase sequence:
// transition table, entry gates, phase executors and the orchestrator.
package workflow

import (
	"context"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/review"
)

// EntryDecision says whether a phase runs or is skipped.
type EntryDecision struct {
	Enter   bool
	Reasons []string
}

// Gate evaluates whether a workflow enters a phase.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, cfg config.WorkflowConfig, p *domain.HandoffPacket) (EntryDecision, error)
}

// DefaultGate always enters the phase.
type DefaultGate struct{}

// Name returns the gate name.
func (g *DefaultGate) Name() string {
	return "default"
}

// Evaluate always allows entry.
func (g *DefaultGate) Evaluate(ctx context.Context, cfg config.WorkflowConfig, p *domain.HandoffPacket) (EntryDecision, error) {
	return EntryDecision{Enter: true}, nil
}

// SMETriggerGate enters the SmeGate only when the panel is enabled and at
// least one enabled SME's trigger matches.
type SMETriggerGate struct{}

// Name returns the gate name.
func (g *SMETriggerGate) Name() string {
	return "sme_trigger"
}

// Evaluate applies the SME trigger table.
func (g *SMETriggerGate) Evaluate(ctx context.Context, cfg config.WorkflowConfig, p *domain.HandoffPacket) (EntryDecision, error) {
	if !cfg.SMEEnabled {
		return EntryDecision{Reasons: []string{"sme_agents.enabled is false"}}, nil
	}
	kinds := review.SelectSMEs(cfg, p)
	if len(kinds) == 0 {
		return EntryDecision{Reasons: []string{"no SME trigger matched"}}, nil
	}
	d := EntryDecision{Enter: true}
	for _, k := range kinds {
		d.Reasons = append(d.Reasons, fmt.Sprintf("%s triggered", k))
	}
	return d, nil
}

// PhaseGateRegistry maps each phase to its entry gate.
type PhaseGateRegistry struct {
	gates map[domain.Phase]Gate
}

// NewPhaseGateRegistry creates a registry with the default gate for every
// phase and the trigger gate for SmeGate.
func NewPhaseGateRegistry() *PhaseGateRegistry {
	defaultGate := &DefaultGate{}
	gates := make(map[domain.Phase]Gate, len(domain.PhaseOrder))
	for _, p := range domain.PhaseOrder {
		gates[p] = defaultGate
	}
	gates[domain.PhaseSmeGate] = &SMETriggerGate{}
	return &PhaseGateRegistry{gates: gates}
}

// Register sets a custom gate for a phase.
func (r *PhaseGateRegistry) Register(phase domain.Phase, gate Gate) {
	r.gates[phase] = gate
}

// Get returns the gate for a phase, or an error if none is registered.
func (r *PhaseGateRegistry) Get(phase domain.Phase) (Gate, error) {
	g, ok := r.gates[phase]
	if !ok {
		return nil, domain.ErrGateNotRegistered.Withf("no gate registered for phase %s", phase)
	}
	return g, nil
}
