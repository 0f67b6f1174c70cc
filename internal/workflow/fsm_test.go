package workflow

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to domain.Phase
		want     bool
	}{
		{domain.PhaseStrategy, domain.PhaseResearch, true},
		{domain.PhaseResearch, domain.PhaseVerify, true},
		{domain.PhaseVerify, domain.PhaseSmeGate, true},
		{domain.PhaseVerify, domain.PhaseImplement, true},
		{domain.PhaseVerify, domain.PhaseVerify, true},
		{domain.PhaseSmeGate, domain.PhaseImplement, true},
		{domain.PhaseSmeGate, domain.PhaseVerify, true},
		{domain.PhaseImplement, domain.PhaseDocument, true},

		{domain.PhaseStrategy, domain.PhaseVerify, false},
		{domain.PhaseResearch, domain.PhaseStrategy, false},
		{domain.PhaseImplement, domain.PhaseVerify, false},
		{domain.PhaseDocument, domain.PhaseStrategy, false},
		{domain.PhaseSmeGate, domain.PhaseDocument, false},
	}
	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResolveNext(t *testing.T) {
	tests := []struct {
		current domain.Phase
		action  Action
		want    domain.Phase
	}{
		{domain.PhaseStrategy, ActionAdvance, domain.PhaseResearch},
		{domain.PhaseVerify, ActionAdvance, domain.PhaseSmeGate},
		{domain.PhaseVerify, ActionSkip, domain.PhaseImplement},
		{domain.PhaseVerify, ActionLoopBack, domain.PhaseVerify},
		{domain.PhaseSmeGate, ActionLoopBack, domain.PhaseVerify},
		{domain.PhaseImplement, ActionAdvance, domain.PhaseDocument},
	}
	for _, tt := range tests {
		got, err := ResolveNext(tt.current, tt.action)
		if err != nil {
			t.Fatalf("ResolveNext(%s, %s): %v", tt.current, tt.action, err)
		}
		if got != tt.want {
			t.Errorf("ResolveNext(%s, %s) = %s, want %s", tt.current, tt.action, got, tt.want)
		}
	}
}

func TestResolveNext_Invalid(t *testing.T) {
	cases := []struct {
		current domain.Phase
		action  Action
	}{
		{domain.PhaseStrategy, ActionSkip},
		{domain.PhaseImplement, ActionLoopBack},
		{domain.PhaseDocument, ActionAdvance},
	}
	for _, c := range cases {
		_, err := ResolveNext(c.current, c.action)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("ResolveNext(%s, %s) error = %v, want ErrInvalidTransition", c.current, c.action, err)
		}
	}
}

func TestTransition_SkipRecordsSmeGate(t *testing.T) {
	p := domain.NewPacket("trace-1", "add a settings page", time.Now())
	p.EnterPhase(domain.PhaseVerify)

	if err := transition(p, domain.PhaseImplement); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if p.Phase.Current != domain.PhaseImplement {
		t.Errorf("Current = %s, want implement", p.Phase.Current)
	}
	wantCompleted := []domain.Phase{domain.PhaseStrategy, domain.PhaseResearch, domain.PhaseVerify, domain.PhaseSmeGate}
	if !slices.Equal(p.Phase.Completed, wantCompleted) {
		t.Errorf("Completed = %v, want %v", p.Phase.Completed, wantCompleted)
	}
	if !slices.Equal(p.Metadata.SkippedPhases, []domain.Phase{domain.PhaseSmeGate}) {
		t.Errorf("SkippedPhases = %v, want [sme_gate]", p.Metadata.SkippedPhases)
	}
	if err := p.CheckPhaseInvariant(); err != nil {
		t.Errorf("CheckPhaseInvariant: %v", err)
	}
}

func TestTransition_SkipRecordedOnce(t *testing.T) {
	p := domain.NewPacket("trace-1", "add a settings page", time.Now())
	p.EnterPhase(domain.PhaseVerify)
	p.Metadata.SkippedPhases = []domain.Phase{domain.PhaseSmeGate}

	if err := transition(p, domain.PhaseImplement); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(p.Metadata.SkippedPhases) != 1 {
		t.Errorf("SkippedPhases = %v, want a single entry", p.Metadata.SkippedPhases)
	}
}

func TestTransition_LoopBackToVerify(t *testing.T) {
	p := domain.NewPacket("trace-1", "add a settings page", time.Now())
	p.EnterPhase(domain.PhaseSmeGate)

	if err := transition(p, domain.PhaseVerify); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if p.Phase.Next != domain.PhaseSmeGate {
		t.Errorf("Next = %s, want sme_gate", p.Phase.Next)
	}
	if len(p.Metadata.SkippedPhases) != 0 {
		t.Errorf("SkippedPhases = %v, want none", p.Metadata.SkippedPhases)
	}
}

func TestTransition_Illegal(t *testing.T) {
	p := domain.NewPacket("trace-1", "add a settings page", time.Now())

	err := transition(p, domain.PhaseImplement)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("transition error = %v, want ErrInvalidTransition", err)
	}
	if p.Phase.Current != domain.PhaseStrategy {
		t.Errorf("Current = %s, want strategy after refused transition", p.Phase.Current)
	}
}
