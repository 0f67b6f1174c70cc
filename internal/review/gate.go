package review

import (
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// Verdict is the control decision of the quality gate.
type Verdict string

const (
	VerdictProceed Verdict = "proceed"
	VerdictPause   Verdict = "pause"
	// VerdictAbort is never produced by Decide. The orchestrator records it
	// when the caller answers a pause with abort.
	VerdictAbort Verdict = "abort"
)

// GateFinding is a blocking finding with the SME that reported it.
type GateFinding struct {
	SME     domain.SMEKind `json:"sme"`
	Finding domain.Finding `json:"finding"`
}

// Decision is the outcome of the quality gate.
type Decision struct {
	Verdict  Verdict       `json:"verdict"`
	Blocking []GateFinding `json:"blocking"`
}

// Critical returns the blocking findings of critical severity.
func (d Decision) Critical() []GateFinding { return d.filter(domain.SeverityCritical) }

// High returns the blocking findings of high severity.
func (d Decision) High() []GateFinding { return d.filter(domain.SeverityHigh) }

func (d Decision) filter(sev domain.Severity) []GateFinding {
	var out []GateFinding
	for _, f := range d.Blocking {
		if f.Finding.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// Reasons renders the blocking findings as human-readable lines.
func (d Decision) Reasons() []string {
	reasons := make([]string, 0, len(d.Blocking))
	for _, f := range d.Blocking {
		reasons = append(reasons, fmt.Sprintf("%s: %s finding at %s: %s",
			f.SME, f.Finding.Severity, f.Finding.Location, f.Finding.Description))
	}
	return reasons
}

// QualityGate decides whether SME findings block the workflow.
type QualityGate struct{}

// Decide pauses when any finding is critical or high. Blocking findings keep
// their SME association and are listed in SME order, then insertion order.
func (g *QualityGate) Decide(findings map[domain.SMEKind][]domain.Finding) Decision {
	d := Decision{Verdict: VerdictProceed, Blocking: []GateFinding{}}
	for _, kind := range domain.SMEOrder {
		for _, f := range findings[kind] {
			if f.Severity.Rank() >= domain.SeverityHigh.Rank() {
				d.Blocking = append(d.Blocking, GateFinding{SME: kind, Finding: f})
			}
		}
	}
	if len(d.Blocking) > 0 {
		d.Verdict = VerdictPause
	}
	return d
}
