package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// PhaseState tracks where a packet is in the phase sequence.
// Completed is always the exact prefix of PhaseOrder before Current and
// Remaining is the suffix after it.
type PhaseState struct {
	Current   Phase   `json:"current"`
	Next      Phase   `json:"next,omitempty"`
	Completed []Phase `json:"completed"`
	Remaining []Phase `json:"remaining"`
}

// UserRequest is the caller's task and the Strategy phase's reading of it.
type UserRequest struct {
	Original     string     `json:"original"`
	ParsedIntent string     `json:"parsedIntent,omitempty"`
	Domain       string     `json:"domain,omitempty"`
	ClarityScore float64    `json:"clarityScore"`
	RiskFlags    []RiskFlag `json:"riskFlags"`
}

// HasRisk reports whether flag was detected.
func (u UserRequest) HasRisk(flag RiskFlag) bool {
	return slices.Contains(u.RiskFlags, flag)
}

// StrategyOutput is written by the Strategy phase.
type StrategyOutput struct {
	Complexity         string   `json:"complexity"`
	PrimaryQuestions   []string `json:"primaryQuestions"`
	Sources            []string `json:"sources"`
	SearchQueries      []string `json:"searchQueries"`
	ValidationCriteria []string `json:"validationCriteria"`
	ResearchModel      string   `json:"researchModel"`
	EstimatedMinutes   int      `json:"estimatedMinutes"`
}

// ResearchOutput is written by the Research phase.
type ResearchOutput struct {
	Findings       []string   `json:"findings"`
	Sources        []string   `json:"sources"`
	Confidence     Confidence `json:"confidence"`
	RiskLevel      RiskLevel  `json:"riskLevel"`
	Risks          []string   `json:"risks"`
	AffectedFiles  []string   `json:"affectedFiles,omitempty"`
	EstimatedLines int        `json:"estimatedLines,omitempty"`
}

// VerificationOutput is written by the Verify phase.
type VerificationOutput struct {
	Decision   VerifyDecision `json:"decision"`
	Confidence Confidence     `json:"confidence"`
	RiskLevel  RiskLevel      `json:"riskLevel"`
	Issues     []string       `json:"issues"`
	Approved   bool           `json:"approved"`
}

// FileResult records the outcome of one file operation during Implement.
type FileResult struct {
	Path      string `json:"path"`
	Operation string `json:"operation"`
	OK        bool   `json:"ok"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// ImplementationOutput is written by the Implement phase.
type ImplementationOutput struct {
	Summary   string       `json:"summary"`
	Files     []FileResult `json:"files"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Rollback  bool         `json:"rollback"`
}

// DocumentationOutput is written by the Document phase.
type DocumentationOutput struct {
	Summary string   `json:"summary"`
	Updated []string `json:"updated"`
}

// PacketContext holds the per-phase outputs. Each field has exactly one owning phase.
type PacketContext struct {
	Strategy       *StrategyOutput       `json:"strategy,omitempty"`
	Findings       *ResearchOutput       `json:"findings,omitempty"`
	Verification   *VerificationOutput   `json:"verification,omitempty"`
	Implementation *ImplementationOutput `json:"implementation,omitempty"`
	Documentation  *DocumentationOutput  `json:"documentation,omitempty"`
}

// Metadata holds status-tracking fields maintained by the orchestrator.
type Metadata struct {
	StartedAt      time.Time        `json:"startedAt"`
	ModelsUsed     map[Phase]string `json:"modelsUsed"`
	PhaseDurations map[Phase]int64  `json:"phaseDurations"`
	LoopBacks      int              `json:"loopBacks"`
	SkippedPhases  []Phase          `json:"skippedPhases,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// HandoffPacket is the context record threaded through every phase.
type HandoffPacket struct {
	SchemaVersion      string        `json:"schemaVersion"`
	TraceID            string        `json:"traceId"`
	Phase              PhaseState    `json:"phase"`
	UserRequest        UserRequest   `json:"userRequest"`
	Constraints        []string      `json:"constraints"`
	AcceptanceCriteria []string      `json:"acceptanceCriteria"`
	SafetyInvariants   []string      `json:"safetyInvariants"`
	Context            PacketContext `json:"context"`
	SMEReviews         SMEReviews    `json:"smeReviews"`
	Metadata           Metadata      `json:"metadata"`
}

// NewPacket creates a packet positioned at the Strategy phase.
func NewPacket(traceID, task string, now time.Time) *HandoffPacket {
	p := &HandoffPacket{
		SchemaVersion:      SchemaVersion,
		TraceID:            traceID,
		UserRequest:        UserRequest{Original: task, RiskFlags: []RiskFlag{}},
		Constraints:        []string{},
		AcceptanceCriteria: []string{},
		SafetyInvariants:   []string{},
		SMEReviews:         SMEReviews{},
		Metadata: Metadata{
			StartedAt:      now.UTC(),
			ModelsUsed:     map[Phase]string{},
			PhaseDurations: map[Phase]int64{},
		},
	}
	p.EnterPhase(PhaseStrategy)
	return p
}

// Clone returns a deep copy of the packet.
func (p *HandoffPacket) Clone() (*HandoffPacket, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, ErrPacketMalformed.Wrap(err, "clone packet")
	}
	var c HandoffPacket
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, ErrPacketMalformed.Wrap(err, "clone packet")
	}
	if c.SMEReviews == nil {
		c.SMEReviews = SMEReviews{}
	}
	if c.Metadata.ModelsUsed == nil {
		c.Metadata.ModelsUsed = map[Phase]string{}
	}
	if c.Metadata.PhaseDurations == nil {
		c.Metadata.PhaseDurations = map[Phase]int64{}
	}
	return &c, nil
}

// EnterPhase moves the packet to phase, recomputing completed, remaining and next.
func (p *HandoffPacket) EnterPhase(phase Phase) {
	idx := phase.Index()
	p.Phase.Current = phase
	p.Phase.Completed = slices.Clone(PhaseOrder[:idx])
	p.Phase.Remaining = slices.Clone(PhaseOrder[idx+1:])
	p.Phase.Next = ""
	if len(p.Phase.Remaining) > 0 {
		p.Phase.Next = p.Phase.Remaining[0]
	}
}

// LastCompleted returns the last phase before Current, or "" at Strategy.
func (p *HandoffPacket) LastCompleted() Phase {
	if n := len(p.Phase.Completed); n > 0 {
		return p.Phase.Completed[n-1]
	}
	return ""
}

// AddWarning appends a non-fatal warning to metadata.
func (p *HandoffPacket) AddWarning(format string, args ...any) {
	p.Metadata.Warnings = append(p.Metadata.Warnings, fmt.Sprintf(format, args...))
}

// CheckPhaseInvariant verifies that completed, current and remaining partition
// the phase sequence in order.
func (p *HandoffPacket) CheckPhaseInvariant() error {
	idx := p.Phase.Current.Index()
	if idx < 0 {
		return ErrPacketInvariant.Withf("unknown current phase %q", p.Phase.Current)
	}
	if !slices.Equal(p.Phase.Completed, PhaseOrder[:idx]) {
		return ErrPacketInvariant.Withf("completed %v is not the prefix before %s", p.Phase.Completed, p.Phase.Current)
	}
	if !slices.Equal(p.Phase.Remaining, PhaseOrder[idx+1:]) {
		return ErrPacketInvariant.Withf("remaining %v is not the suffix after %s", p.Phase.Remaining, p.Phase.Current)
	}
	var next Phase
	if idx+1 < len(PhaseOrder) {
		next = PhaseOrder[idx+1]
	}
	if p.Phase.Next != next {
		return ErrPacketInvariant.Withf("next is %q, want %q", p.Phase.Next, next)
	}
	return nil
}

// CheckWrites verifies that running phase turned before into after without
// touching fields owned by other phases or shrinking append-only lists.
func CheckWrites(before, after *HandoffPacket, phase Phase) error {
	if after.SchemaVersion != before.SchemaVersion {
		return ErrFieldOverwrite.Withf("%s changed schemaVersion", phase)
	}
	if after.TraceID != before.TraceID {
		return ErrFieldOverwrite.Withf("%s changed traceId", phase)
	}
	if after.UserRequest.Original != before.UserRequest.Original {
		return ErrFieldOverwrite.Withf("%s changed userRequest.original", phase)
	}
	if phase != PhaseStrategy && !reflect.DeepEqual(after.UserRequest, before.UserRequest) {
		return ErrFieldOverwrite.Withf("%s changed userRequest", phase)
	}

	lists := []struct {
		name          string
		before, after []string
	}{
		{"constraints", before.Constraints, after.Constraints},
		{"acceptanceCriteria", before.AcceptanceCriteria, after.AcceptanceCriteria},
		{"safetyInvariants", before.SafetyInvariants, after.SafetyInvariants},
	}
	for _, l := range lists {
		if len(l.after) < len(l.before) || !slices.Equal(l.after[:len(l.before)], l.before) {
			return ErrFieldOverwrite.Withf("%s removed or reordered %s", phase, l.name)
		}
	}

	owned := []struct {
		name   string
		owner  Phase
		before any
		after  any
	}{
		{"context.strategy", PhaseStrategy, before.Context.Strategy, after.Context.Strategy},
		{"context.findings", PhaseResearch, before.Context.Findings, after.Context.Findings},
		{"context.verification", PhaseVerify, before.Context.Verification, after.Context.Verification},
		{"smeReviews", PhaseSmeGate, before.SMEReviews, after.SMEReviews},
		{"context.implementation", PhaseImplement, before.Context.Implementation, after.Context.Implementation},
		{"context.documentation", PhaseDocument, before.Context.Documentation, after.Context.Documentation},
	}
	for _, f := range owned {
		if f.owner == phase {
			continue
		}
		if !reflect.DeepEqual(f.before, f.after) {
			return ErrFieldOverwrite.Withf("%s wrote %s owned by %s", phase, f.name, f.owner)
		}
	}
	return nil
}
