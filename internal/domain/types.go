// Package domain defines the core types for the handoff workflow engine.
package domain

import (
	"encoding/json"
	"strings"
)

// Phase identifies one stage of the fixed workflow sequence.
type Phase string

const (
	PhaseStrategy  Phase = "strategy"
	PhaseResearch  Phase = "research"
	PhaseVerify    Phase = "verify"
	PhaseSmeGate   Phase = "sme_gate"
	PhaseImplement Phase = "implement"
	PhaseDocument  Phase = "document"
)

// PhaseOrder is the fixed phase sequence. SmeGate is conditional but always
// occupies its slot; a skipped gate is recorded as completed.
var PhaseOrder = []Phase{
	PhaseStrategy,
	PhaseResearch,
	PhaseVerify,
	PhaseSmeGate,
	PhaseImplement,
	PhaseDocument,
}

var phaseNumbers = map[Phase]string{
	PhaseStrategy:  "0",
	PhaseResearch:  "1",
	PhaseVerify:    "2",
	PhaseSmeGate:   "2.5",
	PhaseImplement: "3",
	PhaseDocument:  "4",
}

// Index returns the position of p in PhaseOrder, or -1.
func (p Phase) Index() int {
	for i, q := range PhaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Number is the display number of the phase ("0" .. "4", "2.5" for the gate).
func (p Phase) Number() string {
	return phaseNumbers[p]
}

// ParsePhase converts a string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", ErrInvalidPhase.Withf("unknown phase %q", s)
	}
	return p, nil
}

// Severity is the classification of a Finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities: Critical=4 down to Info=0. Unknown severities rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Finding is one issue reported by an SME reviewer.
type Finding struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Description    string   `json:"description"`
	Location       string   `json:"location"`
	Recommendation string   `json:"recommendation"`
}

// SMEKind names a subject-matter-expert reviewer.
type SMEKind string

const (
	SMESecurity    SMEKind = "security"
	SMECompliance  SMEKind = "compliance"
	SMECodeQuality SMEKind = "code_quality"
	SMEPerformance SMEKind = "performance"
)

// SMEOrder is the fixed aggregation order of SME reviews.
var SMEOrder = []SMEKind{SMESecurity, SMECompliance, SMECodeQuality, SMEPerformance}

// Valid reports whether k is a known SME.
func (k SMEKind) Valid() bool {
	for _, s := range SMEOrder {
		if s == k {
			return true
		}
	}
	return false
}

// RiskFlag marks a sensitive area detected in the task text.
type RiskFlag string

const (
	RiskSecurity    RiskFlag = "security"
	RiskPrivacy     RiskFlag = "privacy"
	RiskCompliance  RiskFlag = "compliance"
	RiskPolicy      RiskFlag = "policy"
	RiskPerformance RiskFlag = "performance"
)

// RiskLevel is an SME's overall risk assessment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Recommendation is an SME's verdict.
type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendBlock   Recommendation = "block"
)

// Confidence is the Research phase's confidence in its findings.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// VerifyDecision is the outcome of the Verify decision matrix.
type VerifyDecision string

const (
	VerifyAutoProceed        VerifyDecision = "auto_proceed"
	VerifySingleConfirmation VerifyDecision = "single_confirmation"
	VerifyFullReview         VerifyDecision = "full_review"
)

// SMEReview is one SME's aggregated result.
type SMEReview struct {
	Executed       bool           `json:"executed"`
	OverallRisk    RiskLevel      `json:"overallRisk,omitempty"`
	Findings       []Finding      `json:"findings"`
	Recommendation Recommendation `json:"recommendation,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// SMEReviews maps SME kinds to their reviews. It marshals in SMEOrder so the
// wire form does not depend on completion order.
type SMEReviews map[SMEKind]SMEReview

// MarshalJSON writes reviews in the fixed SME order.
func (r SMEReviews) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, k := range SMEOrder {
		rev, ok := r[k]
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(string(k))
		val, err := json.Marshal(rev)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Findings returns each executed SME's findings keyed by kind.
func (r SMEReviews) Findings() map[SMEKind][]Finding {
	out := make(map[SMEKind][]Finding, len(r))
	for k, rev := range r {
		if rev.Executed {
			out[k] = rev.Findings
		}
	}
	return out
}

// WorkflowStatus is the persisted lifecycle status of a workflow.
type WorkflowStatus string

const (
	StatusRunning   WorkflowStatus = "running"
	StatusPaused    WorkflowStatus = "paused"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
	StatusAborted   WorkflowStatus = "aborted"
)

// Terminal reports whether no further progress is possible.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// PauseReason explains why a workflow is waiting for a decision.
type PauseReason string

const (
	PauseQualityGate  PauseReason = "quality_gate"
	PauseVerification PauseReason = "verification"
)

// Choice is an external decision supplied to a paused workflow.
type Choice string

const (
	ChoiceFix     Choice = "fix"
	ChoiceProceed Choice = "proceed"
	ChoiceAbort   Choice = "abort"
)

// ParseChoice validates a resume choice.
func ParseChoice(s string) (Choice, error) {
	c := Choice(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChoiceFix, ChoiceProceed, ChoiceAbort:
		return c, nil
	}
	return "", ErrInvalidChoice.Withf("choice must be fix, proceed or abort, got %q", s)
}

// WorkflowRecord is the persisted state of one workflow run.
type WorkflowRecord struct {
	TraceID       string
	Status        WorkflowStatus
	CurrentPhase  Phase
	PauseReason   PauseReason
	LoopBacks     int
	StateVersion  int64
	LastError     string
	ConfigJSON    string
	CreatedAtUnix int64
	UpdatedAtUnix int64
}

// LogEntry is one row in the append-only phase log.
type LogEntry struct {
	TraceID   string
	Phase     Phase
	SeqNo     int64
	Payload   json.RawMessage
	CreatedAt int64
}

// PacketSnapshot captures the packet at a phase boundary.
type PacketSnapshot struct {
	ID         int64
	TraceID    string
	Phase      Phase
	PacketJSON string
	Checksum   string
	CreatedAt  int64
}

// AuditRecord logs gate decisions, user choices and rollback intents.
type AuditRecord struct {
	ID           string
	TraceID      string
	Category     string
	Actor        string
	Action       string
	RequestJSON  string
	DecisionJSON string
	Severity     string
	CreatedAt    int64
}

// SMEReviewRecord is the persisted form of one SME review.
type SMEReviewRecord struct {
	ID             int64
	TraceID        string
	SME            SMEKind
	Round          int
	Executed       bool
	OverallRisk    RiskLevel
	Recommendation Recommendation
	FindingsJSON   string
	CreatedAt      int64
}
