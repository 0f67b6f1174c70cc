package capability

import "github.com/Rogers-F/handoff-engine/internal/domain"

// StrategyRequest asks the backend to plan research for a task.
type StrategyRequest struct {
	Task        string            `json:"task"`
	Domain      string            `json:"domain"`
	Complexity  string            `json:"complexity"`
	RiskFlags   []domain.RiskFlag `json:"riskFlags"`
	Constraints []string          `json:"constraints"`
}

// StrategyResponse is the research plan.
type StrategyResponse struct {
	ParsedIntent       string   `json:"parsedIntent"`
	PrimaryQuestions   []string `json:"primaryQuestions"`
	Sources            []string `json:"sources"`
	SearchQueries      []string `json:"searchQueries"`
	ValidationCriteria []string `json:"validationCriteria"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	SafetyInvariants   []string `json:"safetyInvariants"`
	Constraints        []string `json:"constraints"`
}

// ResearchRequest carries the strategy to the research step.
type ResearchRequest struct {
	Task     string                 `json:"task"`
	Strategy *domain.StrategyOutput `json:"strategy"`
}

// ResearchResponse holds research results.
type ResearchResponse struct {
	Findings       []string          `json:"findings"`
	Sources        []string          `json:"sources"`
	Confidence     domain.Confidence `json:"confidence"`
	RiskLevel      domain.RiskLevel  `json:"riskLevel"`
	Risks          []string          `json:"risks"`
	AffectedFiles  []string          `json:"affectedFiles"`
	EstimatedLines int               `json:"estimatedLines"`
}

// VerifyRequest asks the backend to cross-check research.
type VerifyRequest struct {
	Task               string                 `json:"task"`
	Research           *domain.ResearchOutput `json:"research"`
	AcceptanceCriteria []string               `json:"acceptanceCriteria"`
	LoopBack           int                    `json:"loopBack"`
}

// VerifyResponse is the cross-check verdict. Confidence and RiskLevel, when
// set, replace the research values in the decision matrix.
type VerifyResponse struct {
	Confidence domain.Confidence `json:"confidence"`
	RiskLevel  domain.RiskLevel  `json:"riskLevel"`
	Issues     []string          `json:"issues"`
}

// SMERequest asks one SME to review the planned change.
type SMERequest struct {
	Kind             domain.SMEKind             `json:"kind"`
	Task             string                     `json:"task"`
	RiskFlags        []domain.RiskFlag          `json:"riskFlags"`
	Research         *domain.ResearchOutput     `json:"research"`
	Verification     *domain.VerificationOutput `json:"verification"`
	SafetyInvariants []string                   `json:"safetyInvariants"`
}

// SMEResponse is one SME's review.
type SMEResponse struct {
	OverallRisk    domain.RiskLevel      `json:"overallRisk"`
	Findings       []domain.Finding      `json:"findings"`
	Recommendation domain.Recommendation `json:"recommendation"`
}

// ImplementRequest asks the backend for the file operations to apply.
type ImplementRequest struct {
	Task        string                              `json:"task"`
	Research    *domain.ResearchOutput              `json:"research"`
	Constraints []string                            `json:"constraints"`
	SMEFindings map[domain.SMEKind][]domain.Finding `json:"smeFindings,omitempty"`
}

// ImplementResponse lists the operations to apply.
type ImplementResponse struct {
	Summary    string          `json:"summary"`
	Operations []FileOperation `json:"operations"`
}

// DocumentRequest asks the backend to update documentation.
type DocumentRequest struct {
	Task           string                       `json:"task"`
	Implementation *domain.ImplementationOutput `json:"implementation"`
}

// DocumentResponse lists documentation changes.
type DocumentResponse struct {
	Summary    string          `json:"summary"`
	Operations []FileOperation `json:"operations"`
}
