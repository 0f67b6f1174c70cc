package review

import (
	"fmt"
	"strings"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// SchemaValidator validates SME responses against the review schema.
type SchemaValidator struct{}

// Validate checks every field of resp and returns an error listing all
// violations if any are found.
func (v *SchemaValidator) Validate(kind domain.SMEKind, resp capability.SMEResponse) error {
	var violations []string

	if !kind.Valid() {
		violations = append(violations, fmt.Sprintf("SME %q is not a known reviewer", kind))
	}
	if !resp.OverallRisk.Valid() {
		violations = append(violations, fmt.Sprintf("overallRisk %q is not valid; must be low, medium, high, or critical", resp.OverallRisk))
	}
	switch resp.Recommendation {
	case domain.RecommendProceed, domain.RecommendBlock:
	default:
		violations = append(violations, fmt.Sprintf("recommendation %q is not valid; must be proceed or block", resp.Recommendation))
	}

	for i, f := range resp.Findings {
		if !f.Severity.Valid() {
			violations = append(violations, fmt.Sprintf("findings[%d] severity %q is not valid; must be critical, high, medium, low, or info", i, f.Severity))
		}
		if strings.TrimSpace(f.Description) == "" {
			violations = append(violations, fmt.Sprintf("findings[%d] description must be non-empty", i))
		}
	}

	if len(violations) > 0 {
		return domain.ErrFindingInvalid.Withf("%s: %s", kind, strings.Join(violations, "; "))
	}
	return nil
}
