package review

import "github.com/Rogers-F/handoff-engine/internal/domain"

// Summary aggregates the SME panel's reviews.
type Summary struct {
	OverallRisk    domain.RiskLevel        `json:"overallRisk"`
	Executed       []domain.SMEKind        `json:"executed"`
	Failed         []domain.SMEKind        `json:"failed"`
	BlockedBy      []domain.SMEKind        `json:"blockedBy"`
	SeverityCounts map[domain.Severity]int `json:"severityCounts"`
}

var riskRank = map[domain.RiskLevel]int{
	domain.RiskLow:      1,
	domain.RiskMedium:   2,
	domain.RiskHigh:     3,
	domain.RiskCritical: 4,
}

// ConsensusEngine folds individual SME reviews into a single Summary.
type ConsensusEngine struct{}

// Summarize takes the highest overall risk among executed reviews and counts
// findings by severity. Failed reviews are listed but do not raise the risk.
func (e *ConsensusEngine) Summarize(reviews domain.SMEReviews) Summary {
	s := Summary{
		OverallRisk:    domain.RiskLow,
		Executed:       []domain.SMEKind{},
		Failed:         []domain.SMEKind{},
		BlockedBy:      []domain.SMEKind{},
		SeverityCounts: map[domain.Severity]int{},
	}
	for _, kind := range domain.SMEOrder {
		rev, ok := reviews[kind]
		if !ok {
			continue
		}
		if !rev.Executed {
			s.Failed = append(s.Failed, kind)
			continue
		}
		s.Executed = append(s.Executed, kind)
		if riskRank[rev.OverallRisk] > riskRank[s.OverallRisk] {
			s.OverallRisk = rev.OverallRisk
		}
		if rev.Recommendation == domain.RecommendBlock {
			s.BlockedBy = append(s.BlockedBy, kind)
		}
		for _, f := range rev.Findings {
			s.SeverityCounts[f.Severity]++
		}
	}
	return s
}
