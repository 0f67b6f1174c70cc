package review

import (
	"slices"
	"strings"

	"github.com/Rogers-F/handoff-engine/internal/analyzer"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// trigger decides whether one SME should review a packet. Rules are OR-combined:
// a matching risk flag, a keyword hit, or (for code quality) a size threshold.
type trigger struct {
	kind      domain.SMEKind
	riskFlags []domain.RiskFlag
	keywords  []string
	sized     bool
}

var triggers = []trigger{
	{
		kind:      domain.SMESecurity,
		riskFlags: []domain.RiskFlag{domain.RiskSecurity, domain.RiskPrivacy},
		keywords:  []string{"auth", "authn", "authz", "authentication", "authorization", "password", "passwords", "token", "tokens",
			"encrypt", "encryption", "secret", "secrets", "credential", "credentials", "injection", "xss", "csrf", "jwt", "oauth", "oauth2", "session", "sessions"},
	},
	{
		kind:      domain.SMECompliance,
		riskFlags: []domain.RiskFlag{domain.RiskCompliance, domain.RiskPrivacy, domain.RiskPolicy},
		keywords:  []string{"gdpr", "hipaa", "pci", "sox", "audit", "auditing", "retention", "consent", "license", "licensing"},
	},
	{
		kind:     domain.SMECodeQuality,
		keywords: []string{"refactor", "refactoring", "architecture", "migrate", "migration", "redesign"},
		sized:    true,
	},
	{
		kind:      domain.SMEPerformance,
		riskFlags: []domain.RiskFlag{domain.RiskPerformance},
		keywords:  []string{"performance", "latency", "throughput", "cache", "caching", "optimize", "optimization",
			"scale", "scaling", "scalability", "slow", "memory", "query", "queries"},
	},
}

// SelectSMEs returns the SMEs that should review p, in SME order. It returns
// nil when the gate is disabled or no enabled SME is triggered.
func SelectSMEs(cfg config.WorkflowConfig, p *domain.HandoffPacket) []domain.SMEKind {
	if !cfg.SMEEnabled {
		return nil
	}
	text := triggerText(p)

	var out []domain.SMEKind
	for _, t := range triggers {
		sc := cfg.SMEs[t.kind]
		if !sc.Enabled {
			continue
		}
		if t.matches(sc, p, text) {
			out = append(out, t.kind)
		}
	}
	return out
}

func (t trigger) matches(sc config.SMEConfig, p *domain.HandoffPacket, text string) bool {
	for _, f := range t.riskFlags {
		if p.UserRequest.HasRisk(f) {
			return true
		}
	}
	keywords := append(slices.Clone(t.keywords), sc.Keywords...)
	if analyzer.ContainsAny(text, keywords...) {
		return true
	}
	if t.sized && p.Context.Findings != nil {
		if sc.MaxFiles > 0 && len(p.Context.Findings.AffectedFiles) > sc.MaxFiles {
			return true
		}
		if sc.MaxLines > 0 && p.Context.Findings.EstimatedLines > sc.MaxLines {
			return true
		}
	}
	return false
}

// triggerText is the text keyword rules are matched against: the original
// request plus the risks Research reported.
func triggerText(p *domain.HandoffPacket) string {
	parts := []string{p.UserRequest.Original}
	if p.Context.Findings != nil {
		parts = append(parts, p.Context.Findings.Risks...)
	}
	return strings.Join(parts, "\n")
}
