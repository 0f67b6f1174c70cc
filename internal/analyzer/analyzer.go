// Package analyzer classifies task text with a fixed rule table.
// Analyze is pure: the same text always yields the same Analysis.
package analyzer

import (
	"math"
	"regexp"
	"strings"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// MinTaskLength is the shortest task text Analyze accepts, after trimming.
const MinTaskLength = 10

// Complexity is the coarse size estimate of a task.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Model tiers recommended for the next phase.
const (
	ModelOpus   = "opus"
	ModelSonnet = "sonnet"
	ModelHaiku  = "haiku"
)

// DomainGeneral is reported when no domain rule matches.
const DomainGeneral = "General"

// Analysis is the result of classifying one task.
type Analysis struct {
	Complexity       Complexity        `json:"complexity"`
	Domain           string            `json:"domain"`
	ClarityScore     float64           `json:"clarityScore"`
	RiskFlags        []domain.RiskFlag `json:"riskFlags"`
	RecommendedModel string            `json:"recommendedModel"`
	EstimatedMinutes int               `json:"estimatedMinutes"`
}

// words builds a case-insensitive whole-word matcher over the given word
// forms. Every form is listed explicitly so that "auth" never matches
// "author" and "spec" never matches "special".
func words(list ...string) *regexp.Regexp {
	parts := make([]string, len(list))
	for i, w := range list {
		parts[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}

var (
	highComplexity = words(
		"refactor", "refactors", "refactored", "refactoring",
		"architecture", "architectural", "rearchitect",
		"migrate", "migrates", "migrating", "migration", "migrations",
		"redesign", "redesigns", "redesigning",
		"entire", "multiple",
		"overhaul", "overhauls", "overhauling",
		"rewrite", "rewrites", "rewriting")
	lowComplexity = words("fix", "fixes", "fixing", "small", "simple", "modify", "tweak", "tweaks", "typo", "typos", "rename", "renames", "renaming")

	actionVerbs = words(
		"add", "adds", "adding",
		"create", "creates", "creating",
		"implement", "implements", "implementing",
		"fix", "fixes", "fixing",
		"remove", "removes", "removing",
		"update", "updates", "updating")
	vagueTerms = words("improve", "improves", "improving", "enhance", "enhances", "enhancing", "optimize", "optimise", "optimizing", "optimization", "better")
	qualifiers = words("using", "with")

	// A capitalized identifier made of two or more words, e.g. UserService
	// or "Express API". Case-sensitive on purpose.
	identifier = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]*)+\b|\b[A-Z][a-zA-Z0-9]+\s+[A-Z][a-zA-Z0-9]+\b`)
)

// authWords are the authentication and authorization forms shared by the
// domain and risk rules.
var authWords = []string{
	"auth", "authn", "authz", "authenticate", "authenticated", "authenticating", "authentication",
	"authorize", "authorized", "authorizing", "authorization",
}

// domainRule maps a domain name to its keyword matcher.
type domainRule struct {
	name    string
	pattern *regexp.Regexp
}

// domainRules is checked top to bottom; the first match wins.
var domainRules = []domainRule{
	{"Security/Auth", words(append([]string{
		"login", "logout", "password", "passwords", "jwt", "oauth", "oauth2", "token", "tokens",
		"permission", "permissions", "rbac", "encrypt", "encrypted", "encryption", "bcrypt",
		"session", "sessions", "credential", "credentials"}, authWords...)...)},
	{"API/Backend", words("api", "apis", "endpoint", "endpoints", "rest", "graphql", "server", "servers", "backend",
		"express", "database", "sql", "route", "routes", "routing", "microservice", "microservices")},
	{"Frontend/UI", words("ui", "ux", "frontend", "component", "components", "react", "vue", "css",
		"button", "buttons", "page", "pages", "layout", "layouts", "style", "styles", "styling")},
	{"DevOps/Infrastructure", words("deploy", "deploys", "deployment", "deployments", "docker", "dockerfile",
		"kubernetes", "k8s", "ci", "cd", "pipeline", "pipelines", "terraform", "infra", "infrastructure", "helm")},
	{"Data/Analytics", words("data", "analytics", "etl", "report", "reports", "reporting",
		"dashboard", "dashboards", "metric", "metrics", "warehouse")},
	{"Testing", words("test", "tests", "testing", "spec", "specs", "coverage", "e2e", "unit", "mock", "mocks", "mocking")},
}

// riskRule maps a risk flag to its keyword matcher. Emission follows this order.
type riskRule struct {
	flag    domain.RiskFlag
	pattern *regexp.Regexp
}

var riskRules = []riskRule{
	{domain.RiskSecurity, words(append([]string{
		"jwt", "oauth", "oauth2", "password", "passwords", "bcrypt", "encrypt", "encrypted", "encryption",
		"token", "tokens", "credential", "credentials", "secret", "secrets",
		"vulnerability", "vulnerabilities", "vulnerable", "xss", "csrf", "injection", "security"}, authWords...)...)},
	{domain.RiskPrivacy, words("privacy", "pii", "personal", "gdpr", "ccpa", "consent", "anonymize", "anonymise", "anonymization", "user data")},
	{domain.RiskCompliance, words("compliance", "compliant", "gdpr", "hipaa", "sox", "pci", "audit", "audits", "auditing",
		"regulation", "regulations", "regulatory", "soc2")},
	{domain.RiskPolicy, words("policy", "policies", "terms of service", "license", "licenses", "licensing", "governance")},
}

var baseMinutes = map[Complexity]int{
	ComplexityLow:    3,
	ComplexityMedium: 5,
	ComplexityHigh:   8,
}

// Analyze classifies task text. It fails with InvalidInput when the trimmed
// text is shorter than MinTaskLength.
func Analyze(task string) (Analysis, error) {
	text := strings.TrimSpace(task)
	if len([]rune(text)) < MinTaskLength {
		return Analysis{}, domain.ErrInvalidInput.Withf("task text must be at least %d characters", MinTaskLength)
	}

	a := Analysis{
		Complexity:   complexity(text),
		Domain:       classifyDomain(text),
		ClarityScore: clarity(text),
		RiskFlags:    RiskFlags(text),
	}

	switch {
	case a.Complexity == ComplexityHigh || len(a.RiskFlags) > 0:
		a.RecommendedModel = ModelOpus
	case a.Complexity == ComplexityMedium:
		a.RecommendedModel = ModelSonnet
	default:
		a.RecommendedModel = ModelHaiku
	}

	a.EstimatedMinutes = baseMinutes[a.Complexity]
	if len(a.RiskFlags) > 0 {
		a.EstimatedMinutes += 2
	}
	return a, nil
}

func complexity(text string) Complexity {
	if highComplexity.MatchString(text) {
		return ComplexityHigh
	}
	if lowComplexity.MatchString(text) {
		return ComplexityLow
	}
	return ComplexityMedium
}

func classifyDomain(text string) string {
	for _, r := range domainRules {
		if r.pattern.MatchString(text) {
			return r.name
		}
	}
	return DomainGeneral
}

func clarity(text string) float64 {
	score := 0.5
	if actionVerbs.MatchString(text) {
		score += 0.2
	}
	if identifier.MatchString(text) {
		score += 0.1
	}
	if vagueTerms.MatchString(text) {
		score -= 0.1
	}
	if qualifiers.MatchString(text) {
		score += 0.1
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

// RiskFlags returns the risk flags matched by text in fixed emission order.
// It never returns nil.
func RiskFlags(text string) []domain.RiskFlag {
	flags := []domain.RiskFlag{}
	for _, r := range riskRules {
		if r.pattern.MatchString(text) {
			flags = append(flags, r.flag)
		}
	}
	return flags
}

// ContainsAny reports whether text contains any of the given keywords as whole
// words, case-insensitively. Used by SME trigger rules.
func ContainsAny(text string, keywords ...string) bool {
	if len(keywords) == 0 {
		return false
	}
	return words(keywords...).MatchString(text)
}
