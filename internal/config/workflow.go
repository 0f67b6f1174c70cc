package config

import (
	"time"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// Defaults applied by FromDocument when a field is absent.
const (
	DefaultMaxLoopBacks    = 3
	DefaultCodeQualityFile = 5
	DefaultCodeQualityLine = 300
	DefaultSMETimeout      = 60 * time.Second
)

// SMEConfig is the typed view of one sme_agents.<kind> section.
type SMEConfig struct {
	Enabled  bool
	Keywords []string
	MaxFiles int
	MaxLines int
}

// WorkflowConfig is the typed view of a validated configuration document.
type WorkflowConfig struct {
	Version         string
	SMEEnabled      bool
	SMEs            map[domain.SMEKind]SMEConfig
	SafetyHooks     bool
	BlockOnCritical bool
	ProtectedPaths  []string
	LoggingEnabled  bool
	LogDirectory    string
	LogLevel        string
	MaxLoopBacks    int
	ModelRetries    int
	AutoApprove     bool
	SMETimeout      time.Duration
}

// SMEEnabledFor reports whether the gate is on and kind is individually enabled.
func (c WorkflowConfig) SMEEnabledFor(kind domain.SMEKind) bool {
	return c.SMEEnabled && c.SMEs[kind].Enabled
}

// DefaultWorkflowConfig returns the configuration used when the caller
// supplies no document.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Version: "1.0.0",
		SMEs: map[domain.SMEKind]SMEConfig{
			domain.SMECodeQuality: {MaxFiles: DefaultCodeQualityFile, MaxLines: DefaultCodeQualityLine},
		},
		MaxLoopBacks: DefaultMaxLoopBacks,
		SMETimeout:   DefaultSMETimeout,
	}
}

// DefaultDocument is the smallest valid configuration document. It yields
// DefaultWorkflowConfig and is the base that overrides merge into when no
// document is configured.
func DefaultDocument() map[string]any {
	return map[string]any{
		"version":    "1.0.0",
		"sme_agents": map[string]any{"enabled": false},
	}
}

// FromDocument validates doc and converts it to a WorkflowConfig. Validation
// warnings are returned alongside the config.
func FromDocument(doc map[string]any) (WorkflowConfig, []string, error) {
	res := Validate(doc)
	if !res.Valid {
		return WorkflowConfig{}, res.Warnings, domain.ErrConfigInvalid.Withf("invalid configuration: %s", joinIssues(res.Errors))
	}

	cfg := DefaultWorkflowConfig()
	cfg.Version, _ = doc["version"].(string)

	sme, _ := doc["sme_agents"].(map[string]any)
	cfg.SMEEnabled, _ = sme["enabled"].(bool)
	for _, key := range SMEKeys {
		sub, ok := sme[key].(map[string]any)
		if !ok {
			continue
		}
		kind := domain.SMEKind(key)
		sc := cfg.SMEs[kind]
		sc.Enabled, _ = sub["enabled"].(bool)
		sc.Keywords = stringList(sub["keywords"])
		if n, ok := asInt(sub["max_files"]); ok {
			sc.MaxFiles = n
		}
		if n, ok := asInt(sub["max_lines"]); ok {
			sc.MaxLines = n
		}
		cfg.SMEs[kind] = sc
	}

	if hooks, ok := doc["safety_hooks"].(map[string]any); ok {
		cfg.SafetyHooks, _ = hooks["enabled"].(bool)
		cfg.BlockOnCritical, _ = hooks["block_on_critical"].(bool)
		cfg.ProtectedPaths = stringList(hooks["protected_paths"])
	}

	if lg, ok := doc["logging"].(map[string]any); ok {
		cfg.LoggingEnabled, _ = lg["enabled"].(bool)
		cfg.LogDirectory, _ = lg["log_directory"].(string)
		cfg.LogLevel, _ = lg["level"].(string)
	}

	if wf, ok := doc["workflow"].(map[string]any); ok {
		if n, ok := asInt(wf["max_loop_backs"]); ok {
			cfg.MaxLoopBacks = n
		}
		if n, ok := asInt(wf["model_retries"]); ok {
			cfg.ModelRetries = n
		}
		if n, ok := asInt(wf["sme_timeout_seconds"]); ok {
			cfg.SMETimeout = time.Duration(n) * time.Second
		}
		cfg.AutoApprove, _ = wf["auto_approve"].(bool)
	}

	return cfg, res.Warnings, nil
}

// Merge returns base with overrides applied recursively. Nested objects are
// merged key by key; any other value in overrides replaces the base value.
// Neither input is modified.
func Merge(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = deepCopy(v)
	}
	for k, ov := range overrides {
		om, oIsMap := ov.(map[string]any)
		bm, bIsMap := out[k].(map[string]any)
		if oIsMap && bIsMap {
			out[k] = Merge(bm, om)
			continue
		}
		out[k] = deepCopy(ov)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = deepCopy(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = deepCopy(vv)
		}
		return s
	}
	return v
}

func stringList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func joinIssues(issues []Issue) string {
	s := ""
	for i, is := range issues {
		if i > 0 {
			s += "; "
		}
		s += is.Path + " " + is.Message
	}
	return s
}
