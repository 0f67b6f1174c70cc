package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func mustParse(t *testing.T, s string) map[string]any {
	t.Helper()
	doc, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestValidate_NoSMEEnabledWarns(t *testing.T) {
	doc := mustParse(t, `{"version":"1.2.0","sme_agents":{"enabled":true}}`)

	res := Validate(doc)
	if !res.Valid {
		t.Fatalf("Valid = false, errors = %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", res.Warnings)
	}
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"missing version", `{"sme_agents":{"enabled":false}}`, "version"},
		{"bad version", `{"version":"1.2","sme_agents":{"enabled":false}}`, "version"},
		{"numeric version", `{"version":1,"sme_agents":{"enabled":false}}`, "version"},
		{"missing sme_agents", `{"version":"1.0.0"}`, "sme_agents"},
		{"enabled not bool", `{"version":"1.0.0","sme_agents":{"enabled":"yes"}}`, "sme_agents.enabled"},
		{"sub missing enabled", `{"version":"1.0.0","sme_agents":{"enabled":true,"security":{}}}`, "sme_agents.security.enabled"},
		{"sub wrong type", `{"version":"1.0.0","sme_agents":{"enabled":true,"performance":true}}`, "sme_agents.performance"},
		{"logging wrong type", `{"version":"1.0.0","sme_agents":{"enabled":false},"logging":[]}`, "logging"},
		{"hooks enabled wrong type", `{"version":"1.0.0","sme_agents":{"enabled":false},"safety_hooks":{"enabled":1}}`, "safety_hooks.enabled"},
		{"fractional threshold", `{"version":"1.0.0","sme_agents":{"enabled":true,"code_quality":{"enabled":true,"max_files":2.5}}}`, "sme_agents.code_quality.max_files"},
		{"negative loop-backs", `{"version":"1.0.0","sme_agents":{"enabled":false},"workflow":{"max_loop_backs":-1}}`, "workflow.max_loop_backs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(mustParse(t, tt.doc))
			if res.Valid {
				t.Fatal("Valid = true, want false")
			}
			found := false
			for _, e := range res.Errors {
				if e.Path == tt.path {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %s", res.Errors, tt.path)
			}
		})
	}
}

func TestValidate_LoggingWithoutDirectoryWarns(t *testing.T) {
	doc := mustParse(t, `{"version":"1.0.0","sme_agents":{"enabled":false},"logging":{"enabled":true}}`)

	res := Validate(doc)
	if !res.Valid {
		t.Fatalf("Valid = false, errors = %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one", res.Warnings)
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	doc := map[string]any{
		"version":    "1.0.0",
		"sme_agents": map[string]any{"enabled": "true"},
	}
	Validate(doc)
	if doc["sme_agents"].(map[string]any)["enabled"] != "true" {
		t.Error("validator coerced input")
	}
}

func TestValidate_NilDocument(t *testing.T) {
	if res := Validate(nil); res.Valid {
		t.Error("nil document should be invalid")
	}
}

func TestFileSource_Load(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "workflow.yaml", `
version: "1.0.0"
sme_agents:
  enabled: true
  security:
    enabled: true
  code_quality:
    enabled: true
    max_files: 3
workflow:
  max_loop_backs: 2
  sme_timeout_seconds: 5
`)

	doc, err := FileSource{}.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, warnings, err := FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if !cfg.SMEEnabledFor(domain.SMESecurity) {
		t.Error("security SME should be enabled")
	}
	if cfg.SMEEnabledFor(domain.SMEPerformance) {
		t.Error("performance SME should be disabled")
	}
	if got := cfg.SMEs[domain.SMECodeQuality]; got.MaxFiles != 3 || got.MaxLines != DefaultCodeQualityLine {
		t.Errorf("code_quality thresholds = %+v", got)
	}
	if cfg.MaxLoopBacks != 2 {
		t.Errorf("MaxLoopBacks = %d, want 2", cfg.MaxLoopBacks)
	}
	if cfg.SMETimeout != 5*time.Second {
		t.Errorf("SMETimeout = %v, want 5s", cfg.SMETimeout)
	}
}

func TestFileSource_NotFound(t *testing.T) {
	_, err := FileSource{}.Load("/nonexistent/path/workflow.yaml")
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("KindOf = %q, want not_found (err %v)", domain.KindOf(err), err)
	}
}

func TestFileSource_ParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.json", `{"version": "1.0.0",`)

	_, err := FileSource{}.Load(path)
	if domain.KindOf(err) != domain.KindParseError {
		t.Fatalf("KindOf = %q, want parse_error (err %v)", domain.KindOf(err), err)
	}
}

func TestFromDocument_Invalid(t *testing.T) {
	_, _, err := FromDocument(map[string]any{"version": "x"})
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("error = %v, want ErrConfigInvalid", err)
	}
}

func TestMerge_DeepAndNonMutating(t *testing.T) {
	base := mustParse(t, `{"version":"1.0.0","sme_agents":{"enabled":false,"security":{"enabled":false}}}`)
	overrides := map[string]any{
		"sme_agents": map[string]any{"enabled": true, "security": map[string]any{"enabled": true}},
		"workflow":   map[string]any{"auto_approve": true},
	}

	merged := Merge(base, overrides)

	sme := merged["sme_agents"].(map[string]any)
	if sme["enabled"] != true {
		t.Error("override not applied")
	}
	if sme["security"].(map[string]any)["enabled"] != true {
		t.Error("nested override not applied")
	}
	if merged["version"] != "1.0.0" {
		t.Error("base key lost")
	}
	if base["sme_agents"].(map[string]any)["enabled"] != false {
		t.Error("base mutated")
	}

	sme["enabled"] = "changed"
	if overrides["sme_agents"].(map[string]any)["enabled"] != true {
		t.Error("overrides aliased into result")
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Server.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want :9800", s.Server.ListenAddr)
	}
	if s.Workflow.MaxLoopBacks != DefaultMaxLoopBacks {
		t.Errorf("MaxLoopBacks = %d, want %d", s.Workflow.MaxLoopBacks, DefaultMaxLoopBacks)
	}
	if s.SME.Timeout != DefaultSMETimeout {
		t.Errorf("SME.Timeout = %v, want %v", s.SME.Timeout, DefaultSMETimeout)
	}
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", `
store:
  path: /tmp/handoff-test.db
log:
  level: debug
sme:
  timeout: 10s
`)
	t.Setenv("HANDOFF_SME_TIMEOUT", "3s")
	t.Setenv("HANDOFF_SERVER_LISTEN_ADDR", "127.0.0.1:7000")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Store.Path != "/tmp/handoff-test.db" {
		t.Errorf("Store.Path = %q", s.Store.Path)
	}
	if s.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", s.Log.Level)
	}
	if s.SME.Timeout != 3*time.Second {
		t.Errorf("SME.Timeout = %v, want env override 3s", s.SME.Timeout)
	}
	if s.Server.ListenAddr != "127.0.0.1:7000" {
		t.Errorf("ListenAddr = %q", s.Server.ListenAddr)
	}
}

func TestLoadSettings_ExplicitZeroKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", `
provider:
  rate_per_second: 0
  timeout: 0s
`)
	t.Setenv("HANDOFF_WORKFLOW_MAX_LOOP_BACKS", "0")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Workflow.MaxLoopBacks != 0 {
		t.Errorf("MaxLoopBacks = %d, want explicit 0", s.Workflow.MaxLoopBacks)
	}
	if s.Provider.RatePerSecond != 0 {
		t.Errorf("RatePerSecond = %v, want explicit 0", s.Provider.RatePerSecond)
	}
	if s.Provider.Timeout != 0 {
		t.Errorf("Provider.Timeout = %v, want explicit 0", s.Provider.Timeout)
	}
	if s.Provider.Burst != 4 {
		t.Errorf("Burst = %d, want default 4", s.Provider.Burst)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", "log:\n  level: loud\n")

	_, err := LoadSettings(path)
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("error = %v, want ErrConfigInvalid", err)
	}
}

func TestSettings_ApplyTo(t *testing.T) {
	s := &Settings{}
	s.applyDefaults(koanf.New("."))
	s.Workflow.AutoApprove = true

	doc := mustParse(t, `{"version":"1.0.0","sme_agents":{"enabled":false},"workflow":{"max_loop_backs":1}}`)
	cfg, _, err := FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	cfg = s.ApplyTo(cfg, doc)
	if cfg.MaxLoopBacks != 1 {
		t.Errorf("MaxLoopBacks = %d, document value should win", cfg.MaxLoopBacks)
	}
	if !cfg.AutoApprove {
		t.Error("AutoApprove should come from settings")
	}
}
