// Package config loads engine settings and validates workflow configuration documents.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// EnvPrefix is the prefix of environment variables that override settings.
const EnvPrefix = "HANDOFF_"

// StoreSettings configures the sqlite store.
type StoreSettings struct {
	Path string `koanf:"path"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	ListenAddr string `koanf:"listen_addr"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SMESettings configures the SME panel.
type SMESettings struct {
	Timeout time.Duration `koanf:"timeout"`
}

// WorkflowSettings holds orchestrator policy knobs.
type WorkflowSettings struct {
	ConfigPath   string `koanf:"config_path"`
	MaxLoopBacks int    `koanf:"max_loop_backs"`
	ModelRetries int    `koanf:"model_retries"`
	AutoApprove  bool   `koanf:"auto_approve"`
}

// ProviderSettings defines how to launch the external model command.
// Roles overrides the command for individual phases, keyed by phase id.
type ProviderSettings struct {
	Command       string                          `koanf:"command"`
	Args          []string                        `koanf:"args"`
	Model         string                          `koanf:"model"`
	Timeout       time.Duration                   `koanf:"timeout"`
	RatePerSecond float64                         `koanf:"rate_per_second"`
	Burst         int                             `koanf:"burst"`
	Roles         map[string]ProviderRoleSettings `koanf:"roles"`
}

// ProviderRoleSettings is the command used for one phase role.
type ProviderRoleSettings struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Model   string   `koanf:"model"`
}

// FileSettings configures the Implement phase's file mutator.
type FileSettings struct {
	Root string `koanf:"root"`
}

// Settings holds the engine's runtime configuration.
type Settings struct {
	Store    StoreSettings    `koanf:"store"`
	Server   ServerSettings   `koanf:"server"`
	Log      LogSettings      `koanf:"log"`
	SME      SMESettings      `koanf:"sme"`
	Workflow WorkflowSettings `koanf:"workflow"`
	Provider ProviderSettings `koanf:"provider"`
	Files    FileSettings     `koanf:"files"`
}

// LoadSettings reads an optional YAML settings file, overlays HANDOFF_*
// environment variables, applies defaults and validates. An empty path skips
// the file.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	HANDOFF_SME_TIMEOUT        -> sme.timeout
//	HANDOFF_SERVER_LISTEN_ADDR -> server.listen_addr
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ErrConfigNotFound.Wrap(err, "read settings file "+path)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, domain.ErrConfigParse.Wrap(err, "parse settings file "+path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, domain.ErrConfigParse.Wrap(err, "load environment")
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, domain.ErrConfigParse.Wrap(err, "unmarshal settings")
	}

	s.applyDefaults(k)

	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// applyDefaults fills unset keys. Numeric keys are checked with k.Exists so
// an explicit zero survives: max_loop_backs 0 forbids loop-backs and
// rate_per_second 0 disables rate limiting.
func (s *Settings) applyDefaults(k *koanf.Koanf) {
	if s.Store.Path == "" {
		s.Store.Path = "handoff.db"
	}
	if s.Server.ListenAddr == "" {
		s.Server.ListenAddr = ":9800"
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "json"
	}
	if !k.Exists("sme.timeout") {
		s.SME.Timeout = DefaultSMETimeout
	}
	if !k.Exists("workflow.max_loop_backs") {
		s.Workflow.MaxLoopBacks = DefaultMaxLoopBacks
	}
	if !k.Exists("provider.timeout") {
		s.Provider.Timeout = 2 * time.Minute
	}
	if !k.Exists("provider.rate_per_second") {
		s.Provider.RatePerSecond = 2
	}
	if !k.Exists("provider.burst") {
		s.Provider.Burst = 4
	}
	if s.Files.Root == "" {
		s.Files.Root = "."
	}
}

func (s *Settings) validate() error {
	var problems []string

	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", s.Log.Level))
	}
	switch s.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of json, console", s.Log.Format))
	}
	if s.SME.Timeout < 0 {
		problems = append(problems, "sme.timeout must not be negative")
	}
	if s.Workflow.MaxLoopBacks < 0 {
		problems = append(problems, "workflow.max_loop_backs must not be negative")
	}
	if s.Workflow.ModelRetries < 0 {
		problems = append(problems, "workflow.model_retries must not be negative")
	}
	if s.Provider.RatePerSecond < 0 {
		problems = append(problems, "provider.rate_per_second must not be negative")
	}

	if len(problems) > 0 {
		return domain.ErrConfigInvalid.Withf("%s: %v", domain.ErrConfigInvalid.Message, problems)
	}
	return nil
}

// ApplyTo overlays settings-level workflow policy on cfg. Document values win
// when the document set them explicitly; settings fill the defaults.
func (s *Settings) ApplyTo(cfg WorkflowConfig, doc map[string]any) WorkflowConfig {
	wf, _ := doc["workflow"].(map[string]any)
	if _, ok := wf["max_loop_backs"]; !ok {
		cfg.MaxLoopBacks = s.Workflow.MaxLoopBacks
	}
	if _, ok := wf["model_retries"]; !ok {
		cfg.ModelRetries = s.Workflow.ModelRetries
	}
	if _, ok := wf["sme_timeout_seconds"]; !ok {
		cfg.SMETimeout = s.SME.Timeout
	}
	if _, ok := wf["auto_approve"]; !ok {
		cfg.AutoApprove = s.Workflow.AutoApprove
	}
	return cfg
}
