package config

import (
	"fmt"
	"math"
	"regexp"
)

// Issue is one structural problem found in a configuration document.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a configuration document.
// Warnings never affect Valid.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors"`
	Warnings []string `json:"warnings"`
}

// SMEKeys are the SME sub-config names accepted under sme_agents.
var SMEKeys = []string{"security", "compliance", "code_quality", "performance"}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// validator accumulates issues while walking a document.
type validator struct {
	errors   []Issue
	warnings []string
}

func (v *validator) fail(path, format string, args ...any) {
	v.errors = append(v.errors, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks doc against the workflow configuration schema. It never
// mutates or coerces doc.
func Validate(doc map[string]any) ValidationResult {
	v := &validator{}

	if doc == nil {
		v.fail("", "document must be an object")
		return v.result()
	}

	if raw, ok := doc["version"]; !ok {
		v.fail("version", "is required")
	} else if s, ok := raw.(string); !ok {
		v.fail("version", "must be a string, got %s", typeName(raw))
	} else if !versionPattern.MatchString(s) {
		v.fail("version", "must match MAJOR.MINOR.PATCH, got %q", s)
	}

	v.smeAgents(doc)
	v.safetyHooks(doc)
	v.logging(doc)
	v.workflow(doc)

	return v.result()
}

func (v *validator) result() ValidationResult {
	r := ValidationResult{
		Valid:    len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
	}
	if r.Errors == nil {
		r.Errors = []Issue{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return r
}

func (v *validator) smeAgents(doc map[string]any) {
	raw, ok := doc["sme_agents"]
	if !ok {
		v.fail("sme_agents", "is required")
		return
	}
	sme, ok := raw.(map[string]any)
	if !ok {
		v.fail("sme_agents", "must be an object, got %s", typeName(raw))
		return
	}

	enabled, enabledOK := v.requireBool(sme, "sme_agents", "enabled")

	anyEnabled := false
	for _, key := range SMEKeys {
		path := "sme_agents." + key
		raw, ok := sme[key]
		if !ok {
			continue
		}
		sub, ok := raw.(map[string]any)
		if !ok {
			v.fail(path, "must be an object, got %s", typeName(raw))
			continue
		}
		on, ok := v.requireBool(sub, path, "enabled")
		if ok && on {
			anyEnabled = true
		}
		if key == "code_quality" {
			v.optionalPositiveInt(sub, path, "max_files")
			v.optionalPositiveInt(sub, path, "max_lines")
		}
		v.optionalStringList(sub, path, "keywords")
	}

	if enabledOK && enabled && !anyEnabled {
		v.warnings = append(v.warnings, "sme_agents.enabled is true but no individual SME is enabled")
	}
}

func (v *validator) safetyHooks(doc map[string]any) {
	raw, ok := doc["safety_hooks"]
	if !ok {
		return
	}
	hooks, ok := raw.(map[string]any)
	if !ok {
		v.fail("safety_hooks", "must be an object, got %s", typeName(raw))
		return
	}
	v.optionalBool(hooks, "safety_hooks", "enabled")
	v.optionalBool(hooks, "safety_hooks", "block_on_critical")
	v.optionalStringList(hooks, "safety_hooks", "protected_paths")
}

func (v *validator) logging(doc map[string]any) {
	raw, ok := doc["logging"]
	if !ok {
		return
	}
	lg, ok := raw.(map[string]any)
	if !ok {
		v.fail("logging", "must be an object, got %s", typeName(raw))
		return
	}
	enabled, _ := v.optionalBool(lg, "logging", "enabled")
	dir, hasDir := v.optionalString(lg, "logging", "log_directory")
	if lvl, ok := v.optionalString(lg, "logging", "level"); ok {
		switch lvl {
		case "debug", "info", "warn", "error":
		default:
			v.fail("logging.level", "must be one of debug, info, warn, error, got %q", lvl)
		}
	}
	if enabled && (!hasDir || dir == "") {
		v.warnings = append(v.warnings, "logging.enabled is true but logging.log_directory is not set; will use default")
	}
}

func (v *validator) workflow(doc map[string]any) {
	raw, ok := doc["workflow"]
	if !ok {
		return
	}
	wf, ok := raw.(map[string]any)
	if !ok {
		v.fail("workflow", "must be an object, got %s", typeName(raw))
		return
	}
	v.optionalNonNegativeInt(wf, "workflow", "max_loop_backs")
	v.optionalNonNegativeInt(wf, "workflow", "model_retries")
	v.optionalPositiveInt(wf, "workflow", "sme_timeout_seconds")
	v.optionalBool(wf, "workflow", "auto_approve")
}

func (v *validator) requireBool(m map[string]any, parent, key string) (bool, bool) {
	path := parent + "." + key
	raw, ok := m[key]
	if !ok {
		v.fail(path, "is required")
		return false, false
	}
	b, ok := raw.(bool)
	if !ok {
		v.fail(path, "must be a boolean, got %s", typeName(raw))
		return false, false
	}
	return b, true
}

func (v *validator) optionalBool(m map[string]any, parent, key string) (bool, bool) {
	raw, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := raw.(bool)
	if !ok {
		v.fail(parent+"."+key, "must be a boolean, got %s", typeName(raw))
		return false, false
	}
	return b, true
}

func (v *validator) optionalString(m map[string]any, parent, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(parent+"."+key, "must be a string, got %s", typeName(raw))
		return "", false
	}
	return s, true
}

func (v *validator) optionalStringList(m map[string]any, parent, key string) {
	raw, ok := m[key]
	if !ok {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		v.fail(parent+"."+key, "must be a list of strings, got %s", typeName(raw))
		return
	}
	for i, item := range list {
		if _, ok := item.(string); !ok {
			v.fail(fmt.Sprintf("%s.%s[%d]", parent, key, i), "must be a string, got %s", typeName(item))
		}
	}
}

func (v *validator) optionalPositiveInt(m map[string]any, parent, key string) {
	if n, ok := v.optionalInt(m, parent, key); ok && n <= 0 {
		v.fail(parent+"."+key, "must be positive, got %d", n)
	}
}

func (v *validator) optionalNonNegativeInt(m map[string]any, parent, key string) {
	if n, ok := v.optionalInt(m, parent, key); ok && n < 0 {
		v.fail(parent+"."+key, "must not be negative, got %d", n)
	}
}

func (v *validator) optionalInt(m map[string]any, parent, key string) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	n, ok := asInt(raw)
	if !ok {
		v.fail(parent+"."+key, "must be an integer, got %s", typeName(raw))
		return 0, false
	}
	return n, true
}

// asInt accepts Go integers and integral float64 values, which is what JSON
// decoding produces. Non-integral numbers are rejected, not truncated.
func asInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func typeName(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int64, uint64, float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", raw)
}

