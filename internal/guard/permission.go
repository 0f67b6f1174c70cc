package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// DefaultProtectedPatterns are file patterns that are always denied.
var DefaultProtectedPatterns = []string{".env", "*.key", ".git/*"}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, rec domain.AuditRecord) error
}

// PathGuard is a FileMutator that refuses operations on protected paths and
// audits each refusal.
type PathGuard struct {
	Next     capability.FileMutator
	Patterns []string
	Auditor  Auditor
	TraceID  string
}

// NewPathGuard wraps next, denying the default patterns plus extra.
func NewPathGuard(next capability.FileMutator, auditor Auditor, traceID string, extra ...string) *PathGuard {
	patterns := append([]string{}, DefaultProtectedPatterns...)
	patterns = append(patterns, extra...)
	return &PathGuard{Next: next, Patterns: patterns, Auditor: auditor, TraceID: traceID}
}

// Apply forwards op unless its path matches a protected pattern.
func (g *PathGuard) Apply(ctx context.Context, op capability.FileOperation) error {
	for _, pattern := range g.Patterns {
		matched, err := matchPattern(pattern, op.Path)
		if err != nil {
			return domain.ErrPermissionDenied.Wrap(err, fmt.Sprintf("match protected pattern %q", pattern))
		}
		if matched {
			g.auditDenial(ctx, op, "denied by pattern: "+pattern)
			return domain.ErrPermissionDenied.Withf("%s %s is protected by pattern %q", op.Kind, op.Path, pattern)
		}
	}
	return g.Next.Apply(ctx, op)
}

// Rollback delegates to the wrapped mutator when it supports rollback.
func (g *PathGuard) Rollback(ctx context.Context, traceID string, applied []capability.FileOperation) error {
	if rb, ok := g.Next.(capability.Rollbacker); ok {
		return rb.Rollback(ctx, traceID, applied)
	}
	return nil
}

func (g *PathGuard) auditDenial(ctx context.Context, op capability.FileOperation, reason string) {
	if g.Auditor == nil {
		return
	}
	req, _ := json.Marshal(map[string]string{"path": op.Path, "kind": string(op.Kind)})
	dec, _ := json.Marshal(map[string]string{"reason": reason})
	_ = g.Auditor.Record(ctx, domain.AuditRecord{
		ID:           uuid.NewString(),
		TraceID:      g.TraceID,
		Category:     "permission",
		Actor:        "system",
		Action:       "permission_denied",
		RequestJSON:  string(req),
		DecisionJSON: string(dec),
		Severity:     "warning",
		CreatedAt:    time.Now().Unix(),
	})
}

// matchPattern checks if a path matches a protected pattern.
// Supports exact match (e.g., ".env"), glob match via filepath.Match, and prefix match for directory patterns.
func matchPattern(pattern, path string) (bool, error) {
	path = filepath.ToSlash(filepath.Clean(path))

	if path == pattern {
		return true, nil
	}

	base := filepath.Base(path)
	if base == pattern {
		return true, nil
	}

	if dir, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == dir || strings.HasPrefix(path, dir+"/") {
			return true, nil
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false, err
	}
	if matched {
		return true, nil
	}

	return filepath.Match(pattern, base)
}
