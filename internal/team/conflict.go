package team

import (
	"path/filepath"

	"github.com/Rogers-F/handoff-engine/internal/capability"
)

// ConflictType classifies the kind of clash between two file operations.
type ConflictType string

const (
	ConflictDelete ConflictType = "delete"
	ConflictCreate ConflictType = "create"
)

// FileConflict describes two operations in one batch that cannot both apply.
type FileConflict struct {
	File string
	OpA  capability.FileOperation
	OpB  capability.FileOperation
	Type ConflictType
}

// ConflictDetector finds clashing operations in an Implement batch before
// anything is written.
type ConflictDetector struct{}

// Detect returns every conflicting pair in ops, ordered by the first
// operation's position. Sequential edits of one file are not a conflict.
func (d *ConflictDetector) Detect(ops []capability.FileOperation) []FileConflict {
	byFile := make(map[string][]capability.FileOperation)
	var order []string
	for _, op := range ops {
		key := filepath.Clean(op.Path)
		if _, seen := byFile[key]; !seen {
			order = append(order, key)
		}
		byFile[key] = append(byFile[key], op)
	}

	var conflicts []FileConflict
	for _, file := range order {
		group := byFile[file]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if c := d.DetectBetween(group[i], group[j]); c != nil {
					conflicts = append(conflicts, *c)
				}
			}
		}
	}
	return conflicts
}

// DetectBetween checks two operations for a conflict.
// Returns nil if they target different files or can be applied in sequence.
func (d *ConflictDetector) DetectBetween(a, b capability.FileOperation) *FileConflict {
	if filepath.Clean(a.Path) != filepath.Clean(b.Path) {
		return nil
	}

	var ctype ConflictType
	switch {
	case a.Kind == capability.FileDelete || b.Kind == capability.FileDelete:
		ctype = ConflictDelete
	case a.Kind == capability.FileCreate && b.Kind == capability.FileCreate:
		ctype = ConflictCreate
	default:
		return nil
	}

	return &FileConflict{
		File: filepath.Clean(a.Path),
		OpA:  a,
		OpB:  b,
		Type: ctype,
	}
}
