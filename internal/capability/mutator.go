package capability

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// backup is the content of a file before the first mutation in a session.
type backup struct {
	existed bool
	content []byte
}

// DirMutator applies file operations inside a root directory. It keeps no
// rollback state itself; Session hands out a mutator that does.
type DirMutator struct {
	fs afero.Fs
}

// NewDirMutator returns a mutator confined to root on the OS filesystem.
func NewDirMutator(root string) *DirMutator {
	return NewFsMutator(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// NewFsMutator wraps an arbitrary afero filesystem, e.g. afero.NewMemMapFs in tests.
func NewFsMutator(fsys afero.Fs) *DirMutator {
	return &DirMutator{fs: fsys}
}

// Apply performs op. Create fails if the file exists, edit fails if it does not.
func (m *DirMutator) Apply(ctx context.Context, op FileOperation) error {
	name, err := checkOp(ctx, op)
	if err != nil {
		return err
	}
	return apply(m.fs, name, op)
}

// Session returns a mutator over the same filesystem with its own backup
// set. Rollback on it only restores what it applied.
func (m *DirMutator) Session() FileMutator {
	return &MutationSession{fs: m.fs, backups: make(map[string]backup)}
}

// MutationSession applies file operations and remembers the state of each
// path before its first mutation in the session.
type MutationSession struct {
	fs afero.Fs

	mu      sync.Mutex
	backups map[string]backup
}

// Apply records the prior state of op.Path and performs op.
func (s *MutationSession) Apply(ctx context.Context, op FileOperation) error {
	name, err := checkOp(ctx, op)
	if err != nil {
		return err
	}
	if err := s.remember(name); err != nil {
		return err
	}
	return apply(s.fs, name, op)
}

// remember stores the pre-mutation state of name the first time it is touched.
func (s *MutationSession) remember(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[name]; ok {
		return nil
	}
	data, err := afero.ReadFile(s.fs, name)
	switch {
	case err == nil:
		s.backups[name] = backup{existed: true, content: data}
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist):
		s.backups[name] = backup{}
	default:
		return domain.ErrFileOp.Wrap(err, "read "+name)
	}
	return nil
}

// Rollback restores every path in applied to its state before the first
// mutation in this session, in reverse order. All restore failures are
// reported together.
func (s *MutationSession) Rollback(ctx context.Context, traceID string, applied []FileOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	seen := make(map[string]bool, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		name, err := cleanRelative(applied[i].Path)
		if err != nil || seen[name] {
			continue
		}
		seen[name] = true
		b, ok := s.backups[name]
		if !ok {
			continue
		}
		if b.existed {
			errs = multierr.Append(errs, afero.WriteFile(s.fs, name, b.content, 0o644))
		} else if err := s.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
		delete(s.backups, name)
	}
	if errs != nil {
		return domain.ErrFileOp.Wrap(errs, "rollback "+traceID)
	}
	return nil
}

func checkOp(ctx context.Context, op FileOperation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.ErrFileOp.Wrap(err, "apply "+op.Path)
	}
	return cleanRelative(op.Path)
}

func apply(fsys afero.Fs, name string, op FileOperation) error {
	switch op.Kind {
	case FileCreate:
		if _, err := fsys.Stat(name); err == nil {
			return domain.ErrFileOp.Withf("create %s: file already exists", name)
		}
		if dir := filepath.Dir(name); dir != "." {
			if err := fsys.MkdirAll(dir, 0o755); err != nil {
				return domain.ErrFileOp.Wrap(err, "create "+name)
			}
		}
		if err := afero.WriteFile(fsys, name, []byte(op.Content), 0o644); err != nil {
			return domain.ErrFileOp.Wrap(err, "create "+name)
		}
	case FileEdit:
		if _, err := fsys.Stat(name); err != nil {
			return domain.ErrFileOp.Wrap(err, "edit "+name)
		}
		if err := afero.WriteFile(fsys, name, []byte(op.Content), 0o644); err != nil {
			return domain.ErrFileOp.Wrap(err, "edit "+name)
		}
	case FileDelete:
		if err := fsys.Remove(name); err != nil {
			return domain.ErrFileOp.Wrap(err, "delete "+name)
		}
	default:
		return domain.ErrFileOp.Withf("unknown operation kind %q for %s", op.Kind, name)
	}
	return nil
}

// cleanRelative rejects absolute paths and paths that climb out of the root.
func cleanRelative(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", domain.ErrFileOp.Withf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", domain.ErrPathEscapesRoot.Withf("absolute path %s", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.ErrPathEscapesRoot.Withf("path %s escapes root", p)
	}
	return clean, nil
}
