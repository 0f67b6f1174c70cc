// Package provider runs model backends as external commands speaking a
// JSON-line protocol: one request on stdin, one response line on stdout.
package provider

import (
	"maps"
	"slices"
	"sync"

	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// DefaultRole is the registry key used when no spec matches a request's role.
const DefaultRole = "default"

// Spec describes the command that serves one role.
type Spec struct {
	Role    string
	Command string
	Args    []string
	Env     map[string]string
	// Model is reported when the command's reply names none.
	Model string
}

// Registry is a thread-safe set of provider specs keyed by role.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// FromSettings builds a registry from engine settings: the top-level command
// becomes the default role and each entry in Roles overrides one phase.
func FromSettings(s config.ProviderSettings) (*Registry, error) {
	r := NewRegistry()
	if s.Command != "" {
		if err := r.Register(Spec{Role: DefaultRole, Command: s.Command, Args: s.Args, Model: s.Model}); err != nil {
			return nil, err
		}
	}
	for _, role := range slices.Sorted(maps.Keys(s.Roles)) {
		rs := s.Roles[role]
		if role != DefaultRole {
			if _, err := domain.ParsePhase(role); err != nil {
				return nil, domain.ErrConfigInvalid.Withf("provider.roles.%s is not a phase", role)
			}
		}
		if rs.Command == "" {
			return nil, domain.ErrConfigInvalid.Withf("provider.roles.%s.command is required", role)
		}
		if err := r.Register(Spec{Role: role, Command: rs.Command, Args: rs.Args, Model: rs.Model}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds spec. A role can be registered once.
func (r *Registry) Register(spec Spec) error {
	if spec.Role == "" || spec.Command == "" {
		return domain.ErrConfigInvalid.Withf("provider spec needs a role and a command")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Role]; exists {
		return domain.ErrConfigInvalid.Withf("provider for role %q already registered", spec.Role)
	}
	r.specs[spec.Role] = spec
	return nil
}

// Get returns the spec registered for role.
func (r *Registry) Get(role string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[role]
	if !ok {
		return Spec{}, domain.ErrProviderNotFound.Withf("no provider registered for role %q", role)
	}
	return spec, nil
}

// Resolve returns the spec for role, falling back to DefaultRole.
func (r *Registry) Resolve(role string) (Spec, error) {
	if spec, err := r.Get(role); err == nil {
		return spec, nil
	}
	spec, err := r.Get(DefaultRole)
	if err != nil {
		return Spec{}, domain.ErrProviderNotFound.Withf("no provider registered for role %q and no default", role)
	}
	return spec, nil
}

// List returns all registered roles in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.specs))
}

// Len reports how many roles are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
