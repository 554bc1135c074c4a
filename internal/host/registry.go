package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"agenthost/internal/domain"
)

// Extension is the per-instance behavior a role's factory builds. The host
// only ever reaches it through a Handle.
type Extension interface {
	// Interact runs the initiator's side of an interaction. It reads both
	// parties through ic and proposes effects; the engine applies them.
	Interact(ic *Interaction) error
	// Move returns the agent's next position.
	Move(self domain.AgentView) domain.Position
}

// Factory builds the extension for a newly allocated agent. Factories may
// request further agents through c.Spawn; those requests are authorized
// against the new agent's role, never the platform's.
type Factory func(ctx context.Context, c *Construction) (Extension, error)

// RoleOption customizes a role registration.
type RoleOption func(*roleEntry)

// WithEffects grants the role the listed interaction effects.
func WithEffects(effects ...Effect) RoleOption {
	return func(e *roleEntry) {
		for _, eff := range effects {
			e.effects[eff] = true
		}
	}
}

type roleEntry struct {
	factory Factory
	policy  Policy
	effects EffectSet
}

// Registry is the single source of truth mapping each role to its factory,
// its instantiation policy and its effect grants.
type Registry struct {
	mu     sync.RWMutex
	roles  map[domain.Role]roleEntry
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		roles:  make(map[domain.Role]roleEntry),
		logger: logger,
	}
}

// Register binds role to factory and policy. A nil policy is DefaultPolicy().
func (r *Registry) Register(role domain.Role, factory Factory, policy Policy, opts ...RoleOption) error {
	if !role.IsValid() {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidInput, "empty role")
	}
	if factory == nil {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidInput, fmt.Sprintf("role %q has no factory", role))
	}
	if policy == nil {
		policy = DefaultPolicy()
	}

	entry := roleEntry{factory: factory, policy: policy, effects: EffectSet{}}
	for _, opt := range opts {
		opt(&entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.roles[role]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateRole, string(role))
	}
	r.roles[role] = entry

	r.logger.Info("role registered", "role", string(role), "effects", len(entry.effects))
	return nil
}

// Resolve returns the factory registered for role.
func (r *Registry) Resolve(role domain.Role) (Factory, error) {
	r.mu.RLock()
	entry, ok := r.roles[role]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrUnknownRole, string(role))
	}
	return entry.factory, nil
}

// Authorize reports whether req may obtain an instance of target. Unknown
// targets are never authorized. Authorize has no side effects.
func (r *Registry) Authorize(req Requestor, target domain.Role) bool {
	r.mu.RLock()
	entry, ok := r.roles[target]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return entry.policy.MayInstantiate(req, target)
}

// Effects returns a copy of the effects granted to role.
func (r *Registry) Effects(role domain.Role) EffectSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.roles[role]
	if !ok {
		return EffectSet{}
	}
	out := make(EffectSet, len(entry.effects))
	for e := range entry.effects {
		out[e] = true
	}
	return out
}

// Has reports whether role is registered.
func (r *Registry) Has(role domain.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[role]
	return ok
}

// Roles returns the registered roles in sorted order.
func (r *Registry) Roles() []domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Role, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
