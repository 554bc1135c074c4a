package host

import (
	"fmt"

	"agenthost/internal/domain"
)

// Requestor is the authorization context of a creation request: either the
// platform itself or an agent of some role that is being constructed.
type Requestor struct {
	role   domain.Role
	parent domain.AgentID
	depth  int
}

// Platform is the context the host uses for seed populations. The platform
// may create any registered role.
func Platform() Requestor { return Requestor{} }

// AsRole is the context of an agent of the given role asking for a new agent.
func AsRole(role domain.Role) Requestor { return Requestor{role: role} }

// IsPlatform reports whether the request comes from the host itself.
func (r Requestor) IsPlatform() bool { return r.role == "" }

// Role returns the requesting role, if any.
func (r Requestor) Role() (domain.Role, bool) { return r.role, r.role != "" }

// Parent is the identity of the agent whose construction issued the request.
func (r Requestor) Parent() domain.AgentID { return r.parent }

func (r Requestor) String() string {
	if r.IsPlatform() {
		return "platform"
	}
	return string(r.role)
}

// Policy decides whether a requestor may obtain an instance of target.
// Implementations must be pure.
type Policy interface {
	MayInstantiate(req Requestor, target domain.Role) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(req Requestor, target domain.Role) bool

func (f PolicyFunc) MayInstantiate(req Requestor, target domain.Role) bool { return f(req, target) }

// allowList is the default policy: the platform may always create the role,
// agents only when their role is listed.
type allowList map[domain.Role]bool

func (a allowList) MayInstantiate(req Requestor, _ domain.Role) bool {
	if req.IsPlatform() {
		return true
	}
	return a[req.role]
}

// DefaultPolicy permits platform-initiated creation and creation by agents of
// the explicitly listed roles. Every other role is denied.
func DefaultPolicy(allowed ...domain.Role) Policy {
	a := make(allowList, len(allowed))
	for _, r := range allowed {
		a[r] = true
	}
	return a
}

// PlatformOnly forbids agent-initiated creation of the role outright.
func PlatformOnly() Policy { return DefaultPolicy() }

// Effect is a state change an extension may propose during an interaction.
// Spending its own energy is always permitted and has no Effect value.
type Effect string

const (
	EffectDrain   Effect = "drain"
	EffectRestore Effect = "restore"
	EffectInfect  Effect = "infect"
	EffectKill    Effect = "kill"
)

var knownEffects = map[Effect]bool{
	EffectDrain:   true,
	EffectRestore: true,
	EffectInfect:  true,
	EffectKill:    true,
}

// ParseEffect validates an effect name from configuration.
func ParseEffect(name string) (Effect, error) {
	e := Effect(name)
	if !knownEffects[e] {
		return "", fmt.Errorf("%w: unknown effect %q", domain.ErrInvalidInput, name)
	}
	return e, nil
}

// EffectSet is the set of effects granted to a role.
type EffectSet map[Effect]bool

// NewEffectSet builds a set from the given effects.
func NewEffectSet(effects ...Effect) EffectSet {
	s := make(EffectSet, len(effects))
	for _, e := range effects {
		s[e] = true
	}
	return s
}

// Has reports whether e is granted. A nil set grants nothing.
func (s EffectSet) Has(e Effect) bool { return s[e] }

// ValidateGrants checks that every effect declared by the manifest is allowed
// and none are denied.
func ValidateGrants(manifest RoleManifest, allowed, denied []string) error {
	denySet := make(map[string]bool, len(denied))
	for _, d := range denied {
		denySet[d] = true
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowSet[a] = true
	}

	for _, eff := range manifest.Effects {
		if denySet[eff] {
			return fmt.Errorf("%w: role %q requests denied effect %q",
				domain.ErrPermissionDenied, manifest.Name, eff)
		}
		// If an allow list is provided, only allow listed effects.
		if len(allowSet) > 0 && !allowSet[eff] {
			return fmt.Errorf("%w: role %q requests unlisted effect %q",
				domain.ErrPermissionDenied, manifest.Name, eff)
		}
	}
	return nil
}
