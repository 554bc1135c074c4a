package host

import (
	"sort"

	"agenthost/internal/domain"
)

// CompatibilityTable lists which roles may initiate on which. It is data, so
// the same rules hold whichever extension is bound to a role.
type CompatibilityTable struct {
	allowed map[domain.Role]map[domain.Role]bool
}

// NewCompatibilityTable builds a table from initiator -> targets pairs.
func NewCompatibilityTable(pairs map[domain.Role][]domain.Role) CompatibilityTable {
	t := CompatibilityTable{allowed: make(map[domain.Role]map[domain.Role]bool, len(pairs))}
	for from, targets := range pairs {
		for _, to := range targets {
			t.Allow(from, to)
		}
	}
	return t
}

// DefaultCompatibility: defenders interact with defenders, aggressors target
// defenders of either kind.
func DefaultCompatibility() CompatibilityTable {
	return NewCompatibilityTable(map[domain.Role][]domain.Role{
		domain.RoleDefender:          {domain.RoleDefender, domain.RoleDisguisedDefender},
		domain.RoleDisguisedDefender: {domain.RoleDefender, domain.RoleDisguisedDefender},
		domain.RoleAggressor:         {domain.RoleDefender, domain.RoleDisguisedDefender},
	})
}

// Allow adds the pair initiator -> target.
func (t *CompatibilityTable) Allow(initiator, target domain.Role) {
	if t.allowed == nil {
		t.allowed = make(map[domain.Role]map[domain.Role]bool)
	}
	if t.allowed[initiator] == nil {
		t.allowed[initiator] = make(map[domain.Role]bool)
	}
	t.allowed[initiator][target] = true
}

// Allows reports whether initiator may target target.
func (t CompatibilityTable) Allows(initiator, target domain.Role) bool {
	return t.allowed[initiator][target]
}

// Targets returns the roles initiator may target, sorted.
func (t CompatibilityTable) Targets(initiator domain.Role) []domain.Role {
	out := make([]domain.Role, 0, len(t.allowed[initiator]))
	for r := range t.allowed[initiator] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
