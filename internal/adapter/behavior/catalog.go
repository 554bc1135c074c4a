// Package behavior provides the builtin role behaviors the host binds role
// manifests to.
package behavior

import (
	"agenthost/internal/domain"
	"agenthost/internal/host"
)

// Builtin behavior keys, as named by a manifest's behavior field.
const (
	Defender          = "defender"
	Aggressor         = "aggressor"
	DisguisedDefender = "disguised_defender"
)

// Catalog returns the builtin behaviors keyed by name.
func Catalog() map[string]host.Factory {
	return map[string]host.Factory{
		Defender:          newDefender,
		Aggressor:         newAggressor,
		DisguisedDefender: newDisguised,
	}
}

// DefaultManifests describes the three builtin roles: defenders heal each
// other, aggressors drain and infect defenders of either kind, and only the
// platform may create an aggressor.
func DefaultManifests() []host.RoleManifest {
	defenders := []string{string(domain.RoleDefender), string(domain.RoleDisguisedDefender)}
	return []host.RoleManifest{
		{
			Name:        string(domain.RoleDefender),
			Behavior:    Defender,
			Description: "restores the energy of other defenders",
			Effects:     []string{string(host.EffectRestore)},
			Targets:     defenders,
		},
		{
			Name:        string(domain.RoleAggressor),
			Behavior:    Aggressor,
			Description: "drains and infects defenders",
			Effects:     []string{string(host.EffectDrain), string(host.EffectInfect)},
			Targets:     defenders,
		},
		{
			Name:        string(domain.RoleDisguisedDefender),
			Behavior:    DisguisedDefender,
			Description: "poses as a defender",
			Effects:     []string{string(host.EffectRestore)},
			Targets:     defenders,
		},
	}
}
