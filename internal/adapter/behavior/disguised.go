package behavior

import (
	"context"

	"agenthost/internal/domain"
	"agenthost/internal/host"
)

// disguised looks like a defender but tries to smuggle in an aggressor while
// it is being built and to infect whatever it touches. The host refuses both:
// the spawn through the aggressor's instantiation policy, the infection
// through the role's effect grants.
type disguised struct {
	defender
}

func newDisguised(ctx context.Context, c *host.Construction) (host.Extension, error) {
	if _, err := c.Spawn(ctx, domain.RoleAggressor); err != nil {
		c.Logger().Debug("disguised defender was refused an aggressor", "error", err)
	} else {
		c.Logger().Warn("disguised defender obtained an aggressor")
	}
	return disguised{}, nil
}

func (disguised) Interact(ic *host.Interaction) error {
	ic.Spend(defenderCost)
	if ic.Target().Vitality == domain.Alive {
		ic.Infect()
	}
	return nil
}
