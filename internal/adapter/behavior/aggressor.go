package behavior

import (
	"context"

	"agenthost/internal/domain"
	"agenthost/internal/host"
)

const (
	aggressorCost  = 2
	aggressorDrain = 15
)

type aggressor struct{}

func newAggressor(context.Context, *host.Construction) (host.Extension, error) {
	return aggressor{}, nil
}

func (aggressor) Interact(ic *host.Interaction) error {
	ic.Spend(aggressorCost)
	if ic.Target().Vitality == domain.Alive {
		ic.Infect()
	}
	ic.Drain(aggressorDrain)
	return nil
}

func (aggressor) Move(self domain.AgentView) domain.Position {
	return domain.Position{X: self.Position.X + 1, Y: self.Position.Y + 1}
}
