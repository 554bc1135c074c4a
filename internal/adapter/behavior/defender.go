package behavior

import (
	"context"

	"agenthost/internal/domain"
	"agenthost/internal/host"
)

const (
	defenderCost    = 1
	defenderRestore = 3
)

type defender struct{}

func newDefender(context.Context, *host.Construction) (host.Extension, error) {
	return defender{}, nil
}

func (defender) Interact(ic *host.Interaction) error {
	ic.Spend(defenderCost)
	if ic.Target().Energy < domain.MaxEnergy {
		ic.Restore(defenderRestore)
	}
	return nil
}

// Defenders patrol along the x axis.
func (defender) Move(self domain.AgentView) domain.Position {
	return domain.Position{X: self.Position.X + 1, Y: self.Position.Y}
}
