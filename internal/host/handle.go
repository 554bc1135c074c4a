package host

import (
	"context"
	"sync/atomic"

	"agenthost/internal/domain"
)

// Handle is the opaque capability for exactly one agent. It carries the
// agent's role internally and exposes only Interact and Move. Handles are
// minted by the Loader; a Handle built any other way is inert, and so is a
// minted one until its agent is admitted into the population.
type Handle struct {
	rec      *record
	ext      Extension
	engine   *Engine
	admitted atomic.Bool
}

func (h *Handle) valid() bool {
	return h != nil && h.rec != nil && h.ext != nil && h.engine != nil && h.admitted.Load()
}

// Interact attempts an interaction with target on behalf of this agent.
func (h *Handle) Interact(ctx context.Context, target *Handle) domain.InteractionOutcome {
	if !h.valid() {
		return domain.Rejected(domain.RejectInvalidHandle, domain.AgentView{}, viewOrZero(target))
	}
	return h.engine.Interact(ctx, h, target)
}

// Move advances this agent and returns its new position.
func (h *Handle) Move(ctx context.Context) domain.Position {
	if !h.valid() {
		return domain.Position{}
	}
	return h.engine.Move(ctx, h)
}

func viewOrZero(h *Handle) domain.AgentView {
	if !h.valid() {
		return domain.AgentView{}
	}
	return h.engine.pop.viewOf(h.rec)
}
