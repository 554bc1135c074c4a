package host

import (
	"context"

	"agenthost/internal/domain"
)

// Interaction is the initiator's window onto one interaction. Extensions read
// both parties as views and propose effects; nothing is applied until the
// extension returns, and nothing at all if it proposed an ungranted effect.
type Interaction struct {
	ctx     context.Context
	self    domain.AgentView
	target  domain.AgentView
	granted EffectSet

	selfEnergy   int
	targetEnergy int
	infect       bool
	kill         bool
	denied       []Effect
}

func newInteraction(ctx context.Context, self, target domain.AgentView, granted EffectSet) *Interaction {
	return &Interaction{ctx: ctx, self: self, target: target, granted: granted}
}

func (ic *Interaction) Context() context.Context { return ic.ctx }
func (ic *Interaction) Self() domain.AgentView { return ic.self }
func (ic *Interaction) Target() domain.AgentView { return ic.target }
func (ic *Interaction) Granted(e Effect) bool { return ic.granted.Has(e) }
func (ic *Interaction) DeniedEffects() []Effect { return append([]Effect(nil), ic.denied...) }

// Spend costs the initiator n energy. Always permitted.
func (ic *Interaction) Spend(n int) {
	if n > 0 {
		ic.selfEnergy = accumulate(ic.selfEnergy, -n)
	}
}

// Drain proposes taking n energy from the target.
func (ic *Interaction) Drain(n int) bool {
	if n <= 0 || !ic.allow(EffectDrain) {
		return false
	}
	ic.targetEnergy = accumulate(ic.targetEnergy, -n)
	return true
}

// Restore proposes giving the target n energy.
func (ic *Interaction) Restore(n int) bool {
	if n <= 0 || !ic.allow(EffectRestore) {
		return false
	}
	ic.targetEnergy = accumulate(ic.targetEnergy, n)
	return true
}

// accumulate adds delta to total, both capped to [-MaxEnergy, MaxEnergy].
// No single proposal can move an agent further than the whole energy range.
func accumulate(total, delta int) int {
	delta = min(max(delta, -domain.MaxEnergy), domain.MaxEnergy)
	return min(max(total+delta, -domain.MaxEnergy), domain.MaxEnergy)
}

// Infect proposes moving an alive target to infected.
func (ic *Interaction) Infect() bool {
	if !ic.allow(EffectInfect) {
		return false
	}
	ic.infect = true
	return true
}

// Kill proposes killing the target outright.
func (ic *Interaction) Kill() bool {
	if !ic.allow(EffectKill) {
		return false
	}
	ic.kill = true
	return true
}

func (ic *Interaction) allow(e Effect) bool {
	if ic.granted.Has(e) {
		return true
	}
	ic.denied = append(ic.denied, e)
	return false
}
