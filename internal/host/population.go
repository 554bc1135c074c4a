package host

import (
	"sync"

	"agenthost/internal/domain"
)

// record is the mutable state of one agent. Only the population table holds
// pointers to records; everything outside this package sees AgentView copies.
type record struct {
	id       domain.AgentID
	seq      int
	role     domain.Role
	vitality domain.Vitality
	energy   int
	pos      domain.Position
}

func (r *record) view() domain.AgentView {
	return domain.AgentView{
		ID:       r.id,
		Seq:      r.seq,
		Role:     r.role,
		Vitality: r.vitality,
		Energy:   r.energy,
		Position: r.pos,
	}
}

// adjustEnergy applies delta clamped to [0, MaxEnergy] and returns the change
// actually applied. Reaching zero kills the agent.
func (r *record) adjustEnergy(delta int) int {
	before := r.energy
	delta = min(max(delta, -domain.MaxEnergy), domain.MaxEnergy)
	r.energy = min(max(before+delta, 0), domain.MaxEnergy)
	if r.energy == 0 {
		r.vitality = domain.Dead
	}
	return r.energy - before
}

// Population is the append-only agent table of one run. Records are admitted
// only by the Loader and never removed; death is a state.
type Population struct {
	mu      sync.RWMutex
	handles []*Handle
	byID    map[domain.AgentID]*Handle
}

// NewPopulation creates an empty table.
func NewPopulation() *Population {
	return &Population{byID: make(map[domain.AgentID]*Handle)}
}

// admit appends h's record and makes h live. Unexported so that nothing but
// the loader can grow the table.
func (p *Population) admit(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h.rec.seq = len(p.handles)
	p.handles = append(p.handles, h)
	p.byID[h.rec.id] = h
	h.admitted.Store(true)
}

// Len returns the number of admitted agents.
func (p *Population) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Handle returns the capability handle of the agent admitted at seq.
func (p *Population) Handle(seq int) (*Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if seq < 0 || seq >= len(p.handles) {
		return nil, false
	}
	return p.handles[seq], true
}

// Lookup finds an agent's handle by identity.
func (p *Population) Lookup(id domain.AgentID) (*Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byID[id]
	return h, ok
}

// View returns a copy of the agent admitted at seq.
func (p *Population) View(seq int) (domain.AgentView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if seq < 0 || seq >= len(p.handles) {
		return domain.AgentView{}, false
	}
	return p.handles[seq].rec.view(), true
}

// Views returns copies of every agent in admission order.
func (p *Population) Views() []domain.AgentView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.AgentView, len(p.handles))
	for i, h := range p.handles {
		out[i] = h.rec.view()
	}
	return out
}

// LiveSeqs returns the admission indices of agents that are not dead.
func (p *Population) LiveSeqs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []int
	for i, h := range p.handles {
		if h.rec.vitality.IsLive() {
			out = append(out, i)
		}
	}
	return out
}

func (p *Population) snapshot(a, b *record) (domain.AgentView, domain.AgentView) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return a.view(), b.view()
}

func (p *Population) viewOf(r *record) domain.AgentView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return r.view()
}
