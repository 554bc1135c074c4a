package simulation

import (
	"encoding/binary"
	"math/rand/v2"

	"agenthost/internal/domain"
)

// SeededPicker is a reproducible domain.Picker. It is not safe for
// concurrent use; the scheduler only draws from it between turns.
type SeededPicker struct {
	rng *rand.Rand
}

// NewSeededPicker returns a picker whose sequence depends only on seed.
func NewSeededPicker(seed uint64) *SeededPicker {
	return &SeededPicker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pick returns a uniform index in [0, n).
func (p *SeededPicker) Pick(n int) int { return p.rng.IntN(n) }

// SeededIDs returns an identity source that derives agent IDs from seed, so
// that a reseeded run reproduces identities as well as outcomes.
func SeededIDs(seed uint64) func() (domain.AgentID, error) {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	src := rand.NewChaCha8(key)
	return func() (domain.AgentID, error) {
		return domain.NewAgentIDFromReader(src)
	}
}
