package domain

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MaxEnergy is the energy every agent is created with and the upper bound
// any interaction can restore it to.
const MaxEnergy = 100

// AgentID is the immutable 128-bit identity of an agent.
type AgentID uuid.UUID

// NilAgentID is the zero identity; no admitted agent ever carries it.
var NilAgentID AgentID

// NewAgentID returns a fresh random identity.
func NewAgentID() AgentID {
	return AgentID(uuid.New())
}

// NewAgentIDFromReader draws the identity bits from r instead of the process
// CSPRNG.
func NewAgentIDFromReader(r io.Reader) (AgentID, error) {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return NilAgentID, fmt.Errorf("generate agent id: %w", err)
	}
	return AgentID(id), nil
}

func (id AgentID) String() string { return uuid.UUID(id).String() }

func (id AgentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AgentID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

// IsZero reports whether id is the nil identity.
func (id AgentID) IsZero() bool { return id == NilAgentID }

// Role is the behavioral category an agent is instantiated for.
type Role string

const (
	RoleDefender          Role = "defender"
	RoleAggressor         Role = "aggressor"
	RoleDisguisedDefender Role = "disguised_defender"
)

func (r Role) String() string { return string(r) }

// IsValid reports whether r can be registered. Roles are open-ended; any
// non-empty tag is accepted.
func (r Role) IsValid() bool { return r != "" }

// Vitality is the life state of an agent.
type Vitality uint8

const (
	Alive Vitality = iota + 1
	Infected
	Dead
)

func (v Vitality) String() string {
	switch v {
	case Alive:
		return "alive"
	case Infected:
		return "infected"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("vitality(%d)", uint8(v))
	}
}

// IsLive reports whether the agent can still take part in interactions.
func (v Vitality) IsLive() bool { return v == Alive || v == Infected }

// Position is the opaque per-agent location updated on every move.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// AgentView is a read-only copy of an agent's state. Holding a view never
// grants the ability to change the agent it describes.
type AgentView struct {
	ID       AgentID  `json:"id"`
	Seq      int      `json:"seq"` // admission order in the population table
	Role     Role     `json:"role"`
	Vitality Vitality `json:"vitality"`
	Energy   int      `json:"energy"`
	Position Position `json:"position"`
}

// Label renders the agent the way outcome logs refer to it.
func (v AgentView) Label() string {
	return fmt.Sprintf("#%d(%s)", v.Seq, v.Role)
}

// Picker is the injected random source used by the scheduler.
type Picker interface {
	// Pick returns a uniformly distributed index in [0, n). n is always > 0.
	Pick(n int) int
}
