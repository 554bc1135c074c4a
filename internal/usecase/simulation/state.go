package simulation

import "fmt"

// State is the lifecycle stage of a Scheduler.
type State int32

const (
	StateUninitialized State = iota
	StatePopulated
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePopulated:
		return "populated"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// InitiatorPolicy selects who acts each turn.
type InitiatorPolicy string

const (
	// InitiatorRandom draws the initiator uniformly from live agents.
	InitiatorRandom InitiatorPolicy = "random"
	// InitiatorLastCreated always uses the most recently admitted agent.
	InitiatorLastCreated InitiatorPolicy = "last_created"
)

// IsValid reports whether p names a known policy. The empty policy is random.
func (p InitiatorPolicy) IsValid() bool {
	return p == "" || p == InitiatorRandom || p == InitiatorLastCreated
}
