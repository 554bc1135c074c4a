package domain

import (
	"fmt"
	"strings"
)

// OutcomeStatus is the result class of one attempted interaction.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeRejected  OutcomeStatus = "rejected"
)

// RejectReason explains why an interaction was a no-op.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectInvalidHandle  RejectReason = "invalid_handle"
	RejectReentrant      RejectReason = "reentrant"
	RejectSelfTarget     RejectReason = "self_target"
	RejectInitiatorDead  RejectReason = "initiator_dead"
	RejectTargetDead     RejectReason = "target_dead"
	RejectIncompatible   RejectReason = "incompatible"
	RejectQuarantined    RejectReason = "quarantined"
	RejectEffectDenied   RejectReason = "effect_denied"
	RejectExtensionFault RejectReason = "extension_fault"
	RejectNoInitiator    RejectReason = "no_initiator"
)

// StateDelta is the change an interaction applied to both parties.
type StateDelta struct {
	InitiatorEnergy int      `json:"initiator_energy"` // signed change
	TargetEnergy    int      `json:"target_energy"`    // signed change
	InitiatorBefore Vitality `json:"initiator_before"`
	InitiatorAfter  Vitality `json:"initiator_after"`
	TargetBefore    Vitality `json:"target_before"`
	TargetAfter     Vitality `json:"target_after"`
}

// IsZero reports whether the delta changed nothing.
func (d StateDelta) IsZero() bool {
	return d.InitiatorEnergy == 0 && d.TargetEnergy == 0 &&
		d.InitiatorBefore == d.InitiatorAfter && d.TargetBefore == d.TargetAfter
}

// InteractionOutcome is the value returned by every interaction attempt.
// Rejections are expected outcomes, not errors.
type InteractionOutcome struct {
	Status    OutcomeStatus `json:"status"`
	Reason    RejectReason  `json:"reason,omitempty"`
	Initiator AgentView     `json:"initiator"`
	Target    AgentView     `json:"target"`
	Delta     StateDelta    `json:"delta"`
}

// Succeeded reports whether the interaction was applied.
func (o InteractionOutcome) Succeeded() bool { return o.Status == OutcomeSucceeded }

// Rejected builds a no-op outcome.
func Rejected(reason RejectReason, initiator, target AgentView) InteractionOutcome {
	return InteractionOutcome{
		Status:    OutcomeRejected,
		Reason:    reason,
		Initiator: initiator,
		Target:    target,
	}
}

// TurnRecord is one line of a run's outcome log.
type TurnRecord struct {
	Turn    int                `json:"turn"`
	Outcome InteractionOutcome `json:"outcome"`
}

// String renders the canonical log line. It references agents by admission
// sequence, never by identity, so two runs with the same seed render
// byte-identical logs.
func (r TurnRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "turn=%d", r.Turn)
	o := r.Outcome
	if o.Reason == RejectNoInitiator {
		fmt.Fprintf(&b, " status=%s reason=%s", o.Status, o.Reason)
		return b.String()
	}
	fmt.Fprintf(&b, " initiator=%s target=%s status=%s", o.Initiator.Label(), o.Target.Label(), o.Status)
	if o.Reason != RejectNone {
		fmt.Fprintf(&b, " reason=%s", o.Reason)
	}
	if o.Succeeded() {
		d := o.Delta
		fmt.Fprintf(&b, " d_init=%+d d_target=%+d target=%s->%s",
			d.InitiatorEnergy, d.TargetEnergy, d.TargetBefore, d.TargetAfter)
		if d.InitiatorBefore != d.InitiatorAfter {
			fmt.Fprintf(&b, " initiator=%s->%s", d.InitiatorBefore, d.InitiatorAfter)
		}
	}
	return b.String()
}
