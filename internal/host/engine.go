package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"agenthost/internal/domain"
)

var (
	errEffectDenied   = errors.New("extension proposed an ungranted effect")
	errExtensionPanic = errors.New("extension panicked")
)

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithQuarantine routes every extension call through q.
func WithQuarantine(q *Quarantine) EngineOption {
	return func(e *Engine) { e.quarantine = q }
}

// WithEngineAudit records effect denials and extension faults.
func WithEngineAudit(a domain.AuditLogger) EngineOption {
	return func(e *Engine) { e.audit = a }
}

// Engine executes interactions between handles. Turns are serialized: one
// interaction is read, run, applied and returned before the next begins.
// The engine is driven by a single scheduler goroutine; a call made while an
// extension is running, from that extension or from any other goroutine, is
// rejected as reentrant rather than queued.
type Engine struct {
	registry   *Registry
	pop        *Population
	compat     CompatibilityTable
	quarantine *Quarantine
	audit      domain.AuditLogger
	logger     *slog.Logger

	turnMu      sync.Mutex
	inExtension atomic.Bool
}

// NewEngine creates an engine over pop using registry for effect grants.
func NewEngine(registry *Registry, pop *Population, compat CompatibilityTable, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		pop:      pop,
		compat:   compat,
		audit:    domain.NopAuditLogger{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Population returns the table this engine operates on.
func (e *Engine) Population() *Population { return e.pop }

// Compatibility returns the engine's role-pair table.
func (e *Engine) Compatibility() CompatibilityTable { return e.compat }

func (e *Engine) owns(h *Handle) bool { return h.valid() && h.engine == e }

// Interact runs one interaction of initiator on target. Every rejection
// leaves both parties untouched.
func (e *Engine) Interact(ctx context.Context, initiator, target *Handle) domain.InteractionOutcome {
	if !e.owns(initiator) || !e.owns(target) {
		return domain.Rejected(domain.RejectInvalidHandle, e.safeView(initiator), e.safeView(target))
	}
	if e.inExtension.Load() {
		// A turn is inside an extension. Waiting here would deadlock a
		// callback from that extension, so every caller is turned away.
		return domain.Rejected(domain.RejectReentrant, e.pop.viewOf(initiator.rec), e.pop.viewOf(target.rec))
	}

	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	self, tgt := e.pop.snapshot(initiator.rec, target.rec)
	switch {
	case initiator == target:
		return domain.Rejected(domain.RejectSelfTarget, self, tgt)
	case !self.Vitality.IsLive():
		return domain.Rejected(domain.RejectInitiatorDead, self, tgt)
	case tgt.Vitality == domain.Dead:
		return domain.Rejected(domain.RejectTargetDead, self, tgt)
	case !e.compat.Allows(self.Role, tgt.Role):
		return domain.Rejected(domain.RejectIncompatible, self, tgt)
	}

	ic := newInteraction(ctx, self, tgt, e.registry.Effects(self.Role))
	if err := e.callInteract(initiator, ic); err != nil {
		return e.reject(ctx, err, ic)
	}

	delta := e.apply(initiator.rec, target.rec, ic)
	self, tgt = e.pop.snapshot(initiator.rec, target.rec)
	return domain.InteractionOutcome{
		Status:    domain.OutcomeSucceeded,
		Initiator: self,
		Target:    tgt,
		Delta:     delta,
	}
}

func (e *Engine) callInteract(h *Handle, ic *Interaction) error {
	e.inExtension.Store(true)
	defer e.inExtension.Store(false)

	call := func() error {
		if err := safeInteract(h.ext, ic); err != nil {
			return err
		}
		if len(ic.denied) > 0 {
			return errEffectDenied
		}
		return nil
	}
	if e.quarantine != nil {
		return e.quarantine.Execute(ic.self.Role, call)
	}
	return call()
}

func safeInteract(ext Extension, ic *Interaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errExtensionPanic, r)
		}
	}()
	return ext.Interact(ic)
}

func (e *Engine) reject(ctx context.Context, err error, ic *Interaction) domain.InteractionOutcome {
	reason := domain.RejectExtensionFault
	auditType := domain.AuditExtensionFault
	switch {
	case errors.Is(err, ErrQuarantined):
		reason = domain.RejectQuarantined
	case errors.Is(err, errEffectDenied):
		reason = domain.RejectEffectDenied
		auditType = domain.AuditEffectDenied
	}

	if reason != domain.RejectQuarantined {
		e.logger.Error("interaction rejected",
			"initiator", ic.self.Label(),
			"target", ic.target.Label(),
			"reason", string(reason),
			"error", err,
		)
		detail := map[string]string{
			"initiator": ic.self.ID.String(),
			"target":    ic.target.ID.String(),
		}
		if denied := ic.DeniedEffects(); len(denied) > 0 {
			names := make([]string, len(denied))
			for i, d := range denied {
				names[i] = string(d)
			}
			detail["effects"] = strings.Join(names, ",")
		}
		if aerr := e.audit.Log(ctx, domain.AuditEvent{
			Type:     auditType,
			Actor:    string(ic.self.Role),
			Resource: string(ic.target.Role),
			Action:   "interact",
			Outcome:  string(reason),
			Detail:   detail,
		}); aerr != nil {
			e.logger.Warn("audit write failed", "error", aerr)
		}
	}
	return domain.Rejected(reason, ic.self, ic.target)
}

// apply commits the proposed effects to both records under the table lock.
func (e *Engine) apply(initiator, target *record, ic *Interaction) domain.StateDelta {
	e.pop.mu.Lock()
	defer e.pop.mu.Unlock()

	d := domain.StateDelta{
		InitiatorBefore: initiator.vitality,
		TargetBefore:    target.vitality,
	}

	switch {
	case ic.kill:
		d.TargetEnergy = target.adjustEnergy(-target.energy)
		target.vitality = domain.Dead
	default:
		if ic.infect && target.vitality == domain.Alive {
			target.vitality = domain.Infected
		}
		d.TargetEnergy = target.adjustEnergy(ic.targetEnergy)
	}
	d.InitiatorEnergy = initiator.adjustEnergy(ic.selfEnergy)

	d.InitiatorAfter = initiator.vitality
	d.TargetAfter = target.vitality
	return d
}

// Move advances h. It always succeeds; a faulty extension leaves the agent
// where it was.
func (e *Engine) Move(_ context.Context, h *Handle) domain.Position {
	if !e.owns(h) {
		return domain.Position{}
	}
	if e.inExtension.Load() {
		return e.pop.viewOf(h.rec).Position
	}

	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	self := e.pop.viewOf(h.rec)
	pos := e.callMove(h, self)

	e.pop.mu.Lock()
	h.rec.pos = pos
	e.pop.mu.Unlock()
	return pos
}

func (e *Engine) callMove(h *Handle, self domain.AgentView) (pos domain.Position) {
	e.inExtension.Store(true)
	defer e.inExtension.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extension move panicked", "agent", self.Label(), "panic", r)
			pos = self.Position
		}
	}()
	return h.ext.Move(self)
}

func (e *Engine) safeView(h *Handle) domain.AgentView {
	if !e.owns(h) {
		return domain.AgentView{}
	}
	return e.pop.viewOf(h.rec)
}
