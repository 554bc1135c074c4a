package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agenthost/internal/domain"
	"agenthost/internal/infra/tracer"
)

const defaultMaxSpawnDepth = 4

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithAudit records every creation decision.
func WithAudit(a domain.AuditLogger) LoaderOption {
	return func(l *Loader) { l.audit = a }
}

// WithEventBus publishes agent lifecycle events.
func WithEventBus(bus domain.EventBus) LoaderOption {
	return func(l *Loader) { l.bus = bus }
}

// WithMaxSpawnDepth bounds how deep factories may spawn through each other.
func WithMaxSpawnDepth(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxDepth = n
		}
	}
}

// WithIDSource replaces the identity generator.
func WithIDSource(fn func() (domain.AgentID, error)) LoaderOption {
	return func(l *Loader) { l.ids = fn }
}

// Loader is the only path from a role and a requestor to a Handle.
type Loader struct {
	registry *Registry
	engine   *Engine
	pop      *Population
	audit    domain.AuditLogger
	bus      domain.EventBus
	logger   *slog.Logger
	ids      func() (domain.AgentID, error)
	maxDepth int
}

// NewLoader creates a loader admitting agents into engine's population.
func NewLoader(registry *Registry, engine *Engine, logger *slog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry: registry,
		engine:   engine,
		pop:      engine.pop,
		audit:    domain.NopAuditLogger{},
		logger:   logger,
		ids:      func() (domain.AgentID, error) { return domain.NewAgentID(), nil },
		maxDepth: defaultMaxSpawnDepth,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// pending is a constructed agent waiting for admission together with the
// agents its factory spawned.
type pending struct {
	handle   *Handle
	req      Requestor
	children []*pending
}

// size counts p and all of its descendants.
func (p *pending) size() int {
	n := 1
	for _, c := range p.children {
		n += c.size()
	}
	return n
}

// Create instantiates role for req. Agents spawned by the factory are admitted
// right after it, in spawn order. On any error nothing is admitted.
func (l *Loader) Create(ctx context.Context, role domain.Role, req Requestor) (*Handle, error) {
	p, err := l.create(ctx, role, req)
	if err != nil {
		return nil, err
	}
	l.admit(ctx, p)
	return p.handle, nil
}

func (l *Loader) create(ctx context.Context, role domain.Role, req Requestor) (*pending, error) {
	const op = "Loader.Create"

	ctx, span := tracer.StartSpan(ctx, "loader.create")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("agent.role", string(role)),
		tracer.StringAttr("requestor", req.String()),
	)

	factory, err := l.registry.Resolve(role)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	if req.depth >= l.maxDepth {
		err := domain.NewDomainError(op, domain.ErrLimitReached,
			fmt.Sprintf("spawn depth %d exceeded creating %s", l.maxDepth, role))
		tracer.RecordError(span, err)
		return nil, err
	}

	if !l.registry.Authorize(req, role) {
		err := domain.NewDomainError(op, domain.ErrAuthorization,
			fmt.Sprintf("%s may not instantiate %s", req, role))
		l.record(ctx, domain.AuditCreateDenied, req, role, "denied", nil)
		l.publish(ctx, domain.EventAgentDenied, map[string]string{
			"requestor": req.String(),
			"role":      string(role),
		})
		l.logger.Warn("creation denied", "requestor", req.String(), "role", string(role))
		tracer.RecordError(span, err)
		return nil, err
	}

	id, err := l.ids()
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	if _, taken := l.pop.Lookup(id); taken {
		err := domain.NewDomainError(op, domain.ErrDuplicate, fmt.Sprintf("agent id %s already admitted", id))
		tracer.RecordError(span, err)
		return nil, err
	}
	rec := &record{
		id:       id,
		seq:      -1,
		role:     role,
		vitality: domain.Alive,
		energy:   domain.MaxEnergy,
	}

	c := &Construction{
		loader: l,
		self:   rec.view(),
		req:    Requestor{role: role, parent: id, depth: req.depth + 1},
		logger: l.logger.With("agent", id.String(), "role", string(role)),
	}
	ext, err := build(ctx, factory, c)
	children := c.seal()
	if err == nil && ext == nil {
		err = fmt.Errorf("%w: factory for %s returned no extension", domain.ErrInvalidInput, role)
	}
	if err != nil {
		detail := map[string]string{"error": err.Error()}
		if len(children) > 0 {
			discarded := 0
			for _, ch := range children {
				discarded += ch.size()
			}
			detail["discarded"] = fmt.Sprint(discarded)
		}
		l.record(ctx, domain.AuditCreateFailed, req, role, "failed", detail)
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError(op, err, string(role))
	}

	tracer.SetOK(span)
	return &pending{
		handle:   &Handle{rec: rec, ext: ext, engine: l.engine},
		req:      req,
		children: children,
	}, nil
}

// admit places p and then its descendants into the population, parents first.
func (l *Loader) admit(ctx context.Context, p *pending) {
	l.pop.admit(p.handle)

	rec := p.handle.rec
	id := rec.id.String()
	l.record(ctx, domain.AuditCreateGranted, p.req, rec.role, "granted", map[string]string{"agent": id})
	l.publish(ctx, domain.EventAgentCreated, map[string]string{
		"agent":     id,
		"role":      string(rec.role),
		"requestor": p.req.String(),
		"seq":       fmt.Sprint(rec.seq),
	})
	l.logger.Debug("agent created", "agent", id, "role", string(rec.role), "seq", rec.seq, "requestor", p.req.String())

	for _, ch := range p.children {
		l.admit(ctx, ch)
	}
}

func build(ctx context.Context, factory Factory, c *Construction) (ext Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errExtensionPanic, r)
		}
	}()
	return factory(ctx, c)
}

func (l *Loader) record(ctx context.Context, typ domain.AuditEventType, req Requestor, role domain.Role, outcome string, detail map[string]string) {
	if err := l.audit.Log(ctx, domain.AuditEvent{
		Type:     typ,
		Actor:    req.String(),
		Resource: string(role),
		Action:   "create",
		Outcome:  outcome,
		Detail:   detail,
	}); err != nil {
		l.logger.Warn("audit write failed", "error", err)
	}
}

func (l *Loader) publish(ctx context.Context, typ domain.EventType, payload map[string]string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   domain.MustPayload(payload),
	})
}
