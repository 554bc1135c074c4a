// Package simulation drives turn-based runs over a population of hosted
// agents.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"agenthost/internal/domain"
	"agenthost/internal/host"
	"agenthost/internal/infra/tracer"
)

// live is the process-wide scheduler slot.
var live atomic.Bool

// SchedulerDeps holds injected dependencies for a scheduler.
type SchedulerDeps struct {
	Registry      *host.Registry
	Compat        host.CompatibilityTable
	Picker        domain.Picker
	Seed          uint64 // recorded with the run summary
	Initiator     InitiatorPolicy
	Logger        *slog.Logger
	MaxSpawnDepth int                            // 0 = loader default
	IDSource      func() (domain.AgentID, error) // optional, nil = random UUIDs
	Quarantine    *host.Quarantine               // optional, nil = no quarantine
	AuditLogger   domain.AuditLogger             // optional, nil = no audit
	Bus           domain.EventBus                // optional, nil = no events
	Store         domain.RunStore                // optional, nil = not persisted
	Limiter       *rate.Limiter                  // optional, nil = unpaced
}

// Scheduler owns one population table and runs turns over it. At most one
// scheduler may be live per process; Teardown releases the slot.
type Scheduler struct {
	deps   SchedulerDeps
	runID  string
	pop    *host.Population
	loader *host.Loader
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	log      []domain.TurnRecord
	torndown bool
	busy     sync.WaitGroup
}

// New claims the process-wide slot and builds an empty scheduler.
func New(deps SchedulerDeps) (*Scheduler, error) {
	const op = "simulation.New"
	if deps.Registry == nil || deps.Picker == nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "registry and picker are required")
	}
	if !deps.Initiator.IsValid() {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("unknown initiator policy %q", deps.Initiator))
	}
	if deps.Initiator == "" {
		deps.Initiator = InitiatorRandom
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AuditLogger == nil {
		deps.AuditLogger = domain.NopAuditLogger{}
	}
	if !live.CompareAndSwap(false, true) {
		return nil, domain.NewDomainError(op, domain.ErrInvalidState, "another scheduler is live")
	}

	runID := newRunID()
	logger := deps.Logger.With("component", "scheduler", "run_id", runID)
	deps.AuditLogger = runScopedAudit{audit: deps.AuditLogger, runID: runID}

	engineOpts := []host.EngineOption{host.WithEngineAudit(deps.AuditLogger)}
	if deps.Quarantine != nil {
		engineOpts = append(engineOpts, host.WithQuarantine(deps.Quarantine))
	}
	pop := host.NewPopulation()
	engine := host.NewEngine(deps.Registry, pop, deps.Compat, logger.With("component", "engine"), engineOpts...)

	loaderOpts := []host.LoaderOption{
		host.WithAudit(deps.AuditLogger),
		host.WithMaxSpawnDepth(deps.MaxSpawnDepth),
	}
	if deps.Bus != nil {
		loaderOpts = append(loaderOpts, host.WithEventBus(runScoped{bus: deps.Bus, runID: runID}))
	}
	if deps.IDSource != nil {
		loaderOpts = append(loaderOpts, host.WithIDSource(deps.IDSource))
	}
	loader := host.NewLoader(deps.Registry, engine, logger.With("component", "loader"), loaderOpts...)

	s := &Scheduler{
		deps:   deps,
		runID:  runID,
		pop:    pop,
		loader: loader,
		logger: logger,
	}
	if deps.Quarantine != nil && deps.Bus != nil {
		deps.Quarantine.OnChange(func(role domain.Role, open bool) {
			s.publish(context.Background(), domain.EventRoleQuarantined, map[string]any{
				"role": string(role),
				"open": open,
			})
		})
	}
	return s, nil
}

// Teardown releases the process-wide slot. It refuses further Initialize and
// Run calls and waits for one already in progress before releasing, so no
// other scheduler can go live mid-run. Calling it again is a no-op.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	s.mu.Unlock()

	s.busy.Wait()
	live.Store(false)
}

// RunID identifies this scheduler's run.
func (s *Scheduler) RunID() string { return s.runID }

// State returns the current lifecycle stage.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves from one state to another or fails with ErrInvalidState.
// On success the caller holds a busy slot and must call s.busy.Done.
func (s *Scheduler) transition(op string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torndown {
		return domain.NewDomainError(op, domain.ErrInvalidState, "scheduler torn down")
	}
	if s.state != from {
		return domain.NewDomainError(op, domain.ErrInvalidState,
			fmt.Sprintf("state is %s, want %s", s.state, from))
	}
	s.state = to
	s.busy.Add(1)
	return nil
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Initialize creates the seed population with platform context. Every role
// is checked before anything is created; roles are created in sorted order.
// A failure part way leaves the scheduler Finished.
func (s *Scheduler) Initialize(ctx context.Context, seed map[domain.Role]int) error {
	const op = "Scheduler.Initialize"

	roles := make([]domain.Role, 0, len(seed))
	for role, n := range seed {
		if n < 0 {
			return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("negative count %d for %s", n, role))
		}
		if !s.deps.Registry.Has(role) {
			return domain.NewDomainError(op, domain.ErrUnknownRole, string(role))
		}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	if err := s.transition(op, StateUninitialized, StatePopulated); err != nil {
		return err
	}
	defer s.busy.Done()

	for _, role := range roles {
		for range seed[role] {
			if _, err := s.loader.Create(ctx, role, host.Platform()); err != nil {
				s.setState(StateFinished)
				return domain.WrapOp(op, err)
			}
		}
	}
	s.logger.Info("population initialized", "agents", s.pop.Len(), "roles", len(roles))
	return nil
}

// Run executes turns and returns the run summary. Rejected interactions are
// recorded in the log; only context cancellation and store failures are
// returned as errors.
func (s *Scheduler) Run(ctx context.Context, turns int) (domain.RunSummary, error) {
	const op = "Scheduler.Run"
	if turns <= 0 {
		return domain.RunSummary{}, domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("turns must be positive, got %d", turns))
	}
	if err := s.transition(op, StatePopulated, StateRunning); err != nil {
		return domain.RunSummary{}, err
	}
	defer func() {
		s.setState(StateFinished)
		s.busy.Done()
	}()

	ctx, span := tracer.StartSpan(ctx, "scheduler.run",
		trace.WithAttributes(
			tracer.StringAttr("run.id", s.runID),
			tracer.IntAttr("run.turns", turns),
		),
	)
	defer span.End()

	summary := domain.RunSummary{
		RunID:     s.runID,
		Seed:      s.deps.Seed,
		StartedAt: time.Now(),
	}
	s.publish(ctx, domain.EventRunStarted, map[string]any{"turns": turns, "population": s.pop.Len()})
	s.logger.Info("run started", "turns", turns, "population", s.pop.Len())

	for turn := 1; turn <= turns; turn++ {
		if err := s.pace(ctx); err != nil {
			tracer.RecordError(span, err)
			return summary, domain.WrapOp(op, err)
		}
		rec := s.turn(ctx, turn)
		summary.Turns++
		if rec.Outcome.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Rejected++
		}
	}
	summary.Population = s.pop.Len()
	summary.Quarantined = s.quarantined()
	summary.FinishedAt = time.Now()

	s.publish(ctx, domain.EventRunFinished, summary)
	s.logger.Info("run finished",
		"turns", summary.Turns,
		"succeeded", summary.Succeeded,
		"rejected", summary.Rejected,
		"quarantined", len(summary.Quarantined),
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveRun(ctx, summary, s.Log(), s.pop.Views()); err != nil {
			tracer.RecordError(span, err)
			return summary, domain.WrapOp(op, err)
		}
	}
	tracer.SetOK(span)
	return summary, nil
}

// quarantined lists registered roles whose circuit is currently open.
func (s *Scheduler) quarantined() []domain.Role {
	if s.deps.Quarantine == nil {
		return nil
	}
	var out []domain.Role
	for _, role := range s.deps.Registry.Roles() {
		if s.deps.Quarantine.IsQuarantined(role) {
			out = append(out, role)
		}
	}
	return out
}

func (s *Scheduler) pace(ctx context.Context) error {
	if s.deps.Limiter != nil {
		return s.deps.Limiter.Wait(ctx)
	}
	return ctx.Err()
}

// turn runs one interaction and records it.
func (s *Scheduler) turn(ctx context.Context, n int) domain.TurnRecord {
	ctx, span := tracer.StartSpan(ctx, "scheduler.turn",
		trace.WithAttributes(tracer.IntAttr("turn", n)),
	)
	defer span.End()

	rec := domain.TurnRecord{Turn: n}
	initiator, ok := s.chooseInitiator()
	if !ok {
		rec.Outcome = domain.Rejected(domain.RejectNoInitiator, domain.AgentView{}, domain.AgentView{})
	} else {
		target, _ := s.pop.Handle(s.deps.Picker.Pick(s.pop.Len()))
		rec.Outcome = initiator.Interact(ctx, target)
		if rec.Outcome.Initiator.Vitality.IsLive() {
			initiator.Move(ctx)
		}
	}

	span.SetAttributes(
		tracer.StringAttr("outcome.status", string(rec.Outcome.Status)),
		tracer.StringAttr("outcome.reason", string(rec.Outcome.Reason)),
	)
	s.mu.Lock()
	s.log = append(s.log, rec)
	s.mu.Unlock()

	s.publish(ctx, domain.EventInteractionCompleted, map[string]any{"turn": n, "line": rec.String()})
	s.logger.Debug("turn", "line", rec.String())
	return rec
}

func (s *Scheduler) chooseInitiator() (*host.Handle, bool) {
	switch s.deps.Initiator {
	case InitiatorLastCreated:
		return s.pop.Handle(s.pop.Len() - 1)
	default:
		seqs := s.pop.LiveSeqs()
		if len(seqs) == 0 {
			return nil, false
		}
		return s.pop.Handle(seqs[s.deps.Picker.Pick(len(seqs))])
	}
}

// PopulationView returns a copy of every agent in admission order.
func (s *Scheduler) PopulationView() []domain.AgentView { return s.pop.Views() }

// Log returns a copy of the outcome log so far.
func (s *Scheduler) Log() []domain.TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TurnRecord(nil), s.log...)
}

// LogLines renders the outcome log in its canonical form.
func (s *Scheduler) LogLines() []string {
	recs := s.Log()
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = r.String()
	}
	return lines
}

func (s *Scheduler) publish(ctx context.Context, typ domain.EventType, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     s.runID,
		Payload:   domain.MustPayload(payload),
	})
}

// runScoped stamps the run ID onto events published by the loader.
type runScoped struct {
	bus   domain.EventBus
	runID string
}

func (r runScoped) Publish(ctx context.Context, e domain.Event) {
	e.RunID = r.runID
	r.bus.Publish(ctx, e)
}
func (r runScoped) Subscribe(t domain.EventType, h domain.EventHandler) func() {
	return r.bus.Subscribe(t, h)
}
func (r runScoped) SubscribeAll(h domain.EventHandler) func() { return r.bus.SubscribeAll(h) }
func (r runScoped) Close()                                    {}

// runScopedAudit adds the run ID to the detail of every audit entry.
type runScopedAudit struct {
	audit domain.AuditLogger
	runID string
}

func (r runScopedAudit) Log(ctx context.Context, e domain.AuditEvent) error {
	detail := make(map[string]string, len(e.Detail)+1)
	maps.Copy(detail, e.Detail)
	detail["run_id"] = r.runID
	e.Detail = detail
	return r.audit.Log(ctx, e)
}
func (r runScopedAudit) Close() error { return nil }

func newRunID() string {
	return ulid.Make().String()
}

// IsLive reports whether some scheduler currently holds the process slot.
func IsLive() bool { return live.Load() }

// Census counts agents by role and vitality.
func Census(views []domain.AgentView) map[domain.Role]map[domain.Vitality]int {
	out := make(map[domain.Role]map[domain.Vitality]int)
	for _, v := range views {
		if out[v.Role] == nil {
			out[v.Role] = make(map[domain.Vitality]int)
		}
		out[v.Role][v.Vitality]++
	}
	return out
}
