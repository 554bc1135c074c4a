package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"agenthost/internal/adapter/behavior"
	"agenthost/internal/adapter/store"
	"agenthost/internal/domain"
	"agenthost/internal/host"
	"agenthost/internal/infra/config"
	"agenthost/internal/infra/logger"
	"agenthost/internal/infra/tracer"
	"agenthost/internal/security"
	"agenthost/internal/usecase/eventbus"
	"agenthost/internal/usecase/simulation"
)

// roleSet is the outcome of role discovery: a populated registry and the
// pairings its manifests declare.
type roleSet struct {
	Registry  *host.Registry
	Compat    host.CompatibilityTable
	Manifests []host.RoleManifest
	Builtin   bool
}

// loadRoles scans the configured role directories and registers every
// manifest found. With none found and builtin roles enabled, the builtin
// manifests are used instead.
func loadRoles(cfg *config.Config, log *slog.Logger) (*roleSet, error) {
	manifests, err := host.ScanDirectories(cfg.Roles.Dirs)
	if err != nil {
		return nil, err
	}
	builtin := false
	if len(manifests) == 0 {
		if !cfg.Roles.Builtin {
			return nil, fmt.Errorf("no role manifests found in %s", strings.Join(cfg.Roles.Dirs, ", "))
		}
		log.Info("no role manifests found, using builtin roles")
		manifests = behavior.DefaultManifests()
		builtin = true
	}

	reg := host.NewRegistry(log.With("component", "registry"))
	compat, err := host.RegisterManifests(reg, manifests, behavior.Catalog(), cfg.Effects.Allow, cfg.Effects.Deny)
	if err != nil {
		return nil, err
	}
	return &roleSet{Registry: reg, Compat: compat, Manifests: manifests, Builtin: builtin}, nil
}

// components holds everything a run needs that outlives a single run.
type components struct {
	cfg      *config.Config
	log      *slog.Logger
	roles    *roleSet
	audit    *security.FileAuditLogger // nil when audit is disabled
	auditLog domain.AuditLogger        // audit with compliance defaults
	bus      *eventbus.Bus
	store    *store.SQLiteRunStore // nil when the store is disabled
}

// initComponents builds the long-lived components from cfg. The returned
// cleanup closes them in reverse order; on error nothing is left open.
func initComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, func(), error) {
	roles, err := loadRoles(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("roles: %w", err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	c := &components{cfg: cfg, log: log, roles: roles}

	if cfg.Audit.Enabled {
		audit, err := security.NewFileAuditLogger(cfg.Audit.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: %w", err)
		}
		closers = append(closers, func() {
			if err := audit.Close(); err != nil {
				log.Error("audit close", "error", err)
			}
		})
		c.audit = audit
		c.auditLog = security.NewComplianceAuditLogger(audit)
		auditRegistrations(ctx, c.auditLog, roles, log)
	}

	c.bus = eventbus.New(log.With("component", "eventbus"))
	closers = append(closers, c.bus.Close)

	if cfg.Store.Enabled {
		st, err := store.NewSQLiteRunStore(cfg.Store.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		closers = append(closers, func() {
			if err := st.Close(); err != nil {
				log.Error("store close", "error", err)
			}
		})
		c.store = st
	}
	return c, cleanup, nil
}

func auditRegistrations(ctx context.Context, audit domain.AuditLogger, roles *roleSet, log *slog.Logger) {
	for _, m := range roles.Manifests {
		err := audit.Log(ctx, domain.AuditEvent{
			Timestamp: time.Now(),
			Type:      domain.AuditRoleRegistered,
			Actor:     "platform",
			Resource:  m.Name,
			Action:    "register",
			Outcome:   "success",
			Detail: map[string]string{
				"behavior": m.Behavior,
				"effects":  strings.Join(m.Effects, ","),
				"builtin":  fmt.Sprint(roles.Builtin),
			},
		})
		if err != nil {
			log.Warn("audit write failed", "role", m.Name, "error", err)
		}
	}
}

// runParams are the inputs of one run.
type runParams struct {
	Seed       uint64
	Turns      int
	Population map[string]int
}

func paramsFromConfig(cfg *config.Config) runParams {
	return runParams{
		Seed:       cfg.Simulation.Seed,
		Turns:      cfg.Simulation.Turns,
		Population: cfg.Simulation.Population,
	}
}

// runResult is what a finished run leaves behind.
type runResult struct {
	Summary    domain.RunSummary
	Log        []string
	Population []domain.AgentView
}

// runSimulation builds a scheduler, populates it, runs it and tears it down.
// Each run gets its own quarantine so a role cut off in one run is not cut
// off in the next.
func runSimulation(ctx context.Context, c *components, p runParams) (*runResult, error) {
	sim := c.cfg.Simulation
	deps := simulation.SchedulerDeps{
		Registry:      c.roles.Registry,
		Compat:        c.roles.Compat,
		Picker:        simulation.NewSeededPicker(p.Seed),
		Seed:          p.Seed,
		Initiator:     simulation.InitiatorPolicy(sim.Initiator),
		Logger:        c.log,
		MaxSpawnDepth: c.cfg.Roles.MaxSpawnDepth,
		Bus:           c.bus,
	}
	if sim.DeterministicIDs {
		deps.IDSource = simulation.SeededIDs(p.Seed)
	}
	if c.cfg.Quarantine.Enabled {
		deps.Quarantine = host.NewQuarantine(host.QuarantineConfig{
			MaxFailures: c.cfg.Quarantine.MaxFailures,
			Timeout:     c.cfg.Quarantine.Timeout,
			Interval:    c.cfg.Quarantine.Interval,
		}, c.log.With("component", "quarantine"))
	}
	if c.auditLog != nil {
		deps.AuditLogger = c.auditLog
	}
	if c.store != nil {
		deps.Store = c.store
	}
	if sim.TurnsPerSecond > 0 {
		deps.Limiter = rate.NewLimiter(rate.Limit(sim.TurnsPerSecond), sim.Burst)
	}

	s, err := simulation.New(deps)
	if err != nil {
		return nil, err
	}
	defer s.Teardown()

	seed, err := seedPopulation(c.roles.Registry, p.Population)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx, seed); err != nil {
		return nil, err
	}
	summary, err := s.Run(ctx, p.Turns)
	res := &runResult{
		Summary:    summary,
		Log:        s.LogLines(),
		Population: s.PopulationView(),
	}
	// An interrupted run still returns what it got through.
	return res, err
}

// seedPopulation converts the configured counts to roles, rejecting names
// the registry does not know before anything is created.
func seedPopulation(reg *host.Registry, counts map[string]int) (map[domain.Role]int, error) {
	seed := make(map[domain.Role]int, len(counts))
	var unknown []string
	for name, n := range counts {
		role := domain.Role(name)
		if !reg.Has(role) {
			unknown = append(unknown, name)
			continue
		}
		seed[role] = n
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, domain.NewDomainError("seedPopulation", domain.ErrUnknownRole, strings.Join(unknown, ", "))
	}
	return seed, nil
}

// isInterrupted reports whether err came from the run being cancelled.
func isInterrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// loadRuntime loads the config and sets up logging and tracing. The returned
// shutdown flushes both.
func loadRuntime(ctx context.Context) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Error("tracer shutdown", "error", err)
		}
		logCloser()
	}
	return cfg, log, shutdown, nil
}
