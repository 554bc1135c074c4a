package main

import (
	"context"
	"fmt"
	"time"

	"agenthost/internal/adapter/gateway"
	"agenthost/internal/domain"
	"agenthost/internal/infra/config"
	"agenthost/internal/infra/middleware"
	"agenthost/internal/usecase/scheduling"
)

const auditRetentionSchedule = "1h"

// serveCommand repeats runs on the configured schedule. Run n uses seed+n so
// successive runs explore different trajectories while each stays
// reproducible from its recorded seed.
func serveCommand(ctx context.Context) error {
	cfg, log, shutdown, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	c, cleanup, err := initComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	unsub := c.bus.Subscribe(domain.EventRoleQuarantined, func(_ context.Context, e domain.Event) {
		log.Warn("role quarantine changed", "run_id", e.RunID, "payload", string(e.Payload))
	})
	defer unsub()

	sched := scheduling.NewScheduler(log.With("component", "scheduling"))

	base := paramsFromConfig(cfg)
	fatal := make(chan error, 1)
	var n uint64
	sched.RegisterAction(scheduling.ActionSimulationRun, func(ctx context.Context) error {
		p := base
		p.Seed = base.Seed + n
		n++
		res, err := runSimulation(ctx, c, p)
		if err != nil {
			err = fmt.Errorf("run %d (seed %d): %w", n, p.Seed, err)
			latchFatal(fatal, err)
			return err
		}
		log.Info("scheduled run finished",
			"run_id", res.Summary.RunID,
			"seed", p.Seed,
			"succeeded", res.Summary.Succeeded,
			"rejected", res.Summary.Rejected,
		)
		return nil
	})
	if err := sched.AddTask(scheduling.ScheduledTask{
		Name:     "simulation",
		Schedule: cfg.Serve.Schedule,
		Action:   scheduling.ActionSimulationRun,
		Limit:    cfg.Serve.MaxRuns,
		Timeout:  runTimeout(base.Turns, cfg.Simulation.TurnsPerSecond),
	}); err != nil {
		return err
	}

	if c.audit != nil && cfg.Audit.MaxAge > 0 {
		sched.RegisterAction(scheduling.ActionAuditRetention, func(ctx context.Context) error {
			removed, err := c.audit.Prune(ctx, cfg.Audit.MaxAge)
			if err != nil {
				return err
			}
			log.Info("audit log pruned", "removed", removed, "max_age", cfg.Audit.MaxAge)
			return nil
		})
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "audit-retention",
			Schedule: auditRetentionSchedule,
			Action:   scheduling.ActionAuditRetention,
		}); err != nil {
			return err
		}
	}

	feedErr := make(chan error, 1)
	if cfg.Serve.Listen != "" {
		feed := newFeed(ctx, cfg, c)
		go func() { feedErr <- feed.Start(ctx) }()
		defer feed.Stop(context.Background())
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	log.Info("agenthost serving",
		"schedule", cfg.Serve.Schedule,
		"max_runs", cfg.Serve.MaxRuns,
		"roles", len(c.roles.Registry.Roles()),
		"audit", c.audit != nil,
		"store", c.store != nil,
		"feed", cfg.Serve.Listen,
	)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-sched.Done():
		log.Info("run limit reached")
	case err := <-feedErr:
		if err != nil {
			sched.Stop()
			return err
		}
	case err := <-fatal:
		log.Error("stopping after fatal run error", "error", err)
		sched.Stop()
		return err
	}
	return sched.Stop()
}

// latchFatal hands err to ch when later runs cannot succeed either. Only the
// first such error is kept.
func latchFatal(ch chan<- error, err error) {
	if !domain.IsFatal(err) {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// newFeed builds the event feed server. Without configured tokens the feed
// is open; config validation only allows that on loopback addresses.
func newFeed(ctx context.Context, cfg *config.Config, c *components) *gateway.Server {
	var auth gateway.Authenticator = gateway.OpenAuth{}
	if len(cfg.Serve.Tokens) > 0 {
		entries := make([]gateway.TokenEntry, len(cfg.Serve.Tokens))
		for i, t := range cfg.Serve.Tokens {
			entries[i] = gateway.TokenEntry{Token: t.Token, Name: t.Name}
		}
		auth = gateway.NewStaticTokenAuth(entries)
	}
	limiter := middleware.NewRateLimiter(ctx, middleware.RateLimitConfig{
		PerMinute:      cfg.Serve.RequestsPerMinute,
		Burst:          cfg.Serve.RequestBurst,
		TrustedProxies: cfg.Serve.TrustedProxies,
	})
	return gateway.NewServer(c.bus, auth, cfg.Serve.Listen,
		c.log.With("component", "gateway"),
		gateway.WithBusDropped(c.bus.Dropped),
		gateway.WithMiddleware(middleware.SecurityHeaders, limiter.Middleware),
	)
}

// runTimeout bounds one scheduled run. Unpaced runs get the scheduler's
// default; paced runs get their expected duration plus a minute.
func runTimeout(turns int, turnsPerSecond float64) time.Duration {
	if turnsPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(turns)/turnsPerSecond*float64(time.Second)) + time.Minute
}
