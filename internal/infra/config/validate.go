package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSimulation(cfg, ve)
	validateRoles(cfg, ve)
	validateEffects(cfg, ve)
	validateQuarantine(cfg, ve)
	validateOutputs(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateServe(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var roleName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateSimulation(cfg *Config, ve *ValidationError) {
	sim := cfg.Simulation
	if sim.Turns <= 0 {
		ve.Add("simulation.turns must be > 0")
	}
	switch sim.Initiator {
	case "", "random", "last_created":
	default:
		ve.Add("simulation.initiator must be random or last_created, got %q", sim.Initiator)
	}
	for role, n := range sim.Population {
		if !roleName.MatchString(role) {
			ve.Add("simulation.population: invalid role name %q", role)
		}
		if n < 0 {
			ve.Add("simulation.population.%s must be >= 0", role)
		}
	}
	if sim.TurnsPerSecond < 0 {
		ve.Add("simulation.turns_per_second must be >= 0")
	}
	if sim.TurnsPerSecond > 0 && sim.Burst <= 0 {
		ve.Add("simulation.burst must be > 0 when turns_per_second is set")
	}
}

func validateRoles(cfg *Config, ve *ValidationError) {
	if len(cfg.Roles.Dirs) == 0 && !cfg.Roles.Builtin {
		ve.Add("roles: at least one dir is required when builtin roles are disabled")
	}
	for i, d := range cfg.Roles.Dirs {
		if strings.TrimSpace(d) == "" {
			ve.Add("roles.dirs[%d] is empty", i)
		}
	}
	if cfg.Roles.MaxSpawnDepth < 0 {
		ve.Add("roles.max_spawn_depth must be >= 0")
	}
}

var knownEffects = map[string]bool{
	"drain":   true,
	"restore": true,
	"infect":  true,
	"kill":    true,
}

func validateEffects(cfg *Config, ve *ValidationError) {
	allowed := make(map[string]bool, len(cfg.Effects.Allow))
	for _, e := range cfg.Effects.Allow {
		if !knownEffects[e] {
			ve.Add("effects.allow: unknown effect %q", e)
		}
		allowed[e] = true
	}
	for _, e := range cfg.Effects.Deny {
		if !knownEffects[e] {
			ve.Add("effects.deny: unknown effect %q", e)
		}
		if allowed[e] {
			ve.Add("effects: %q is both allowed and denied", e)
		}
	}
}

func validateQuarantine(cfg *Config, ve *ValidationError) {
	q := cfg.Quarantine
	if !q.Enabled {
		return
	}
	if q.MaxFailures == 0 {
		ve.Add("quarantine.max_failures must be > 0")
	}
	if q.Timeout < 0 {
		ve.Add("quarantine.timeout must be >= 0")
	}
	if q.Interval < 0 {
		ve.Add("quarantine.interval must be >= 0")
	}
}

func validateOutputs(cfg *Config, ve *ValidationError) {
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		ve.Add("store.path is required when the store is enabled")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateServe(cfg *Config, ve *ValidationError) {
	if cfg.Serve.Schedule == "" {
		ve.Add("serve.schedule is required")
	}
	if cfg.Serve.MaxRuns < 0 {
		ve.Add("serve.max_runs must be >= 0")
	}
	if cfg.Serve.RequestsPerMinute <= 0 {
		ve.Add("serve.requests_per_minute must be > 0")
	}
	if cfg.Serve.RequestBurst <= 0 {
		ve.Add("serve.request_burst must be > 0")
	}
	names := make(map[string]bool, len(cfg.Serve.Tokens))
	for i, t := range cfg.Serve.Tokens {
		if t.Token == "" {
			ve.Add("serve.tokens[%d].token is empty", i)
		}
		if t.Name == "" {
			ve.Add("serve.tokens[%d].name is empty", i)
		} else if names[t.Name] {
			ve.Add("serve.tokens: duplicate name %q", t.Name)
		}
		names[t.Name] = true
	}
	if cfg.Serve.Listen == "" {
		return
	}
	host, _, err := net.SplitHostPort(cfg.Serve.Listen)
	if err != nil {
		ve.Add("serve.listen %q: %v", cfg.Serve.Listen, err)
		return
	}
	if len(cfg.Serve.Tokens) == 0 && !isLoopback(host) {
		ve.Add("serve.tokens are required when serve.listen is not a loopback address")
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
