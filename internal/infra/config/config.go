package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Roles      RolesConfig      `yaml:"roles"`
	Effects    EffectsConfig    `yaml:"effects"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	Audit      AuditConfig      `yaml:"audit"`
	Store      StoreConfig      `yaml:"store"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Serve      ServeConfig      `yaml:"serve"`
	Includes   []string         `yaml:"includes,omitempty"`
}

// SimulationConfig holds the parameters of one run.
type SimulationConfig struct {
	Seed             uint64         `yaml:"seed"`
	Turns            int            `yaml:"turns"`
	Initiator        string         `yaml:"initiator"` // "random" or "last_created"
	Population       map[string]int `yaml:"population"`
	TurnsPerSecond   float64        `yaml:"turns_per_second"` // 0 = unpaced
	Burst            int            `yaml:"burst"`
	DeterministicIDs bool           `yaml:"deterministic_ids"` // derive agent IDs from the seed
}

// RolesConfig controls where roles come from.
type RolesConfig struct {
	Dirs          []string `yaml:"dirs"`            // scanned for <role>/role.yaml
	Builtin       bool     `yaml:"builtin"`         // register builtin roles when no manifests are found
	MaxSpawnDepth int      `yaml:"max_spawn_depth"` // 0 = loader default
}

// EffectsConfig bounds which effects role manifests may request.
type EffectsConfig struct {
	Allow []string `yaml:"allow"` // empty = any known effect
	Deny  []string `yaml:"deny"`
}

// QuarantineConfig holds the per-role circuit breaker settings.
type QuarantineConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AuditConfig holds the audit trail settings.
type AuditConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"` // serve mode prunes older entries; 0 = keep all
}

// StoreConfig holds the run store settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// ServeConfig controls repeated runs in serve mode.
type ServeConfig struct {
	Schedule string      `yaml:"schedule"` // cron expression or duration
	MaxRuns  int         `yaml:"max_runs"` // 0 = unlimited
	Listen   string      `yaml:"listen"`   // event feed address; empty = disabled
	Tokens   []FeedToken `yaml:"tokens"`   // required unless Listen is loopback

	RequestsPerMinute int      `yaml:"requests_per_minute"` // per client IP on the feed
	RequestBurst      int      `yaml:"request_burst"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// FeedToken admits one event feed client.
type FeedToken struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agenthost.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agenthost")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Simulation: SimulationConfig{
			Seed:      1,
			Turns:     20,
			Initiator: "random",
			Population: map[string]int{
				"defender":  10,
				"aggressor": 10,
			},
			Burst:            1,
			DeterministicIDs: true,
		},
		Roles: RolesConfig{
			Dirs:    []string{filepath.Join(dataDir, "roles")},
			Builtin: true,
		},
		Quarantine: QuarantineConfig{
			Enabled:     true,
			MaxFailures: 3,
			Timeout:     60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    filepath.Join(dataDir, "audit.jsonl"),
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(dataDir, "runs.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Serve: ServeConfig{
			Schedule:          "1m",
			RequestsPerMinute: 60,
			RequestBurst:      10,
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// A population given in the file replaces the default one wholesale.
	cfg.Simulation.Population = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		if err := applyIncludes(cfg, absPath); err != nil {
			return nil, err
		}
		// The main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}
	if cfg.Simulation.Population == nil {
		cfg.Simulation.Population = Defaults().Simulation.Population
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps AGENTHOST_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTHOST_SIMULATION_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Simulation.Seed = n
		}
	}
	if v := os.Getenv("AGENTHOST_SIMULATION_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Turns = n
		}
	}
	if v := os.Getenv("AGENTHOST_SIMULATION_INITIATOR"); v != "" {
		cfg.Simulation.Initiator = v
	}
	if v := os.Getenv("AGENTHOST_SIMULATION_TURNS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Simulation.TurnsPerSecond = f
		}
	}
	if v := os.Getenv("AGENTHOST_ROLE_DIRS"); v != "" {
		cfg.Roles.Dirs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("AGENTHOST_EFFECTS_DENY"); v != "" {
		cfg.Effects.Deny = splitAndTrim(v, ",")
	}
	if v := os.Getenv("AGENTHOST_QUARANTINE_ENABLED"); v != "" {
		cfg.Quarantine.Enabled = v == "true"
	}
	if v := os.Getenv("AGENTHOST_AUDIT_ENABLED"); v == "true" {
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("AGENTHOST_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("AGENTHOST_STORE_ENABLED"); v == "true" {
		cfg.Store.Enabled = true
	}
	if v := os.Getenv("AGENTHOST_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGENTHOST_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTHOST_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTHOST_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTHOST_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGENTHOST_SERVE_SCHEDULE"); v != "" {
		cfg.Serve.Schedule = v
	}
	if v := os.Getenv("AGENTHOST_SERVE_LISTEN"); v != "" {
		cfg.Serve.Listen = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
