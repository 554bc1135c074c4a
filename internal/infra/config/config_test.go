package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Simulation.Turns != 20 {
		t.Errorf("Turns = %d, want 20", cfg.Simulation.Turns)
	}
	if cfg.Simulation.Population["defender"] != 10 || cfg.Simulation.Population["aggressor"] != 10 {
		t.Errorf("Population = %v, want 10 defenders and 10 aggressors", cfg.Simulation.Population)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Seed != 1 {
		t.Errorf("expected defaults, got Seed=%d", cfg.Simulation.Seed)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
simulation:
  seed: 99
  turns: 50
  initiator: last_created
  population:
    defender: 3
    disguised_defender: 2
roles:
  dirs: ["./roles"]
  max_spawn_depth: 2
effects:
  deny: [kill]
quarantine:
  enabled: true
  max_failures: 5
  timeout: 30s
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Seed != 99 || cfg.Simulation.Turns != 50 {
		t.Errorf("Simulation = %+v", cfg.Simulation)
	}
	if cfg.Simulation.Initiator != "last_created" {
		t.Errorf("Initiator = %q", cfg.Simulation.Initiator)
	}
	if len(cfg.Simulation.Population) != 2 || cfg.Simulation.Population["disguised_defender"] != 2 {
		t.Errorf("Population should replace the default: %v", cfg.Simulation.Population)
	}
	if cfg.Roles.MaxSpawnDepth != 2 || len(cfg.Roles.Dirs) != 1 {
		t.Errorf("Roles = %+v", cfg.Roles)
	}
	if len(cfg.Effects.Deny) != 1 || cfg.Effects.Deny[0] != "kill" {
		t.Errorf("Effects.Deny = %v", cfg.Effects.Deny)
	}
	if cfg.Quarantine.MaxFailures != 5 || cfg.Quarantine.Timeout != 30*time.Second {
		t.Errorf("Quarantine = %+v", cfg.Quarantine)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestLoadKeepsDefaultPopulationWhenOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  turns: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Population["defender"] != 10 {
		t.Errorf("Population = %v, want defaults", cfg.Simulation.Population)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("simulation: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  turns: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error for world-writable config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTHOST_SIMULATION_SEED", "7")
	t.Setenv("AGENTHOST_SIMULATION_TURNS", "15")
	t.Setenv("AGENTHOST_LOGGER_LEVEL", "debug")
	t.Setenv("AGENTHOST_ROLE_DIRS", "/a, /b ,")
	t.Setenv("AGENTHOST_EFFECTS_DENY", "kill")
	t.Setenv("AGENTHOST_STORE_ENABLED", "true")
	t.Setenv("AGENTHOST_QUARANTINE_ENABLED", "false")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Simulation.Seed != 7 || cfg.Simulation.Turns != 15 {
		t.Errorf("Simulation = %+v", cfg.Simulation)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if len(cfg.Roles.Dirs) != 2 || cfg.Roles.Dirs[1] != "/b" {
		t.Errorf("Roles.Dirs = %v", cfg.Roles.Dirs)
	}
	if len(cfg.Effects.Deny) != 1 {
		t.Errorf("Effects.Deny = %v", cfg.Effects.Deny)
	}
	if !cfg.Store.Enabled {
		t.Error("Store.Enabled should be true")
	}
	if cfg.Quarantine.Enabled {
		t.Error("Quarantine.Enabled should be false")
	}
}

func TestEnvOverridesIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("AGENTHOST_SIMULATION_SEED", "not-a-number")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Simulation.Seed != 1 {
		t.Errorf("Seed = %d, want default 1", cfg.Simulation.Seed)
	}
}

func TestLoadServeFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
audit:
  max_age: 72h
serve:
  schedule: "@every 30s"
  max_runs: 4
  listen: "0.0.0.0:8090"
  tokens:
    - name: dashboard
      token: s3cret
  trusted_proxies: ["10.0.0.1"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Serve
	if s.Schedule != "@every 30s" || s.MaxRuns != 4 || s.Listen != "0.0.0.0:8090" {
		t.Errorf("serve = %+v", s)
	}
	if len(s.Tokens) != 1 || s.Tokens[0].Name != "dashboard" || s.Tokens[0].Token != "s3cret" {
		t.Errorf("tokens = %+v", s.Tokens)
	}
	if s.RequestsPerMinute != 60 || s.RequestBurst != 10 {
		t.Errorf("rate defaults lost: %d/%d", s.RequestsPerMinute, s.RequestBurst)
	}
	if len(s.TrustedProxies) != 1 {
		t.Errorf("trusted_proxies = %v", s.TrustedProxies)
	}
	if cfg.Audit.MaxAge != 72*time.Hour {
		t.Errorf("audit.max_age = %v", cfg.Audit.MaxAge)
	}
}

func TestEnvOverrideServeListen(t *testing.T) {
	t.Setenv("AGENTHOST_SERVE_LISTEN", "127.0.0.1:9000")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Serve.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q", cfg.Serve.Listen)
	}
}
