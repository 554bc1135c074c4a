package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agenthost/internal/domain"
	"agenthost/internal/infra/config"
	"agenthost/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testConfig returns defaults pointed at a scratch directory so no test
// touches the real data dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Roles.Dirs = []string{filepath.Join(dir, "roles")}
	cfg.Audit.Path = filepath.Join(dir, "audit.jsonl")
	cfg.Store.Path = filepath.Join(dir, "runs.db")
	cfg.Simulation.Population = map[string]int{"defender": 4, "aggressor": 3, "disguised_defender": 2}
	return cfg
}

func writeRole(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "role.yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFlagValue(t *testing.T) {
	args := []string{"agenthost", "run", "--seed", "7", "--config=/tmp/x.yaml", "--turns"}
	if got := flagValue(args, "--seed"); got != "7" {
		t.Errorf("--seed = %q", got)
	}
	if got := flagValue(args, "--config"); got != "/tmp/x.yaml" {
		t.Errorf("--config = %q", got)
	}
	if got := flagValue(args, "--turns"); got != "" {
		t.Errorf("dangling --turns = %q, want empty", got)
	}
}

func TestParseRunFlags(t *testing.T) {
	f, err := parseRunFlags([]string{"agenthost", "--seed", "42", "--turns=9", "--log"})
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}
	if f.Seed == nil || *f.Seed != 42 {
		t.Errorf("Seed = %v", f.Seed)
	}
	if f.Turns != 9 || !f.PrintLog || f.JSON {
		t.Errorf("flags = %+v", f)
	}

	for _, bad := range [][]string{
		{"agenthost", "--seed", "-1"},
		{"agenthost", "--turns", "zero"},
		{"agenthost", "--turns", "0"},
	} {
		if _, err := parseRunFlags(bad); err == nil {
			t.Errorf("parseRunFlags(%v): expected error", bad[1:])
		}
	}
}

func TestLoadRolesFallsBackToBuiltin(t *testing.T) {
	cfg := testConfig(t)
	roles, err := loadRoles(cfg, discardLogger())
	if err != nil {
		t.Fatalf("loadRoles: %v", err)
	}
	if !roles.Builtin {
		t.Error("expected builtin roles")
	}
	if got := len(roles.Registry.Roles()); got != 3 {
		t.Errorf("registered %d roles, want 3", got)
	}
	if !roles.Compat.Allows(domain.RoleAggressor, domain.RoleDefender) {
		t.Error("aggressor should target defender")
	}
}

func TestLoadRolesFromDirectory(t *testing.T) {
	cfg := testConfig(t)
	writeRole(t, cfg.Roles.Dirs[0], "healer", `
name: healer
behavior: defender
effects: [restore]
targets: [healer]
`)
	roles, err := loadRoles(cfg, discardLogger())
	if err != nil {
		t.Fatalf("loadRoles: %v", err)
	}
	if roles.Builtin {
		t.Error("manifests were found, builtin roles should not be used")
	}
	if got := roles.Registry.Roles(); len(got) != 1 || got[0] != "healer" {
		t.Errorf("roles = %v", got)
	}
}

func TestLoadRolesWithoutBuiltin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roles.Builtin = false
	if _, err := loadRoles(cfg, discardLogger()); err == nil {
		t.Error("expected error when no manifests exist and builtin roles are off")
	}
}

func TestLoadRolesDeniedEffect(t *testing.T) {
	cfg := testConfig(t)
	cfg.Effects.Deny = []string{"infect"}
	_, err := loadRoles(cfg, discardLogger())
	if err == nil {
		t.Fatal("expected the aggressor's infect grant to be refused")
	}
}

func TestSeedPopulationUnknownRole(t *testing.T) {
	roles, err := loadRoles(testConfig(t), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	_, err = seedPopulation(roles.Registry, map[string]int{"defender": 1, "wizard": 2, "ghost": 1})
	if !errors.Is(err, domain.ErrUnknownRole) {
		t.Fatalf("err = %v, want ErrUnknownRole", err)
	}
	if !strings.Contains(err.Error(), "ghost, wizard") {
		t.Errorf("error should list unknown roles sorted: %v", err)
	}
}

func TestRunSimulationIsReproducible(t *testing.T) {
	cfg := testConfig(t)
	c, cleanup, err := initComponents(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("initComponents: %v", err)
	}
	defer cleanup()

	p := runParams{Seed: 99, Turns: 40, Population: cfg.Simulation.Population}
	first, err := runSimulation(context.Background(), c, p)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := runSimulation(context.Background(), c, p)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Log) != 40 {
		t.Fatalf("log has %d lines, want 40", len(first.Log))
	}
	if strings.Join(first.Log, "\n") != strings.Join(second.Log, "\n") {
		t.Error("same seed produced different logs")
	}
	if first.Summary.RunID == second.Summary.RunID {
		t.Error("run IDs should differ between runs")
	}
	for i := range first.Population {
		if first.Population[i] != second.Population[i] {
			t.Errorf("agent %d differs: %+v vs %+v", i, first.Population[i], second.Population[i])
		}
	}
}

func TestRunSimulationUnknownPopulationRole(t *testing.T) {
	cfg := testConfig(t)
	c, cleanup, err := initComponents(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	_, err = runSimulation(context.Background(), c, runParams{Seed: 1, Turns: 1, Population: map[string]int{"wizard": 1}})
	if !errors.Is(err, domain.ErrUnknownRole) {
		t.Fatalf("err = %v, want ErrUnknownRole", err)
	}

	// The failed run released the scheduler slot.
	if _, err := runSimulation(context.Background(), c, runParams{Seed: 1, Turns: 1, Population: cfg.Simulation.Population}); err != nil {
		t.Fatalf("run after failure: %v", err)
	}
}

func TestRunSimulationInterrupted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.TurnsPerSecond = 20
	cfg.Simulation.Burst = 1
	c, cleanup, err := initComponents(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(150*time.Millisecond, cancel)
	res, err := runSimulation(ctx, c, runParams{Seed: 1, Turns: 1000, Population: cfg.Simulation.Population})
	if err == nil {
		t.Fatal("expected the paced run to be interrupted")
	}
	if !isInterrupted(ctx, err) {
		t.Errorf("isInterrupted = false for %v", err)
	}
	if res == nil || res.Summary.Turns >= 1000 {
		t.Errorf("expected a partial result, got %+v", res)
	}
}

func TestRunWithAuditAndStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	cfg.Store.Enabled = true
	ctx := context.Background()

	c, cleanup, err := initComponents(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("initComponents: %v", err)
	}
	res, err := runSimulation(ctx, c, runParams{Seed: 5, Turns: 25, Population: cfg.Simulation.Population})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}

	var out bytes.Buffer
	if err := showRun(ctx, &out, c.store, res.Summary.RunID); err != nil {
		t.Fatalf("showRun: %v", err)
	}
	for _, line := range res.Log {
		if !strings.Contains(out.String(), line) {
			t.Errorf("stored log is missing %q", line)
			break
		}
	}

	out.Reset()
	if err := listRuns(ctx, &out, c.store, 10); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	if !strings.Contains(out.String(), res.Summary.RunID) {
		t.Errorf("listRuns output missing run: %s", out.String())
	}
	cleanup()

	registered, err := security.ReadAuditLog(cfg.Audit.Path, func(e domain.AuditEvent) bool {
		return e.Type == domain.AuditRoleRegistered
	})
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(registered) != 3 {
		t.Errorf("got %d role_registered events, want 3", len(registered))
	}
	granted, err := security.ReadAuditLog(cfg.Audit.Path, func(e domain.AuditEvent) bool {
		return e.Type == domain.AuditCreateGranted
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(granted) < 9 {
		t.Errorf("got %d create_granted events, want at least the 9 seeded agents", len(granted))
	}

	out.Reset()
	if err := verifyAudit(&out, cfg.Audit.Path); err != nil {
		t.Fatalf("verifyAudit: %v", err)
	}
	if !strings.Contains(out.String(), "entries verified") {
		t.Errorf("verify output: %s", out.String())
	}
}

func TestInitComponentsBadStorePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = true
	cfg.Store.Path = filepath.Join(t.TempDir(), "missing", "dir", "runs.db")

	c, cleanup, err := initComponents(context.Background(), cfg, discardLogger())
	if err == nil {
		cleanup()
		t.Fatal("expected store error")
	}
	if c != nil || cleanup != nil {
		t.Error("failed init should return nothing to clean up")
	}
}

func TestRenderReport(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &runResult{
		Summary: domain.RunSummary{
			RunID: "01TEST", Seed: 3, Turns: 10, Succeeded: 6, Rejected: 4, Population: 3,
			StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
			Quarantined: []domain.Role{domain.RoleDisguisedDefender},
		},
		Population: []domain.AgentView{
			{Seq: 0, Role: domain.RoleDefender, Vitality: domain.Alive, Energy: 90},
			{Seq: 1, Role: domain.RoleDefender, Vitality: domain.Infected, Energy: 40},
			{Seq: 2, Role: domain.RoleAggressor, Vitality: domain.Dead, Energy: 0},
		},
	}
	out := renderReport(res)
	for _, want := range []string{"run 01TEST", "6 succeeded, 4 rejected", "1.5s", "defender", "aggressor", "65.0", "quarantined", "disguised_defender"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReportEmptyPopulation(t *testing.T) {
	out := renderReport(&runResult{})
	if !strings.Contains(out, "(no agents)") {
		t.Errorf("report = %s", out)
	}
}

func TestPrintResultJSON(t *testing.T) {
	var out bytes.Buffer
	res := &runResult{Summary: domain.RunSummary{RunID: "r1", Turns: 2}, Log: []string{"turn=1", "turn=2"}}
	if err := printResult(&out, res, runFlags{JSON: true, PrintLog: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"run_id": "r1"`) || !strings.HasSuffix(out.String(), "turn=1\nturn=2\n") {
		t.Errorf("output = %s", out.String())
	}
}

func TestPrintRoles(t *testing.T) {
	roles, err := loadRoles(testConfig(t), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	printRoles(&out, roles)
	text := out.String()
	for _, want := range []string{"aggressor", "drain,infect", "defender,disguised_defender", "builtin roles"} {
		if !strings.Contains(text, want) {
			t.Errorf("roles output missing %q:\n%s", want, text)
		}
	}
}

func TestPrintAudit(t *testing.T) {
	var out bytes.Buffer
	printAudit(&out, []domain.AuditEvent{{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:      domain.AuditCreateDenied,
		Actor:     "disguised_defender",
		Resource:  "aggressor",
		Outcome:   "denied",
		Detail:    map[string]string{"reason": "policy", "depth": "1"},
	}})
	text := out.String()
	if !strings.Contains(text, "create_denied") || !strings.Contains(text, "depth=1 reason=policy") {
		t.Errorf("audit output:\n%s", text)
	}
}

func TestRunTimeout(t *testing.T) {
	if got := runTimeout(100, 0); got != 0 {
		t.Errorf("unpaced timeout = %v, want 0", got)
	}
	if got := runTimeout(100, 10); got != 70*time.Second {
		t.Errorf("paced timeout = %v, want 70s", got)
	}
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		asJSON bool
		want   string
	}{
		{"coded", domain.NewDomainError("Scheduler.Run", domain.ErrInvalidState, "torn down"), false, "[INVALID_STATE]"},
		{"uncoded", errors.New("disk on fire"), false, "run: disk on fire\n"},
		{"json", fmt.Errorf("roles: %w", domain.ErrManifest), true, `"code":"MANIFEST"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			reportError(&out, "run", tt.err, tt.asJSON)
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("reportError = %q, want it to contain %q", out.String(), tt.want)
			}
		})
	}
}

type failingAudit struct{}

func (failingAudit) Log(context.Context, domain.AuditEvent) error { return domain.ErrAuditWrite }
func (failingAudit) Close() error                                 { return nil }

func TestAuditRegistrationsWarnsOnFailure(t *testing.T) {
	cfg := testConfig(t)
	roles, err := loadRoles(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	auditRegistrations(context.Background(), failingAudit{}, roles, log)

	if got := strings.Count(logs.String(), "audit write failed"); got != len(roles.Manifests) {
		t.Errorf("got %d warnings, want %d:\n%s", got, len(roles.Manifests), logs.String())
	}
}
