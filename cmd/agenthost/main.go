package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"agenthost/internal/domain"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "run"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(ctx, os.Stdout)
	case "serve":
		err = serveCommand(ctx)
	case "roles":
		err = rolesCommand(os.Stdout)
	case "validate":
		err = validateCommand(os.Stdout)
	case "audit":
		err = auditCommand(os.Stdout)
	case "runs":
		err = runsCommand(ctx, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agenthost --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		reportError(os.Stderr, cmd, err, hasFlag(os.Args, "--json"))
		os.Exit(1)
	}
}

// cmdError is the --json form of a failed command.
type cmdError struct {
	Command string           `json:"command"`
	Error   string           `json:"error"`
	Code    domain.ErrorCode `json:"code"`
}

// reportError prints err with its error code, as JSON when asJSON is set.
func reportError(w io.Writer, cmd string, err error, asJSON bool) {
	code := domain.ErrorCodeOf(err)
	if asJSON {
		json.NewEncoder(w).Encode(cmdError{Command: cmd, Error: err.Error(), Code: code})
		return
	}
	if code == domain.CodeUnknown {
		fmt.Fprintf(w, "%s: %v\n", cmd, err)
		return
	}
	fmt.Fprintf(w, "%s: %v [%s]\n", cmd, err, code)
}

func showUsage() {
	fmt.Println(`agenthost - sandboxed role extensions on a turn-based scheduler

USAGE:
    agenthost [COMMAND] [FLAGS]

COMMANDS:
    run         Populate, run the configured number of turns and print a report
    serve       Repeat runs on the configured schedule until interrupted;
                streams events over WebSocket when serve.listen is set
    roles       List registered roles, their grants and whom they may target
    validate    Validate config and role manifests without running
    audit       Print the audit trail
                Flags: --type TYPE, --actor ROLE, --verify
    runs        Inspect stored runs
                Subcommands: list, show <run-id>

    (no command) - same as run

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./agenthost.yaml)
    --seed N           Override simulation.seed
    --turns N          Override simulation.turns
    --log              Print the full turn log after the report
    --json             Print the run summary as JSON instead of a report

CONFIGURATION:
    Config file: ./agenthost.yaml (missing file = defaults)
    Environment: AGENTHOST_* variables override config

EXAMPLES:
    agenthost --seed 42 --turns 100 --log
    agenthost roles
    agenthost serve --config /etc/agenthost.yaml
    agenthost runs show 01J...`)
}

func configPath() string {
	if p := flagValue(os.Args, "--config"); p != "" {
		return p
	}
	if p := os.Getenv("AGENTHOST_CONFIG"); p != "" {
		return p
	}
	return "agenthost.yaml"
}

// flagValue returns the value of "--name value" or "--name=value" in args.
func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}

// runFlags holds the per-invocation overrides of the run command.
type runFlags struct {
	Seed     *uint64
	Turns    int
	PrintLog bool
	JSON     bool
}

func parseRunFlags(args []string) (runFlags, error) {
	var f runFlags
	if v := flagValue(args, "--seed"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("--seed: %w", err)
		}
		f.Seed = &n
	}
	if v := flagValue(args, "--turns"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("--turns: %w", err)
		}
		if n <= 0 {
			return f, fmt.Errorf("--turns must be > 0")
		}
		f.Turns = n
	}
	f.PrintLog = hasFlag(args, "--log")
	f.JSON = hasFlag(args, "--json")
	return f, nil
}
