package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

func runCommand(ctx context.Context, w io.Writer) error {
	flags, err := parseRunFlags(os.Args)
	if err != nil {
		return err
	}
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

	p := paramsFromConfig(cfg)
	if flags.Seed != nil {
		p.Seed = *flags.Seed
	}
	if flags.Turns > 0 {
		p.Turns = flags.Turns
	}

	res, runErr := runSimulation(ctx, c, p)
	if runErr != nil && (res == nil || !isInterrupted(ctx, runErr)) {
		return runErr
	}
	if err := printResult(w, res, flags); err != nil {
		return err
	}
	if runErr != nil {
		log.Warn("run interrupted", "completed_turns", res.Summary.Turns, "requested_turns", p.Turns)
	}
	return nil
}

func printResult(w io.Writer, res *runResult, flags runFlags) error {
	if flags.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
	} else {
		fmt.Fprintln(w, renderReport(res))
	}
	if flags.PrintLog {
		for _, line := range res.Log {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
