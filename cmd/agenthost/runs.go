package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"agenthost/internal/adapter/store"
	"agenthost/internal/domain"
	"agenthost/internal/infra/config"
)

const defaultRunsListed = 20

func runsCommand(ctx context.Context, w io.Writer) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.Store.Enabled {
		return errors.New("the run store is disabled; set store.enabled in the config")
	}
	st, err := store.NewSQLiteRunStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	sub := "list"
	if len(os.Args) >= 3 && os.Args[2][0] != '-' {
		sub = os.Args[2]
	}
	switch sub {
	case "list":
		return listRuns(ctx, w, st, defaultRunsListed)
	case "show":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: agenthost runs show <run-id>")
		}
		return showRun(ctx, w, st, os.Args[3])
	default:
		return fmt.Errorf("unknown runs subcommand: %s", sub)
	}
}

func listRuns(ctx context.Context, w io.Writer, st domain.RunStore, limit int) error {
	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no stored runs")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSEED\tTURNS\tSUCCEEDED\tREJECTED\tPOPULATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Seed,
			r.Turns, r.Succeeded, r.Rejected, r.Population)
	}
	return tw.Flush()
}

// showRun prints a stored run the way the run command printed it live.
func showRun(ctx context.Context, w io.Writer, st domain.RunStore, runID string) error {
	sum, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	lines, err := st.TurnLog(ctx, runID)
	if err != nil {
		return err
	}
	pop, err := st.Population(ctx, runID)
	if err != nil {
		return err
	}
	return printResult(w, &runResult{Summary: *sum, Log: lines, Population: pop}, runFlags{
		PrintLog: true,
		JSON:     hasFlag(os.Args, "--json"),
	})
}
