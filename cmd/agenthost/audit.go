package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"agenthost/internal/domain"
	"agenthost/internal/infra/config"
	"agenthost/internal/security"
)

func auditCommand(w io.Writer) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if hasFlag(os.Args, "--verify") {
		return verifyAudit(w, cfg.Audit.Path)
	}
	typ := domain.AuditEventType(flagValue(os.Args, "--type"))
	actor := flagValue(os.Args, "--actor")

	events, err := security.ReadAuditLog(cfg.Audit.Path, func(e domain.AuditEvent) bool {
		if typ != "" && e.Type != typ {
			return false
		}
		return actor == "" || e.Actor == actor
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(w, "no audit log at %s\n", cfg.Audit.Path)
			return nil
		}
		return err
	}
	printAudit(w, events)
	return nil
}

func verifyAudit(w io.Writer, path string) error {
	n, err := security.VerifyAuditLog(path)
	if err != nil {
		if errors.Is(err, domain.ErrAuditTampered) {
			fmt.Fprintf(w, "audit log %s: %d entries intact before the break\n", path, n)
		}
		return err
	}
	fmt.Fprintf(w, "audit log %s: %d entries verified\n", path, n)
	return nil
}

func printAudit(w io.Writer, events []domain.AuditEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tACTOR\tRESOURCE\tOUTCOME\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339),
			e.Type,
			orDash(e.Actor),
			orDash(e.Resource),
			orDash(e.Outcome),
			orDash(formatDetail(e.Detail)),
		)
	}
	tw.Flush()
}

func formatDetail(detail map[string]string) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + detail[k]
	}
	return strings.Join(parts, " ")
}
