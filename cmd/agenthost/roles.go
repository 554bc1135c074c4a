package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"agenthost/internal/domain"
	"agenthost/internal/host"
	"agenthost/internal/infra/config"
	"agenthost/internal/usecase/scheduling"
)

func rolesCommand(w io.Writer) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	roles, err := loadRoles(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	printRoles(w, roles)
	return nil
}

func printRoles(w io.Writer, roles *roleSet) {
	manifests := append([]host.RoleManifest(nil), roles.Manifests...)
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tBEHAVIOR\tEFFECTS\tINSTANTIABLE BY\tTARGETS")
	for _, m := range manifests {
		creators := "platform"
		if len(m.InstantiableBy) > 0 {
			creators = "platform," + strings.Join(m.InstantiableBy, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.Name, m.Behavior,
			orDash(strings.Join(m.Effects, ",")),
			creators,
			orDash(joinRoles(roles.Compat.Targets(domain.Role(m.Name)))),
		)
	}
	tw.Flush()
	if roles.Builtin {
		fmt.Fprintln(w, "\n(builtin roles; no manifests found in the configured role dirs)")
	}
}

// validateCommand checks the config, the role manifests and that every
// configured population role is registered, without running anything.
func validateCommand(w io.Writer) error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintf(w, "config %s: ok\n", path)

	roles, err := loadRoles(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "roles: %d registered\n", len(roles.Registry.Roles()))

	if _, err := seedPopulation(roles.Registry, cfg.Simulation.Population); err != nil {
		return fmt.Errorf("simulation.population: %w", err)
	}
	fmt.Fprintln(w, "population: ok")

	if _, err := scheduling.ParseSchedule(cfg.Serve.Schedule); err != nil {
		return fmt.Errorf("serve.schedule: %w", err)
	}
	fmt.Fprintln(w, "serve schedule: ok")
	return nil
}

func joinRoles(roles []domain.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
