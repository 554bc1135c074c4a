package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"agenthost/internal/domain"
	"agenthost/internal/usecase/simulation"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var vitalities = []domain.Vitality{domain.Alive, domain.Infected, domain.Dead}

// renderReport draws the run summary and the final census by role.
func renderReport(res *runResult) string {
	sum := res.Summary
	lines := []string{
		titleStyle.Render("run " + sum.RunID),
		field("seed", fmt.Sprint(sum.Seed)),
		field("turns", fmt.Sprintf("%d (%d succeeded, %d rejected)", sum.Turns, sum.Succeeded, sum.Rejected)),
		field("population", fmt.Sprint(sum.Population)),
		field("duration", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond).String()),
	}
	if len(sum.Quarantined) > 0 {
		lines = append(lines, field("quarantined", joinRoles(sum.Quarantined)))
	}
	header := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(header),
		boxStyle.Render(censusTable(res.Population)),
	)
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-11s", label)) + value
}

// censusTable renders one row per role with counts per vitality and the
// mean energy of the role's agents.
func censusTable(views []domain.AgentView) string {
	census := simulation.Census(views)
	energy := make(map[domain.Role]int)
	for _, v := range views {
		energy[v.Role] += v.Energy
	}

	roles := make([]domain.Role, 0, len(census))
	for role := range census {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	width := len("role")
	for _, r := range roles {
		width = max(width, len(r))
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-*s %8s %8s %8s %8s %8s", width, "role", "alive", "infected", "dead", "total", "energy")))
	for _, role := range roles {
		counts := census[role]
		total := 0
		for _, v := range vitalities {
			total += counts[v]
		}
		fmt.Fprintf(&b, "\n%-*s %8d %8d %8d %8d %8.1f", width, role,
			counts[domain.Alive], counts[domain.Infected], counts[domain.Dead], total,
			float64(energy[role])/float64(total))
	}
	if len(roles) == 0 {
		b.WriteString("\n(no agents)")
	}
	return b.String()
}
