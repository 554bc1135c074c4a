package domain

import (
	"context"
	"time"
)

// RunSummary describes one finished simulation run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Seed       uint64    `json:"seed"`
	Turns      int       `json:"turns"`
	Succeeded  int       `json:"succeeded"`
	Rejected   int       `json:"rejected"`
	Population int       `json:"population"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Quarantined lists roles whose circuit was open when the run ended.
	// Not persisted by RunStore.
	Quarantined []Role `json:"quarantined,omitempty"`
}

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, summary RunSummary, log []TurnRecord, population []AgentView) error
	GetRun(ctx context.Context, runID string) (*RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	TurnLog(ctx context.Context, runID string) ([]string, error)
	Population(ctx context.Context, runID string) ([]AgentView, error)
	Close() error
}
