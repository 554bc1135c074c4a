// Package store persists finished simulation runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"agenthost/internal/domain"
)

// SQLiteRunStore implements domain.RunStore using SQLite.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open run db: %v", domain.ErrStore, err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %v", domain.ErrStore, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate run db: %v", domain.ErrStore, err)
	}
	return &SQLiteRunStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			seed        TEXT NOT NULL,
			turns       INTEGER NOT NULL,
			succeeded   INTEGER NOT NULL,
			rejected    INTEGER NOT NULL,
			population  INTEGER NOT NULL,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			turn   INTEGER NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			line   TEXT NOT NULL,
			PRIMARY KEY (run_id, turn)
		);

		CREATE TABLE IF NOT EXISTS agents (
			run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq      INTEGER NOT NULL,
			id       TEXT NOT NULL,
			role     TEXT NOT NULL,
			vitality INTEGER NOT NULL,
			energy   INTEGER NOT NULL,
			pos_x    INTEGER NOT NULL,
			pos_y    INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// SaveRun writes the summary, the turn log and the final population in one
// transaction. Saving the same run twice fails.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, summary domain.RunSummary, log []domain.TurnRecord, population []domain.AgentView) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStore, err)
	}
	defer tx.Rollback()

	// The seed is a full uint64, which SQLite's signed INTEGER cannot hold.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, seed, turns, succeeded, rejected, population, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, fmt.Sprintf("%d", summary.Seed), summary.Turns, summary.Succeeded,
		summary.Rejected, summary.Population,
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: insert run %s: %v", domain.ErrStore, summary.RunID, err)
	}

	turnStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO turns (run_id, turn, status, reason, line) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: prepare turns: %v", domain.ErrStore, err)
	}
	defer turnStmt.Close()
	for _, rec := range log {
		if _, err := turnStmt.ExecContext(ctx,
			summary.RunID, rec.Turn, string(rec.Outcome.Status), string(rec.Outcome.Reason), rec.String(),
		); err != nil {
			return fmt.Errorf("%w: insert turn %d: %v", domain.ErrStore, rec.Turn, err)
		}
	}

	agentStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO agents (run_id, seq, id, role, vitality, energy, pos_x, pos_y)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare agents: %v", domain.ErrStore, err)
	}
	defer agentStmt.Close()
	for _, v := range population {
		if _, err := agentStmt.ExecContext(ctx,
			summary.RunID, v.Seq, v.ID.String(), string(v.Role), int(v.Vitality), v.Energy, v.Position.X, v.Position.Y,
		); err != nil {
			return fmt.Errorf("%w: insert agent %d: %v", domain.ErrStore, v.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStore, err)
	}
	return nil
}

const runColumns = "id, seed, turns, succeeded, rejected, population, started_at, finished_at"

// GetRun returns the summary of one run, or domain.ErrNotFound.
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get run %s: %v", domain.ErrStore, runID, err)
	}
	return sum, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", domain.ErrStore, err)
		}
		out = append(out, *sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", domain.ErrStore, err)
	}
	return out, nil
}

// TurnLog returns the rendered log lines of a run in turn order.
func (s *SQLiteRunStore) TurnLog(ctx context.Context, runID string) ([]string, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT line FROM turns WHERE run_id = ? ORDER BY turn", runID)
	if err != nil {
		return nil, fmt.Errorf("%w: turn log %s: %v", domain.ErrStore, runID, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", domain.ErrStore, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: turn log %s: %v", domain.ErrStore, runID, err)
	}
	return lines, nil
}

// Population returns the final population of a run in admission order.
func (s *SQLiteRunStore) Population(ctx context.Context, runID string) ([]domain.AgentView, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, id, role, vitality, energy, pos_x, pos_y FROM agents WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("%w: population %s: %v", domain.ErrStore, runID, err)
	}
	defer rows.Close()

	var views []domain.AgentView
	for rows.Next() {
		var (
			v        domain.AgentView
			id, role string
			vitality int
		)
		if err := rows.Scan(&v.Seq, &id, &role, &vitality, &v.Energy, &v.Position.X, &v.Position.Y); err != nil {
			return nil, fmt.Errorf("%w: scan agent: %v", domain.ErrStore, err)
		}
		if err := v.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("%w: agent %d id: %v", domain.ErrStore, v.Seq, err)
		}
		v.Role = domain.Role(role)
		v.Vitality = domain.Vitality(vitality)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: population %s: %v", domain.ErrStore, runID, err)
	}
	return views, nil
}

// DeleteRun removes a run with its turns and agents.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID)
	if err != nil {
		return fmt.Errorf("%w: delete run %s: %v", domain.ErrStore, runID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteRunStore) exists(ctx context.Context, runID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: lookup run %s: %v", domain.ErrStore, runID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunSummary, error) {
	var (
		sum                   domain.RunSummary
		seed                  string
		startedAt, finishedAt string
	)
	if err := row.Scan(&sum.RunID, &seed, &sum.Turns, &sum.Succeeded, &sum.Rejected,
		&sum.Population, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	if _, err := fmt.Sscanf(seed, "%d", &sum.Seed); err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	sum.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sum.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return &sum, nil
}
