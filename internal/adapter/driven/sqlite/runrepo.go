package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Upsert stores or replaces a run together with its step results.
// Run header and steps are written in one transaction.
func (r *RunRepo) Upsert(ctx context.Context, run model.SyncRun) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert run %q: %w", run.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var finishedAt any
	if !run.FinishedAt.IsZero() {
		finishedAt = formatTime(run.FinishedAt)
	}

	const runQuery = `INSERT OR REPLACE INTO sync_runs
		(id, trigger_kind, status, started_at, finished_at, error,
		 records_seen, records_created, records_updated, records_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, runQuery,
		run.ID,
		string(run.Trigger),
		string(run.Status),
		formatTime(run.StartedAt),
		finishedAt,
		run.Error,
		run.Stats.RecordsSeen,
		run.Stats.RecordsCreated,
		run.Stats.RecordsUpdated,
		run.Stats.RecordsFailed,
	)
	if err != nil {
		return fmt.Errorf("upsert run %q: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear steps for run %q: %w", run.ID, err)
	}

	// seq preserves pipeline order on read-back; skipped steps carry a zero
	// started_at, so timestamps cannot be used for ordering.
	const stepQuery = `INSERT INTO run_steps (run_id, seq, name, status, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	for i, step := range run.Steps {
		_, err := tx.ExecContext(ctx, stepQuery,
			run.ID,
			i,
			string(step.Name),
			string(step.Status),
			formatTime(step.StartedAt),
			step.Duration.Milliseconds(),
			step.Error,
		)
		if err != nil {
			return fmt.Errorf("insert step %q for run %q: %w", step.Name, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert run %q: %w", run.ID, err)
	}
	return nil
}

// GetByID retrieves a run with its steps. Returns (nil, nil) when no run with
// that id exists.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.SyncRun, error) {
	const query = `SELECT id, trigger_kind, status, started_at, finished_at, error,
		records_seen, records_created, records_updated, records_failed
		FROM sync_runs WHERE id = ?`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %q: %w", id, err)
	}

	steps, err := r.stepsForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// ListRecent returns up to limit runs ordered by start time, newest first.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	const query = `SELECT id, trigger_kind, status, started_at, finished_at, error,
		records_seen, records_created, records_updated, records_failed
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []model.SyncRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		steps, err := r.stepsForRun(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}

	return runs, nil
}

// stepsForRun loads the step results of one run in execution order.
func (r *RunRepo) stepsForRun(ctx context.Context, runID string) ([]model.StepResult, error) {
	const query = `SELECT name, status, started_at, duration_ms, error
		FROM run_steps WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.Reader.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps for run %q: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	steps := []model.StepResult{}
	for rows.Next() {
		var step model.StepResult
		var startedAt string
		var durationMS int64
		if err := rows.Scan(&step.Name, &step.Status, &startedAt, &durationMS, &step.Error); err != nil {
			return nil, fmt.Errorf("scan step for run %q: %w", runID, err)
		}
		step.RunID = runID
		step.StartedAt, err = parseTime(startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse step started_at for run %q: %w", runID, err)
		}
		step.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps for run %q: %w", runID, err)
	}

	return steps, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRun.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.SyncRun, error) {
	var run model.SyncRun
	var startedAt string
	var finishedAt sql.NullString
	err := row.Scan(
		&run.ID,
		&run.Trigger,
		&run.Status,
		&startedAt,
		&finishedAt,
		&run.Error,
		&run.Stats.RecordsSeen,
		&run.Stats.RecordsCreated,
		&run.Stats.RecordsUpdated,
		&run.Stats.RecordsFailed,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt, err = parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
	}

	return &run, nil
}
