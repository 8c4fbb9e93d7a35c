package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// RunStore persists the append-only run audit trail in Postgres.
type RunStore struct {
	pool querier
}

// NewRunStore constructs a RunStore over the shared pool.
func NewRunStore(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// CreateRun inserts a new automation run in running status.
func (s *RunStore) CreateRun(ctx context.Context, trigger recorder.RunTrigger, startedAt time.Time) (recorder.AutomationRun, error) {
	query := `
		INSERT INTO automation_runs (trigger, status, started_at)
		VALUES ($1, $2, $3)
		RETURNING id;
	`
	run := recorder.AutomationRun{
		Trigger:   trigger,
		Status:    recorder.RunStatusRunning,
		StartedAt: startedAt,
	}
	if err := s.pool.QueryRow(ctx, query, trigger, recorder.RunStatusRunning, startedAt).Scan(&run.ID); err != nil {
		return recorder.AutomationRun{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// CompleteRun finalizes an automation run with its terminal status and totals.
func (s *RunStore) CompleteRun(ctx context.Context, runID int64, status recorder.RunStatus, errText string, found, synced int, finishedAt time.Time) error {
	query := `
		UPDATE automation_runs
		SET status = $1, error_text = $2, liens_found = $3, liens_synced = $4, finished_at = $5
		WHERE id = $6;
	`
	tag, err := s.pool.Exec(ctx, query, status, errText, found, synced, finishedAt, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recorder.ErrNotFound
	}
	return nil
}

// CreateCountyRun inserts a county sub-run in running status.
func (s *RunStore) CreateCountyRun(ctx context.Context, runID, countyID int64, startedAt time.Time) (recorder.CountyRun, error) {
	query := `
		INSERT INTO county_runs (run_id, county_id, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
	`
	countyRun := recorder.CountyRun{
		RunID:     runID,
		CountyID:  countyID,
		Status:    recorder.RunStatusRunning,
		StartedAt: startedAt,
	}
	if err := s.pool.QueryRow(ctx, query, runID, countyID, recorder.RunStatusRunning, startedAt).Scan(&countyRun.ID); err != nil {
		return recorder.CountyRun{}, fmt.Errorf("create county run: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE automation_runs SET counties_run = counties_run + 1 WHERE id = $1;`, runID); err != nil {
		return recorder.CountyRun{}, fmt.Errorf("count county run: %w", err)
	}
	return countyRun, nil
}

// CompleteCountyRun finalizes one county sub-run.
func (s *RunStore) CompleteCountyRun(ctx context.Context, countyRunID int64, status recorder.RunStatus, errText string, found, processed int, finishedAt time.Time) error {
	query := `
		UPDATE county_runs
		SET status = $1, error_text = $2, found = $3, processed = $4, finished_at = $5
		WHERE id = $6;
	`
	tag, err := s.pool.Exec(ctx, query, status, errText, found, processed, finishedAt, countyRunID)
	if err != nil {
		return fmt.Errorf("complete county run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recorder.ErrNotFound
	}
	return nil
}

const runColumns = `id, trigger, status, started_at, finished_at, liens_found, liens_synced, counties_run, error_text`

// LatestRun returns the most recently started automation run.
func (s *RunStore) LatestRun(ctx context.Context) (recorder.AutomationRun, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs ORDER BY started_at DESC LIMIT 1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recorder.AutomationRun{}, recorder.ErrNotFound
		}
		return recorder.AutomationRun{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]recorder.AutomationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM automation_runs ORDER BY started_at DESC LIMIT $1;`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []recorder.AutomationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const countyRunColumns = `id, run_id, county_id, status, started_at, finished_at, found, processed, error_text`

// ListCountyRuns returns the county sub-runs of one automation run in
// start order.
func (s *RunStore) ListCountyRuns(ctx context.Context, runID int64) ([]recorder.CountyRun, error) {
	query := `SELECT ` + countyRunColumns + ` FROM county_runs WHERE run_id = $1 ORDER BY started_at ASC;`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list county runs: %w", err)
	}
	defer rows.Close()

	var countyRuns []recorder.CountyRun
	for rows.Next() {
		var countyRun recorder.CountyRun
		if err := rows.Scan(
			&countyRun.ID,
			&countyRun.RunID,
			&countyRun.CountyID,
			&countyRun.Status,
			&countyRun.StartedAt,
			&countyRun.FinishedAt,
			&countyRun.Found,
			&countyRun.Processed,
			&countyRun.ErrorText,
		); err != nil {
			return nil, fmt.Errorf("scan county run row: %w", err)
		}
		countyRuns = append(countyRuns, countyRun)
	}
	return countyRuns, rows.Err()
}

func scanRun(row pgx.Row) (recorder.AutomationRun, error) {
	var run recorder.AutomationRun
	err := row.Scan(
		&run.ID,
		&run.Trigger,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.LiensFound,
		&run.LiensSynced,
		&run.CountiesRun,
		&run.ErrorText,
	)
	return run, err
}

var _ recorder.RunStore = (*RunStore)(nil)
