package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobRunRepository is the durable store for JobRun rows: append-mostly,
// written by exactly one Task Runner per row, and mutated at most once
// after insert (the terminal status transition).
type JobRunRepository struct {
	pool *pgxpool.Pool
}

func NewJobRunRepository(pool *pgxpool.Pool) *JobRunRepository {
	return &JobRunRepository{pool: pool}
}

// Create inserts a JobRun with status=running and the given params snapshot.
func (r *JobRunRepository) Create(ctx context.Context, taskName string, params map[string]any, startedAt time.Time) (*domain.JobRun, error) {
	query := `
		INSERT INTO job_runs (task_name, params, status, started_at)
		VALUES ($1, $2, 'running', $3)
		RETURNING id, task_name, params, status, counters, error, started_at, finished_at`

	row := r.pool.QueryRow(ctx, query, taskName, params, startedAt)
	return scanJobRun(row)
}

// Complete sets status=ok, persists counters, and stamps finished_at.
func (r *JobRunRepository) Complete(ctx context.Context, id string, counters map[string]float64, finishedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE job_runs SET status = 'ok', counters = $2, finished_at = $3 WHERE id = $1`,
		id, counters, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("complete job run: %w", err)
	}
	return nil
}

// Fail sets status=error, records the error text, and stamps finished_at.
func (r *JobRunRepository) Fail(ctx context.Context, id, errText string, finishedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE job_runs SET status = 'error', error = $2, finished_at = $3 WHERE id = $1`,
		id, errText, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("fail job run: %w", err)
	}
	return nil
}

// LatestByTaskName returns the most recent JobRun for taskName, or
// domain.ErrJobRunNotFound if none exists — used for "last run" badges in
// list/catalog and for the Scheduler Loop's dependency-recency gate.
func (r *JobRunRepository) LatestByTaskName(ctx context.Context, taskName string) (*domain.JobRun, error) {
	query := `
		SELECT id, task_name, params, status, counters, error, started_at, finished_at
		FROM job_runs
		WHERE task_name = $1
		ORDER BY started_at DESC
		LIMIT 1`

	row := r.pool.QueryRow(ctx, query, taskName)
	return scanJobRun(row)
}

// ListByTaskName returns up to limit JobRuns for taskName, most recent first.
func (r *JobRunRepository) ListByTaskName(ctx context.Context, taskName string, limit int) ([]*domain.JobRun, error) {
	query := `
		SELECT id, task_name, params, status, counters, error, started_at, finished_at
		FROM job_runs
		WHERE task_name = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, taskName, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.JobRun
	for rows.Next() {
		jr, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, jr)
	}
	return runs, nil
}

func scanJobRun(row rowScanner) (*domain.JobRun, error) {
	var jr domain.JobRun
	err := row.Scan(
		&jr.ID, &jr.TaskName, &jr.Params, &jr.Status, &jr.Counters, &jr.Error, &jr.StartedAt, &jr.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobRunNotFound
		}
		return nil, fmt.Errorf("scan job run: %w", err)
	}
	return &jr, nil
}
