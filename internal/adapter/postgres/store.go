package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const runColumns = `id, sequence_name, target_name, target_group, status, COALESCE(retried_from::text, ''), total_steps, facts_collected, error, started_at, completed_at`

// CreateRun inserts a new run record. The caller assigns the ID.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	const q = `INSERT INTO runs
		(id, sequence_name, target_name, target_group, status, retried_from, total_steps, facts_collected, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, q,
		r.ID, r.Sequence, r.Target.Name, r.Target.Group, string(r.Status),
		nullIfEmpty(r.RetriedFrom), r.TotalSteps, r.FactsCollected, r.Error, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, including its step outcomes.
func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	r, err := scanRun(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}

	outcomes, err := s.ListStepOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Outcomes = orEmpty(outcomes)
	return &r, nil
}

// ListRuns returns runs matching the filter, newest first. Step
// outcomes are not attached; use GetRun for the full record.
func (s *Store) ListRuns(ctx context.Context, filter database.RunFilter) ([]run.Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs`

	var conditions []string
	var args []any
	argIdx := 1

	if filter.Sequence != "" {
		conditions = append(conditions, fmt.Sprintf("sequence_name = $%d", argIdx))
		args = append(args, filter.Sequence)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates only the status column.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status run.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2 WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update run status %s", id)
}

// FinishRun records the terminal snapshot of a run: final status, facts
// count, error and completion time, plus every step outcome.
func (s *Store) FinishRun(ctx context.Context, r *run.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE runs SET status = $2, facts_collected = $3, error = $4, completed_at = $5 WHERE id = $1`,
		r.ID, string(r.Status), r.FactsCollected, r.Error, nullTime(derefTime(r.CompletedAt)))
	if err := execExpectOne(tag, err, "finish run %s", r.ID); err != nil {
		return err
	}

	for _, o := range r.Outcomes {
		if _, err := tx.Exec(ctx, upsertStepQuery,
			r.ID, o.Index, o.Name, o.JobID, string(o.Status), o.Attempts, o.Error); err != nil {
			return fmt.Errorf("finish run %s: store outcome %d: %w", r.ID, o.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("finish run %s: commit: %w", r.ID, err)
	}
	return nil
}

const upsertStepQuery = `INSERT INTO run_steps
	(run_id, step_index, step_name, job_id, status, attempts, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id, step_index) DO UPDATE SET
		step_name = EXCLUDED.step_name, job_id = EXCLUDED.job_id, status = EXCLUDED.status,
		attempts = EXCLUDED.attempts, error = EXCLUDED.error, updated_at = now()`

// UpsertStepOutcome inserts or replaces the outcome for one step of a run.
func (s *Store) UpsertStepOutcome(ctx context.Context, runID string, o run.StepOutcome) error {
	_, err := s.pool.Exec(ctx, upsertStepQuery,
		runID, o.Index, o.Name, o.JobID, string(o.Status), o.Attempts, o.Error)
	if err != nil {
		return fmt.Errorf("upsert step outcome %s/%d: %w", runID, o.Index, err)
	}
	return nil
}

// ListStepOutcomes returns the step outcomes of a run in step order.
func (s *Store) ListStepOutcomes(ctx context.Context, runID string) ([]run.StepOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step_index, step_name, job_id, status, attempts, error
		 FROM run_steps WHERE run_id = $1 ORDER BY step_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list step outcomes %s: %w", runID, err)
	}
	defer rows.Close()

	var outcomes []run.StepOutcome
	for rows.Next() {
		var o run.StepOutcome
		if err := rows.Scan(&o.Index, &o.Name, &o.JobID, &o.Status, &o.Attempts, &o.Error); err != nil {
			return nil, fmt.Errorf("scan step outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// PruneRuns deletes terminal runs completed before cutoff. Step
// outcomes go with them via the foreign key cascade.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM runs WHERE status <> $1 AND completed_at IS NOT NULL AND completed_at < $2`,
		string(run.StatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row scannable) (run.Run, error) {
	var r run.Run
	err := row.Scan(
		&r.ID, &r.Sequence, &r.Target.Name, &r.Target.Group, &r.Status,
		&r.RetriedFrom, &r.TotalSteps, &r.FactsCollected, &r.Error,
		&r.StartedAt, &r.CompletedAt,
	)
	return r, err
}

// derefTime unwraps an optional completion time for nullTime.
func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
