package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonsec/OpForge/internal/domain/event"
	"github.com/halcyonsec/OpForge/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the run_events table. The database
// assigns the ID and timestamp, which are written back to ev.
func (s *EventStore) Append(ctx context.Context, ev *event.RunEvent) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO run_events (run_id, sequence_name, event_type, step_index, payload, version)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		ev.RunID, ev.Sequence, string(ev.Type), ev.StepIndex, ev.Payload, ev.Version)
	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for run_events queries.
const eventColumns = `id, run_id, sequence_name, event_type, step_index, payload, version, created_at`

func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.RunEvent) error {
	return scanner.Scan(
		&ev.ID, &ev.RunID, &ev.Sequence, &ev.Type, &ev.StepIndex,
		&ev.Payload, &ev.Version, &ev.CreatedAt,
	)
}

// LoadByRun returns events for the given run, ordered by version
// ascending. The filter narrows by type and time window.
func (s *EventStore) LoadByRun(ctx context.Context, runID string, filter eventstore.Filter) ([]event.RunEvent, error) {
	args := []any{runID}
	conditions := []string{"run_id = $1"}
	argIdx := 2

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", argIdx))
		args = append(args, types)
		argIdx++
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIdx))
		args = append(args, *filter.After)
		argIdx++
	}
	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *filter.Before)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM run_events WHERE %s ORDER BY version ASC`,
		eventColumns, strings.Join(conditions, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events by run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.RunEvent
	for rows.Next() {
		var ev event.RunEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stats returns aggregate statistics for a run's event trail.
func (s *EventStore) Stats(ctx context.Context, runID string) (*eventstore.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, COUNT(*) FROM run_events WHERE run_id = $1 GROUP BY event_type`, runID)
	if err != nil {
		return nil, fmt.Errorf("event stats counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	var total int
	var attempts int
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event stat: %w", err)
		}
		counts[eventType] = count
		total += count
		if eventType == string(event.TypeStepAttempt) {
			attempts = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Duration: time between first and last event.
	var durationMS int64
	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(EXTRACT(EPOCH FROM (MAX(created_at) - MIN(created_at))) * 1000, 0)::bigint
		 FROM run_events WHERE run_id = $1`, runID).Scan(&durationMS)
	if err != nil {
		return nil, fmt.Errorf("event stats duration: %w", err)
	}

	return &eventstore.Summary{
		TotalEvents: total,
		EventCounts: counts,
		DurationMS:  durationMS,
		Attempts:    attempts,
	}, nil
}

// Prune deletes events recorded before cutoff.
func (s *EventStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM run_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}
