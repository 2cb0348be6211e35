// Package eventstore defines the port interface for the append-only
// run event store.
package eventstore

import (
	"context"
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/event"
)

// Filter controls which events are returned by LoadByRun.
type Filter struct {
	Types  []event.Type `json:"types,omitempty"`
	After  *time.Time   `json:"after,omitempty"`
	Before *time.Time   `json:"before,omitempty"`
}

// Summary contains aggregate stats for one run's trail.
type Summary struct {
	TotalEvents int            `json:"total_events"`
	EventCounts map[string]int `json:"event_counts"`
	DurationMS  int64          `json:"duration_ms"`
	Attempts    int            `json:"attempts"`
}

// Store is the port interface for appending and loading run events.
type Store interface {
	// Append persists a new event to the trail.
	Append(ctx context.Context, ev *event.RunEvent) error

	// LoadByRun returns events for the given run, ordered by version.
	LoadByRun(ctx context.Context, runID string, filter Filter) ([]event.RunEvent, error)

	// Stats returns aggregate statistics for a run's trail.
	Stats(ctx context.Context, runID string) (*Summary, error)

	// Prune deletes events recorded before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
