// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/run"
)

// RunFilter narrows ListRuns. Zero values mean "no constraint".
type RunFilter struct {
	Sequence string
	Status   run.Status
	Limit    int
}

// Store is the port interface for durable run records.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, r *run.Run) error
	GetRun(ctx context.Context, id string) (*run.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]run.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status run.Status) error
	// FinishRun records the terminal snapshot: status, facts count,
	// error and completion time, plus every step outcome.
	FinishRun(ctx context.Context, r *run.Run) error

	// Steps
	UpsertStepOutcome(ctx context.Context, runID string, o run.StepOutcome) error
	ListStepOutcomes(ctx context.Context, runID string) ([]run.StepOutcome, error)

	// PruneRuns deletes terminal runs whose completion time is before
	// cutoff and returns how many were removed.
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)
}
