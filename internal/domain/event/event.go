// Package event defines the RunEvent domain entity: the append-only
// audit trail of a sequence run.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of run event.
type Type string

const (
	TypeRunStarted         Type = "run.started"
	TypeRunFinished        Type = "run.finished"
	TypeRunCancelRequested Type = "run.cancel_requested"

	TypeStepStarted  Type = "step.started"
	TypeStepAttempt  Type = "step.attempt"  // one job submission
	TypeStepFallback Type = "step.fallback" // fallback job substituted
	TypeStepResolved Type = "step.resolved" // terminal step outcome
)

// RunEvent is a single immutable entry in a run's audit trail.
// Version is a per-run monotonic counter assigned by the appender.
type RunEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Sequence  string          `json:"sequence"`
	Type      Type            `json:"type"`
	StepIndex *int            `json:"step_index,omitempty"` // nil for run-level events
	Payload   json.RawMessage `json:"payload"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}
