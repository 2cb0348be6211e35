// Package jobapi defines the port interface for the remote job API that
// executes adversary-emulation jobs (operations, in CALDERA terms).
package jobapi

import (
	"context"
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/facts"
)

// Remote lifecycle states with special meaning. Anything not listed
// here is still in flight.
const (
	StateFinished   = "finished"
	StateCleanup    = "cleanup"
	StateOutOfTime  = "out_of_time"
	StateRunOneLink = "run_one_link"
)

// Job is a handle to one remote job.
type Job struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Disposition classifies a lifecycle state for the step state machine.
type Disposition string

const (
	DispositionPending           Disposition = "pending"
	DispositionSucceeded         Disposition = "succeeded"
	DispositionTimedOut          Disposition = "timed_out"
	DispositionNeedsIntervention Disposition = "needs_intervention"
)

// Classify maps a remote lifecycle state to its disposition.
func Classify(state string) Disposition {
	switch state {
	case StateFinished, StateCleanup:
		return DispositionSucceeded
	case StateOutOfTime:
		return DispositionTimedOut
	case StateRunOneLink:
		return DispositionNeedsIntervention
	default:
		return DispositionPending
	}
}

// Client is the port interface for the remote job API. All methods may
// fail with a *TransportError (network, request timeout, 5xx) or a
// *RejectedError (4xx); see errors.go.
type Client interface {
	// Submit creates a job from a template and returns its ID.
	Submit(ctx context.Context, template map[string]any) (string, error)

	// Poll returns a single lifecycle snapshot. It never blocks waiting
	// for a state change.
	Poll(ctx context.Context, jobID string) (*Job, error)

	// Report returns the facts a job discovered. Only meaningful after
	// Poll reported a success state.
	Report(ctx context.Context, jobID string) ([]facts.Fact, error)

	// Cancel asks the remote to stop a job. Best effort.
	Cancel(ctx context.Context, jobID string) error
}
