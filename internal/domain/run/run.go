// Package run defines the sequence run entity: one execution instance
// of a sequence against a target, with per-step outcomes.
package run

import (
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/sequence"
)

// Status represents the current state of a run.
type Status string

const (
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed" // finished, but some steps failed or were skipped
	StatusAborted         Status = "aborted"          // a critical step failed
	StatusCancelled       Status = "cancelled"
	StatusError           Status = "error" // run-level fault, e.g. a bad spec or executor panic
)

// Terminal reports whether the run has finished in any way.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Retryable reports whether a run in this status may be retried.
// Completed and partially failed runs did their work; cancellation was
// an operator choice. Only aborted and errored runs re-execute.
func (s Status) Retryable() bool {
	return s == StatusAborted || s == StatusError
}

// StepStatus is the resolution of one step within a run.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped" // failed, but the step policy said to move on
	StepFailed    StepStatus = "failed"
)

// StepOutcome records how one step resolved. Attempts counts job
// submissions, including a fallback submission.
type StepOutcome struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	JobID    string     `json:"job_id,omitempty"`
	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// Run is one execution of a sequence. Outcomes are appended strictly in
// step order; after an abort no outcome exists for any later step.
type Run struct {
	ID             string          `json:"id"`
	Sequence       string          `json:"sequence"`
	Target         sequence.Target `json:"target"`
	Status         Status          `json:"status"`
	RetriedFrom    string          `json:"retried_from,omitempty"`
	TotalSteps     int             `json:"total_steps"`
	Outcomes       []StepOutcome   `json:"outcomes"`
	FactsCollected int             `json:"facts_collected"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// StartRequest holds the fields needed to start a new run.
type StartRequest struct {
	Sequence string          `json:"sequence"`
	Target   sequence.Target `json:"target"`
}

// Counts tallies outcomes by resolution.
type Counts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (r *Run) Counts() Counts {
	var c Counts
	for _, o := range r.Outcomes {
		switch o.Status {
		case StepCompleted:
			c.Completed++
		case StepFailed:
			c.Failed++
		case StepSkipped:
			c.Skipped++
		}
	}
	return c
}

// ResolveStatus maps the end-of-run tallies to a final status. Skipped
// steps count as failures here: a run that skipped anything did not
// fully complete.
func ResolveStatus(aborted bool, c Counts) Status {
	switch {
	case aborted:
		return StatusAborted
	case c.Failed+c.Skipped > 0:
		return StatusPartiallyFailed
	default:
		return StatusCompleted
	}
}

// Clone returns a deep copy safe to hand to readers while the executor
// keeps mutating the original.
func (r *Run) Clone() *Run {
	out := *r
	out.Outcomes = make([]StepOutcome, len(r.Outcomes))
	copy(out.Outcomes, r.Outcomes)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
