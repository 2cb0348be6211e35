package run

import (
	"fmt"

	"github.com/halcyonsec/OpForge/internal/domain"
)

// validStatuses enumerates all valid run statuses.
var validStatuses = map[Status]bool{
	StatusRunning:         true,
	StatusCompleted:       true,
	StatusPartiallyFailed: true,
	StatusAborted:         true,
	StatusCancelled:       true,
	StatusError:           true,
}

// validStepStatuses enumerates all valid step resolutions.
var validStepStatuses = map[StepStatus]bool{
	StepCompleted: true,
	StepSkipped:   true,
	StepFailed:    true,
}

// Validate checks that a Run has all required fields and valid values.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Sequence == "" {
		return fmt.Errorf("sequence is required")
	}
	if r.Status != "" && !validStatuses[r.Status] {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.TotalSteps < 0 {
		return fmt.Errorf("total_steps must be non-negative")
	}
	if len(r.Outcomes) > r.TotalSteps {
		return fmt.Errorf("more outcomes than steps")
	}
	for _, o := range r.Outcomes {
		if o.Status != "" && !validStepStatuses[o.Status] {
			return fmt.Errorf("step %d: invalid status %q", o.Index, o.Status)
		}
		if o.Index < 0 || o.Index >= r.TotalSteps {
			return fmt.Errorf("step %d: index out of range", o.Index)
		}
	}
	return nil
}

// Validate checks that a StartRequest has all required fields.
func (r *StartRequest) Validate() error {
	if r.Sequence == "" {
		return fmt.Errorf("%w: sequence is required", domain.ErrValidation)
	}
	if r.Target.Name == "" {
		return fmt.Errorf("%w: target.name is required", domain.ErrValidation)
	}
	return nil
}
