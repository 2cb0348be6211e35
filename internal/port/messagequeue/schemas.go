package messagequeue

import "time"

// RunStartedPayload is the schema for seqruns.started messages.
type RunStartedPayload struct {
	RunID       string    `json:"run_id"`
	Sequence    string    `json:"sequence"`
	Target      string    `json:"target"`
	Group       string    `json:"group"`
	TotalSteps  int       `json:"total_steps"`
	RetriedFrom string    `json:"retried_from,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// RunStepPayload is the schema for seqruns.step messages, published
// once per resolved step.
type RunStepPayload struct {
	RunID     string `json:"run_id"`
	Sequence  string `json:"sequence"`
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StepOutcomePayload is one step's resolution inside a run summary.
type StepOutcomePayload struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	JobID    string `json:"job_id,omitempty"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// RunCompletedPayload is the schema for seqruns.completed messages:
// the durable terminal summary of one run.
type RunCompletedPayload struct {
	RunID          string               `json:"run_id"`
	Sequence       string               `json:"sequence"`
	Target         string               `json:"target"`
	Status         string               `json:"status"`
	Completed      int                  `json:"completed"`
	Failed         int                  `json:"failed"`
	Skipped        int                  `json:"skipped"`
	FactsCollected int                  `json:"facts_collected"`
	Outcomes       []StepOutcomePayload `json:"outcomes"`
	Error          string               `json:"error,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	CompletedAt    time.Time            `json:"completed_at"`
}
