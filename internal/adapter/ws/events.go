package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventRunStatus = "seqrun.status"
	EventRunStep   = "seqrun.step"
)

// RunStatusEvent is broadcast when a run starts or reaches a terminal
// status.
type RunStatusEvent struct {
	RunID          string `json:"run_id"`
	Sequence       string `json:"sequence"`
	Target         string `json:"target"`
	Status         string `json:"status"`
	FactsCollected int    `json:"facts_collected"`
	Error          string `json:"error,omitempty"`
}

// RunStepEvent is broadcast when a step of a running sequence resolves.
type RunStepEvent struct {
	RunID     string `json:"run_id"`
	Sequence  string `json:"sequence"`
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BroadcastEvent marshals a typed event and fans it out, scoped to the
// run the payload belongs to so ?run= subscribers only see their run.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, runScope(payload), Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// runScope extracts the run ID an event belongs to. Unknown payload
// shapes are unscoped and reach only unfiltered clients.
func runScope(payload any) string {
	switch p := payload.(type) {
	case RunStatusEvent:
		return p.RunID
	case RunStepEvent:
		return p.RunID
	case *RunStatusEvent:
		return p.RunID
	case *RunStepEvent:
		return p.RunID
	default:
		return ""
	}
}
