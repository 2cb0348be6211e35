package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyonsec/OpForge/internal/adapter/otel"
	"github.com/halcyonsec/OpForge/internal/adapter/ws"
	"github.com/halcyonsec/OpForge/internal/domain/event"
	"github.com/halcyonsec/OpForge/internal/domain/facts"
	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/domain/sequence"
	"github.com/halcyonsec/OpForge/internal/port/messagequeue"
	"github.com/halcyonsec/OpForge/internal/port/notifier"
)

// persistTimeout bounds terminal persistence and fan-out, which run on
// a background context so cancelled runs still get their final state
// written.
const persistTimeout = 10 * time.Second

// execute drives one run through its steps in order. It is the only
// goroutine mutating the liveRun, always through update.
func (s *RunService) execute(ctx context.Context, l *liveRun, spec *sequence.Spec) {
	r := l.snapshot()
	ctx, span := otel.StartRunSpan(ctx, r.ID, r.Sequence, r.Target.Name)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("run executor panicked", "run_id", r.ID, "panic", rec)
			l.update(func(r *run.Run) {
				now := time.Now().UTC()
				r.Status = run.StatusError
				r.Error = fmt.Sprintf("internal error: %v", rec)
				r.CompletedAt = &now
			})
			s.finish(l)
		}
	}()

	collected := facts.NewStore()
	aborted := false
	cancelled := false
	abortErr := ""

	for i := range spec.Steps {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		step := spec.Steps[i]
		stepCtx, stepSpan := otel.StartStepSpan(ctx, r.ID, i, step.Name)
		s.announceStepStarted(ctx, l, i, step.Name)

		index := i
		budget := spec.BudgetFor(i)
		if s.cfg.StepBudget > 0 && budget > s.cfg.StepBudget {
			budget = s.cfg.StepBudget
		}
		res, err := s.runner.Resolve(stepCtx, StepRequest{
			RunID:      r.ID,
			Step:       step,
			Index:      i,
			Budget:     budget,
			MaxRetries: spec.MaxRetries,
			Target:     r.Target,
			Facts:      collected,
			OnAttempt: func(attempt int, jobID string, fallback bool) {
				s.announceAttempt(ctx, l, index, attempt, jobID, fallback)
			},
			OnFallback: func(attempt int) {
				s.announceFallback(ctx, l, index, step.Name, attempt)
			},
		})
		stepSpan.End()
		if err != nil {
			cancelled = true
			l.update(func(r *run.Run) {
				r.Outcomes = append(r.Outcomes, res.Outcome)
			})
			break
		}

		if res.Outcome.Status == run.StepCompleted && len(res.Facts) > 0 {
			collected.Record(res.Facts)
			if s.metrics != nil {
				s.metrics.FactsCollected.Add(ctx, int64(len(res.Facts)))
			}
		}
		l.update(func(r *run.Run) {
			r.Outcomes = append(r.Outcomes, res.Outcome)
			r.FactsCollected = collected.Values()
		})
		s.announceStepResolved(ctx, l, res.Outcome)

		if s.metrics != nil && res.Outcome.Attempts > 1 {
			s.metrics.StepRetries.Add(ctx, int64(res.Outcome.Attempts-1))
		}
		if res.Abort {
			aborted = true
			abortErr = fmt.Sprintf("aborted at step %d (%s): %s",
				res.Outcome.Index, res.Outcome.Name, res.Outcome.Error)
			break
		}
	}

	l.update(func(r *run.Run) {
		now := time.Now().UTC()
		r.CompletedAt = &now
		if cancelled {
			r.Status = run.StatusCancelled
			return
		}
		r.Status = run.ResolveStatus(aborted, r.Counts())
		r.Error = abortErr
	})
	s.finish(l)
}

// finish persists the terminal run state and fans out the completion
// over NATS, the event trail, WebSocket and notifications.
func (s *RunService) finish(l *liveRun) {
	r := l.snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.FinishRun(ctx, r); err != nil {
		slog.Error("persist finished run", "run_id", r.ID, "error", err)
	}

	c := r.Counts()
	s.appendRunEvent(ctx, l, event.TypeRunFinished, nil, map[string]any{
		"status":          r.Status,
		"completed":       c.Completed,
		"failed":          c.Failed,
		"skipped":         c.Skipped,
		"facts_collected": r.FactsCollected,
	})

	outcomes := make([]messagequeue.StepOutcomePayload, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		outcomes = append(outcomes, messagequeue.StepOutcomePayload{
			Index:    o.Index,
			Name:     o.Name,
			JobID:    o.JobID,
			Status:   string(o.Status),
			Attempts: o.Attempts,
			Error:    o.Error,
		})
	}
	completedAt := time.Now().UTC()
	if r.CompletedAt != nil {
		completedAt = *r.CompletedAt
	}
	s.publishJSON(ctx, messagequeue.SubjectRunCompleted, messagequeue.RunCompletedPayload{
		RunID:          r.ID,
		Sequence:       r.Sequence,
		Target:         r.Target.Name,
		Status:         string(r.Status),
		Completed:      c.Completed,
		Failed:         c.Failed,
		Skipped:        c.Skipped,
		FactsCollected: r.FactsCollected,
		Outcomes:       outcomes,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		CompletedAt:    completedAt,
	})

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventRunStatus, ws.RunStatusEvent{
			RunID:          r.ID,
			Sequence:       r.Sequence,
			Target:         r.Target.Name,
			Status:         string(r.Status),
			FactsCollected: r.FactsCollected,
			Error:          r.Error,
		})
	}

	s.recordRunMetrics(ctx, r)
	s.notifyFinished(ctx, r, c)

	slog.Info("run finished",
		"run_id", r.ID,
		"sequence", r.Sequence,
		"status", r.Status,
		"completed", c.Completed,
		"failed", c.Failed,
		"skipped", c.Skipped,
		"facts", r.FactsCollected,
		"duration", completedAt.Sub(r.StartedAt).Round(time.Millisecond),
	)
}

// announceStart fans out a freshly started run over NATS, the event
// trail and WebSocket.
func (s *RunService) announceStart(ctx context.Context, l *liveRun) {
	r := l.snapshot()

	s.publishJSON(ctx, messagequeue.SubjectRunStarted, messagequeue.RunStartedPayload{
		RunID:       r.ID,
		Sequence:    r.Sequence,
		Target:      r.Target.Name,
		Group:       r.Target.Group,
		TotalSteps:  r.TotalSteps,
		RetriedFrom: r.RetriedFrom,
		StartedAt:   r.StartedAt,
	})
	s.appendRunEvent(ctx, l, event.TypeRunStarted, nil, map[string]any{
		"target":       r.Target.Name,
		"group":        r.Target.Group,
		"total_steps":  r.TotalSteps,
		"retried_from": r.RetriedFrom,
	})
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventRunStatus, ws.RunStatusEvent{
			RunID:    r.ID,
			Sequence: r.Sequence,
			Target:   r.Target.Name,
			Status:   string(r.Status),
		})
	}
	if s.metrics != nil {
		s.metrics.RunsStarted.Add(ctx, 1)
	}
	s.notifyStarted(ctx, r)
	slog.Info("run started",
		"run_id", r.ID,
		"sequence", r.Sequence,
		"target", r.Target.Name,
		"group", r.Target.Group,
		"steps", r.TotalSteps,
	)
}

func (s *RunService) announceStepStarted(ctx context.Context, l *liveRun, i int, name string) {
	s.appendRunEvent(ctx, l, event.TypeStepStarted, &i, map[string]any{
		"step_name": name,
	})
}

func (s *RunService) announceAttempt(ctx context.Context, l *liveRun, i, attempt int, jobID string, fallback bool) {
	if s.metrics != nil {
		s.metrics.JobsSubmitted.Add(ctx, 1)
	}
	s.appendRunEvent(ctx, l, event.TypeStepAttempt, &i, map[string]any{
		"attempt":  attempt,
		"job_id":   jobID,
		"fallback": fallback,
	})
}

func (s *RunService) announceFallback(ctx context.Context, l *liveRun, i int, name string, attempt int) {
	s.appendRunEvent(ctx, l, event.TypeStepFallback, &i, map[string]any{
		"step_name": name,
		"attempt":   attempt,
	})
}

// announceStepResolved persists the outcome and fans it out over NATS,
// the event trail and WebSocket.
func (s *RunService) announceStepResolved(ctx context.Context, l *liveRun, o run.StepOutcome) {
	r := l.snapshot()

	if err := s.store.UpsertStepOutcome(ctx, r.ID, o); err != nil {
		slog.Error("persist step outcome", "run_id", r.ID, "step", o.Index, "error", err)
	}

	i := o.Index
	s.appendRunEvent(ctx, l, event.TypeStepResolved, &i, map[string]any{
		"step_name": o.Name,
		"status":    o.Status,
		"attempts":  o.Attempts,
		"job_id":    o.JobID,
		"error":     o.Error,
	})
	s.publishJSON(ctx, messagequeue.SubjectRunStep, messagequeue.RunStepPayload{
		RunID:     r.ID,
		Sequence:  r.Sequence,
		StepIndex: o.Index,
		StepName:  o.Name,
		Status:    string(o.Status),
		Attempts:  o.Attempts,
		JobID:     o.JobID,
		Error:     o.Error,
	})
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventRunStep, ws.RunStepEvent{
			RunID:     r.ID,
			Sequence:  r.Sequence,
			StepIndex: o.Index,
			StepName:  o.Name,
			Status:    string(o.Status),
			Attempts:  o.Attempts,
			JobID:     o.JobID,
			Error:     o.Error,
		})
	}
	slog.Info("step resolved",
		"run_id", r.ID,
		"step", o.Index,
		"name", o.Name,
		"status", o.Status,
		"attempts", o.Attempts,
	)
}

// recordRunMetrics counts the terminal status. Cancelled runs count as
// neither completed nor failed.
func (s *RunService) recordRunMetrics(ctx context.Context, r *run.Run) {
	if s.metrics == nil {
		return
	}
	switch r.Status {
	case run.StatusCompleted:
		s.metrics.RunsCompleted.Add(ctx, 1)
	case run.StatusCancelled:
	default:
		s.metrics.RunsFailed.Add(ctx, 1)
	}
	if r.CompletedAt != nil {
		s.metrics.RunDuration.Record(ctx, r.CompletedAt.Sub(r.StartedAt).Seconds())
	}
}

// notifyStarted sends the kickoff notification.
func (s *RunService) notifyStarted(ctx context.Context, r *run.Run) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(ctx, notifier.Notification{
		Title: fmt.Sprintf("Run %s started", r.ID),
		Message: fmt.Sprintf("%s against %s, %d steps",
			r.Sequence, r.Target.Name, r.TotalSteps),
		Level:  "info",
		Source: "run.started",
		Meta: map[string]string{
			"run_id":   r.ID,
			"sequence": r.Sequence,
			"target":   r.Target.Name,
		},
	})
}

// notifyFinished sends the terminal notification. The level maps from
// the final status: success, warning for partial results and
// cancellations, error otherwise.
func (s *RunService) notifyFinished(ctx context.Context, r *run.Run, c run.Counts) {
	if s.notify == nil {
		return
	}
	level := "error"
	switch r.Status {
	case run.StatusCompleted:
		level = "success"
	case run.StatusPartiallyFailed, run.StatusCancelled:
		level = "warning"
	}
	s.notify.Notify(ctx, notifier.Notification{
		Title: fmt.Sprintf("Run %s %s", r.ID, r.Status),
		Message: fmt.Sprintf("%s against %s: %d completed, %d failed, %d skipped, %d facts",
			r.Sequence, r.Target.Name, c.Completed, c.Failed, c.Skipped, r.FactsCollected),
		Level:  level,
		Source: "run." + string(r.Status),
		Meta: map[string]string{
			"run_id":   r.ID,
			"sequence": r.Sequence,
			"target":   r.Target.Name,
		},
	})
}

// publishJSON marshals payload and publishes it on subject. Publish
// failures are logged, never propagated: a run does not stop because an
// observer is unreachable.
func (s *RunService) publishJSON(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("publish", "subject", subject, "error", err)
	}
}

// appendRunEvent writes one entry to the run's audit trail with the
// next per-run version.
func (s *RunService) appendRunEvent(ctx context.Context, l *liveRun, t event.Type, stepIndex *int, payload any) {
	if s.events == nil {
		return
	}
	r := l.snapshot()
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "run_id", r.ID, "type", t, "error", err)
		return
	}
	ev := &event.RunEvent{
		RunID:     r.ID,
		Sequence:  r.Sequence,
		Type:      t,
		StepIndex: stepIndex,
		Payload:   data,
		Version:   l.nextVersion(),
	}
	if err := s.events.Append(ctx, ev); err != nil {
		slog.Error("append run event", "run_id", r.ID, "type", t, "error", err)
	}
}
