package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/facts"
	"github.com/halcyonsec/OpForge/internal/domain/recovery"
	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/domain/sequence"
	"github.com/halcyonsec/OpForge/internal/port/jobapi"
)

// cancelTimeout bounds best-effort remote job cancellation, which runs
// on a background context because the run context is usually already
// cancelled when it fires.
const cancelTimeout = 10 * time.Second

// StepRunner drives a single step to its terminal outcome against the
// job API: submit the job, poll it, classify failures and apply the
// recovery policy until the step completes, is skipped, is recorded
// failed, or aborts the run.
type StepRunner struct {
	jobs         jobapi.Client
	pollInterval time.Duration

	// overridable in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewStepRunner creates a StepRunner polling jobs every pollInterval.
func NewStepRunner(jobs jobapi.Client, pollInterval time.Duration) *StepRunner {
	return &StepRunner{
		jobs:         jobs,
		pollInterval: pollInterval,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// StepRequest carries one step of a run into the runner.
type StepRequest struct {
	RunID      string
	Step       sequence.Step
	Index      int
	Budget     time.Duration
	MaxRetries int
	Target     sequence.Target
	Facts      *facts.Store

	// OnAttempt fires after each accepted job submission, OnFallback
	// when the fallback job replaces the primary one. Both may be nil.
	OnAttempt  func(attempt int, jobID string, fallback bool)
	OnFallback func(attempt int)
}

// StepResult is the terminal outcome of one step instance. Facts holds
// the report harvest of a completed step; Abort tells the caller to
// stop the run.
type StepResult struct {
	Outcome run.StepOutcome
	Facts   []facts.Fact
	Abort   bool
}

// stepFailure is one failed attempt, classified for the recovery
// policy.
type stepFailure struct {
	kind recovery.FailureKind
	msg  string
}

// Resolve runs the step until it reaches a terminal outcome. The only
// error it returns is the context's, when the run is cancelled or the
// engine shuts down mid-step; even then the returned outcome records
// the interrupted step as failed with reason "cancelled". Every
// job-level failure is absorbed into the outcome by the recovery
// policy.
func (sr *StepRunner) Resolve(ctx context.Context, req StepRequest) (StepResult, error) {
	outcome := run.StepOutcome{Index: req.Index, Name: req.Step.Name}
	template := buildTemplate(req.Step.Job, req.Step, req.Target, req.Facts)
	fallbackTried := false

	for {
		outcome.Attempts++

		var (
			found   []facts.Fact
			failure *stepFailure
		)
		jobID, err := sr.jobs.Submit(ctx, template)
		switch {
		case err != nil && ctx.Err() != nil:
			return cancelledOutcome(outcome), ctx.Err()
		case err != nil:
			failure = classifyFailure(err)
		default:
			outcome.JobID = jobID
			if req.OnAttempt != nil {
				req.OnAttempt(outcome.Attempts, jobID, fallbackTried)
			}
			found, failure, err = sr.await(ctx, jobID, req.Budget)
			if err != nil {
				return cancelledOutcome(outcome), err
			}
		}

		if failure == nil {
			outcome.Status = run.StepCompleted
			return StepResult{Outcome: outcome, Facts: found}, nil
		}

		// The fallback substitution itself is a free attempt: once the
		// fallback job is in play, the submission that swapped it in
		// does not count against the retry budget.
		charged := outcome.Attempts
		if fallbackTried {
			charged--
		}
		action := recovery.Decide(req.Step, charged, req.MaxRetries, failure.kind, fallbackTried)
		switch action.Kind {
		case recovery.ActionRetry:
			slog.Info("step retry",
				"run_id", req.RunID,
				"step", req.Step.Name,
				"attempt", outcome.Attempts,
				"kind", failure.kind,
				"backoff", action.Backoff,
			)
			if err := sr.sleep(ctx, action.Backoff); err != nil {
				return cancelledOutcome(outcome), err
			}
		case recovery.ActionFallback:
			fallbackTried = true
			template = buildTemplate(req.Step.FallbackJob, req.Step, req.Target, req.Facts)
			if req.OnFallback != nil {
				req.OnFallback(outcome.Attempts)
			}
			slog.Info("step fallback",
				"run_id", req.RunID,
				"step", req.Step.Name,
				"attempt", outcome.Attempts,
				"kind", failure.kind,
			)
		case recovery.ActionSkip:
			outcome.Status = run.StepSkipped
			outcome.Error = failure.msg
			return StepResult{Outcome: outcome}, nil
		case recovery.ActionFail:
			outcome.Status = run.StepFailed
			outcome.Error = failure.msg
			return StepResult{Outcome: outcome}, nil
		case recovery.ActionAbort:
			outcome.Status = run.StepFailed
			outcome.Error = failure.msg
			return StepResult{Outcome: outcome, Abort: true}, nil
		}
	}
}

// cancelledOutcome finalizes an interrupted step as failed with reason
// "cancelled" so the run record shows where cancellation landed.
func cancelledOutcome(outcome run.StepOutcome) StepResult {
	outcome.Status = run.StepFailed
	outcome.Error = "cancelled"
	return StepResult{Outcome: outcome}
}

// await polls the job until it reaches a terminal state or the step
// budget runs out. Budget exhaustion cancels the remote job best-effort
// and counts as a timed_out failure.
func (sr *StepRunner) await(ctx context.Context, jobID string, budget time.Duration) ([]facts.Fact, *stepFailure, error) {
	start := sr.now()
	for {
		job, err := sr.jobs.Poll(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			sr.cancelJob(jobID)
			return nil, nil, ctx.Err()
		case err != nil:
			return nil, classifyFailure(err), nil
		}

		switch jobapi.Classify(job.State) {
		case jobapi.DispositionSucceeded:
			return sr.harvest(ctx, jobID)
		case jobapi.DispositionTimedOut:
			return nil, &stepFailure{
				kind: recovery.KindTimedOut,
				msg:  fmt.Sprintf("job %s ran out of time", jobID),
			}, nil
		case jobapi.DispositionNeedsIntervention:
			return nil, &stepFailure{
				kind: recovery.KindNeedsIntervention,
				msg:  fmt.Sprintf("job %s is paused awaiting an operator", jobID),
			}, nil
		}

		if sr.now().Sub(start) >= budget {
			sr.cancelJob(jobID)
			return nil, &stepFailure{
				kind: recovery.KindTimedOut,
				msg:  fmt.Sprintf("job %s exceeded the %s step budget", jobID, budget),
			}, nil
		}
		if err := sr.sleep(ctx, sr.pollInterval); err != nil {
			sr.cancelJob(jobID)
			return nil, nil, err
		}
	}
}

// harvest fetches the fact report of a finished job. A report fetch
// failure does not fail the step: the job already succeeded remotely,
// so the step completes with no facts.
func (sr *StepRunner) harvest(ctx context.Context, jobID string) ([]facts.Fact, *stepFailure, error) {
	found, err := sr.jobs.Report(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		slog.Warn("job report unavailable", "job_id", jobID, "error", err)
		return nil, nil, nil
	}
	return found, nil, nil
}

func (sr *StepRunner) cancelJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := sr.jobs.Cancel(ctx, jobID); err != nil {
		slog.Warn("cancel job", "job_id", jobID, "error", err)
	}
}

// classifyFailure maps a job API error to its failure class. Rejections
// are terminal; everything else is transport-class and retryable.
func classifyFailure(err error) *stepFailure {
	if jobapi.IsRejected(err) {
		return &stepFailure{kind: recovery.KindRejected, msg: err.Error()}
	}
	return &stepFailure{kind: recovery.KindTransport, msg: err.Error()}
}

// buildTemplate clones the job template and injects what the step
// inherits from the run: a "target - step" display name and the target
// group, when the template does not pin them, and the facts selected by
// the step's filters.
func buildTemplate(job map[string]any, step sequence.Step, target sequence.Target, store *facts.Store) map[string]any {
	template := make(map[string]any, len(job)+3)
	for k, v := range job {
		template[k] = v
	}
	if target.Name != "" {
		if _, ok := template["name"]; !ok {
			template["name"] = target.Name + " - " + step.Name
		}
	}
	if target.Group != "" {
		if _, ok := template["group"]; !ok {
			template["group"] = target.Group
		}
	}
	if step.InheritFacts && store != nil {
		if inherited := store.Export(step.FactFilters); len(inherited) > 0 {
			template["facts"] = inherited
		}
	}
	return template
}

// sleepCtx waits d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
