// Package recovery decides what happens after a failed step attempt:
// retry with backoff, substitute the fallback job, skip the step, record
// it as failed and move on, or abort the whole run. The decision is a
// pure function of the step policy and the failure class, so callers
// never branch on error types themselves.
package recovery

import (
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/sequence"
)

// FailureKind classifies why a step attempt failed.
type FailureKind string

const (
	// KindTransport covers network faults, request timeouts and remote
	// 5xx responses. Retryable.
	KindTransport FailureKind = "transport"
	// KindTimedOut means the job ran past its polling budget or the
	// remote reported it ran out of time. Retryable.
	KindTimedOut FailureKind = "timed_out"
	// KindRejected means the remote refused the job template (4xx).
	// Retrying would reproduce the same refusal.
	KindRejected FailureKind = "rejected"
	// KindNeedsIntervention means the remote job is paused waiting for
	// a human. Retrying would reproduce the same stall.
	KindNeedsIntervention FailureKind = "needs_intervention"
)

func (k FailureKind) Retryable() bool {
	return k == KindTransport || k == KindTimedOut
}

// ActionKind is what the caller should do next with the step.
type ActionKind string

const (
	ActionRetry    ActionKind = "retry"
	ActionFallback ActionKind = "fallback"
	ActionSkip     ActionKind = "skip"
	ActionFail     ActionKind = "fail"
	ActionAbort    ActionKind = "abort"
)

// Action is the decision for one failed attempt. Backoff is set only
// for ActionRetry.
type Action struct {
	Kind    ActionKind
	Backoff time.Duration
}

const maxBackoff = 30 * time.Second

// Backoff returns the wait before retry number attempt: exponential,
// capped at 30s. Attempts 1..5 wait 2, 4, 8, 16, 30 seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= 5 {
		return maxBackoff
	}
	return time.Duration(1<<attempt) * time.Second
}

// Decide resolves a failed attempt into the next action. attempt is
// the number of submissions charged against the retry budget; callers
// exclude the free fallback substitution from it.
//
// Rules, in order:
//  1. A non-retryable failure aborts the run if the step is critical,
//     otherwise skips the step. The step's on_fail policy is ignored.
//  2. A retryable failure on a fallback step substitutes the fallback
//     job, once per step instance. The substitution does not consume a
//     retry slot.
//  3. While attempt <= maxRetries, retry with exponential backoff.
//  4. Retries exhausted: skip if on_fail is skip, abort if the step is
//     critical, otherwise record the step as failed and continue.
func Decide(step sequence.Step, attempt, maxRetries int, kind FailureKind, fallbackTried bool) Action {
	if !kind.Retryable() {
		if step.Critical {
			return Action{Kind: ActionAbort}
		}
		return Action{Kind: ActionSkip}
	}

	if step.OnFail == sequence.OnFailFallback && len(step.FallbackJob) > 0 && !fallbackTried {
		return Action{Kind: ActionFallback}
	}

	if attempt <= maxRetries {
		return Action{Kind: ActionRetry, Backoff: Backoff(attempt)}
	}

	switch {
	case step.OnFail == sequence.OnFailSkip:
		return Action{Kind: ActionSkip}
	case step.Critical:
		return Action{Kind: ActionAbort}
	default:
		return Action{Kind: ActionFail}
	}
}
