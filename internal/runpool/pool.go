// Package runpool limits how many sequence runs execute concurrently.
package runpool

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/halcyonsec/OpForge/internal/domain"
)

// Pool limits concurrent run executors using a weighted semaphore. All
// run launches go through a shared Pool so a burst of start requests
// cannot exhaust the job-control API.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent runs.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// TryRun runs fn if a slot is free and returns domain.ErrBusy otherwise.
// Start requests use this so a full pool answers immediately instead of
// queueing callers.
func (p *Pool) TryRun(fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if !p.sem.TryAcquire(1) {
		return domain.ErrBusy
	}
	defer p.sem.Release(1)
	return fn()
}

// Acquire claims a slot without running anything; the caller must call
// the returned release exactly once. Returns domain.ErrBusy when the
// pool is full. Used when the protected work outlives the acquiring
// function, e.g. a run executing on its own goroutine.
func (p *Pool) Acquire() (release func(), err error) {
	if p == nil || p.sem == nil {
		return func() {}, nil
	}
	if !p.sem.TryAcquire(1) {
		return nil, domain.ErrBusy
	}
	return func() { p.sem.Release(1) }, nil
}
