package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonsec/OpForge/internal/adapter/otel"
	"github.com/halcyonsec/OpForge/internal/config"
	"github.com/halcyonsec/OpForge/internal/domain"
	"github.com/halcyonsec/OpForge/internal/domain/event"
	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/logger"
	"github.com/halcyonsec/OpForge/internal/port/broadcast"
	"github.com/halcyonsec/OpForge/internal/port/database"
	"github.com/halcyonsec/OpForge/internal/port/eventstore"
	"github.com/halcyonsec/OpForge/internal/port/messagequeue"
	"github.com/halcyonsec/OpForge/internal/runpool"
)

// liveRun tracks one executing run: the mutable run record, the cancel
// function for its context and the per-run event version counter. The
// executor goroutine writes through update; everyone else reads
// snapshots.
type liveRun struct {
	mu      sync.Mutex
	r       *run.Run
	cancel  context.CancelFunc
	version int
}

func (l *liveRun) snapshot() *run.Run {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Clone()
}

func (l *liveRun) update(fn func(*run.Run)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.r)
}

func (l *liveRun) nextVersion() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version++
	return l.version
}

// RunService owns the sequence run lifecycle: starting runs under the
// concurrency limit, tracking live ones, cancelling, retrying and
// draining on shutdown. Step-by-step execution lives in executor.go.
type RunService struct {
	cfg     config.Sequencer
	store   database.Store
	events  eventstore.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	specs   *SpecService
	runner  *StepRunner
	pool    *runpool.Pool
	metrics *otel.Metrics
	notify  *NotificationService

	mu   sync.RWMutex
	live map[string]*liveRun
	wg   sync.WaitGroup
}

// NewRunService creates a RunService with all dependencies. metrics and
// notify may be nil; events may be nil when the audit trail is
// disabled.
func NewRunService(
	cfg config.Sequencer,
	store database.Store,
	events eventstore.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	specs *SpecService,
	runner *StepRunner,
	metrics *otel.Metrics,
	notify *NotificationService,
) *RunService {
	return &RunService{
		cfg:     cfg,
		store:   store,
		events:  events,
		queue:   queue,
		hub:     hub,
		specs:   specs,
		runner:  runner,
		pool:    runpool.NewPool(cfg.MaxConcurrent),
		metrics: metrics,
		notify:  notify,
		live:    make(map[string]*liveRun),
	}
}

// Start validates the request, resolves the sequence spec, persists the
// new run and launches its executor in the background. It returns
// domain.ErrBusy when every run slot is taken.
func (s *RunService) Start(ctx context.Context, req run.StartRequest) (*run.Run, error) {
	return s.start(ctx, req, "")
}

func (s *RunService) start(ctx context.Context, req run.StartRequest, retriedFrom string) (*run.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	spec, err := s.specs.Get(ctx, req.Sequence)
	if err != nil {
		return nil, err
	}

	release, err := s.pool.Acquire()
	if err != nil {
		return nil, err
	}

	r := &run.Run{
		ID:          uuid.NewString(),
		Sequence:    spec.Name,
		Target:      req.Target,
		Status:      run.StatusRunning,
		RetriedFrom: retriedFrom,
		TotalSteps:  len(spec.Steps),
		Outcomes:    []run.StepOutcome{},
		StartedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, r); err != nil {
		release()
		return nil, fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(logger.WithRunID(context.Background(), r.ID))
	l := &liveRun{r: r, cancel: cancel}
	s.mu.Lock()
	s.live[r.ID] = l
	s.mu.Unlock()

	s.announceStart(ctx, l)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer cancel()
		s.execute(runCtx, l, spec)
		s.mu.Lock()
		delete(s.live, r.ID)
		s.mu.Unlock()
	}()

	return l.snapshot(), nil
}

// Get returns a point-in-time snapshot of a run, live or finished.
func (s *RunService) Get(ctx context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	l, ok := s.live[id]
	s.mu.RUnlock()
	if ok {
		return l.snapshot(), nil
	}
	return s.store.GetRun(ctx, id)
}

// List returns runs matching the filter, newest first. Live runs are
// reported from their in-memory state, which carries step outcomes the
// store may not have yet.
func (s *RunService) List(ctx context.Context, filter database.RunFilter) ([]run.Run, error) {
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range runs {
		if l, ok := s.live[runs[i].ID]; ok {
			runs[i] = *l.snapshot()
		}
	}
	return runs, nil
}

// Cancel requests cancellation of a live run. The executor observes the
// cancelled context at its next poll or backoff boundary, so the run
// reaches the cancelled status asynchronously.
func (s *RunService) Cancel(ctx context.Context, id string) error {
	s.mu.RLock()
	l, ok := s.live[id]
	s.mu.RUnlock()
	if !ok {
		r, err := s.store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("run %s is %s: %w", id, r.Status, domain.ErrConflict)
	}

	// The executor removes the run from the live map only after it
	// returns, so a run can sit here briefly with a terminal status.
	if snap := l.snapshot(); snap.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", id, snap.Status, domain.ErrConflict)
	}

	s.appendRunEvent(ctx, l, event.TypeRunCancelRequested, nil, map[string]any{
		"requested_at": time.Now().UTC(),
	})
	slog.Info("run cancel requested", "run_id", id)
	l.cancel()
	return nil
}

// Retry starts a fresh run of the same sequence against the same
// target. Only aborted and errored runs qualify; the new run records
// its parent in RetriedFrom. There is no step-level resume.
func (s *RunService) Retry(ctx context.Context, id string) (*run.Run, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !prev.Status.Retryable() {
		return nil, fmt.Errorf("run %s is %s, not retryable: %w", id, prev.Status, domain.ErrConflict)
	}
	return s.start(ctx, run.StartRequest{Sequence: prev.Sequence, Target: prev.Target}, prev.ID)
}

// Events returns the audit trail of a run, ordered by version.
func (s *RunService) Events(ctx context.Context, id string, filter eventstore.Filter) ([]event.RunEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []event.RunEvent{}, nil
	}
	return s.events.LoadByRun(ctx, id, filter)
}

// LiveCount returns the number of currently executing runs.
func (s *RunService) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// Drain waits for live runs to finish. After the timeout it cancels
// whatever is still running and waits for those executors to persist
// their cancelled state.
func (s *RunService) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
	}

	slog.Warn("run drain timed out, cancelling live runs", "live", s.LiveCount())
	s.mu.RLock()
	for _, l := range s.live {
		l.cancel()
	}
	s.mu.RUnlock()

	select {
	case <-done:
	case <-time.After(persistTimeout):
		slog.Error("live runs did not stop after cancel")
	}
}
