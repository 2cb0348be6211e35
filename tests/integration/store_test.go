//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonsec/OpForge/internal/domain/event"
	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/domain/sequence"
	"github.com/halcyonsec/OpForge/internal/port/database"
	"github.com/halcyonsec/OpForge/internal/port/eventstore"
)

func seedRun(t *testing.T, seq string, startedAt time.Time) *run.Run {
	t.Helper()
	r := &run.Run{
		ID:         uuid.NewString(),
		Sequence:   seq,
		Target:     sequence.Target{Name: "probe-1", Group: "lab"},
		Status:     run.StatusRunning,
		TotalSteps: 2,
		StartedAt:  startedAt,
	}
	if err := testStore.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

// A run written through the store must read back field for field,
// through status updates and the terminal snapshot.
func TestStoreRunRoundTrip(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	// Postgres keeps microseconds, so sub-microsecond precision would
	// break the Equal assertions below.
	started := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)
	r := seedRun(t, "smoke-chain", started)

	got, err := testStore.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Sequence != "smoke-chain" || got.Target.Name != "probe-1" || got.Target.Group != "lab" {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Status != run.StatusRunning || got.TotalSteps != 2 {
		t.Errorf("status = %q, total steps = %d", got.Status, got.TotalSteps)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.RetriedFrom != "" {
		t.Errorf("RetriedFrom = %q on a fresh run", got.RetriedFrom)
	}
	if got.Outcomes == nil || len(got.Outcomes) != 0 {
		t.Errorf("Outcomes = %v, want empty non-nil slice", got.Outcomes)
	}

	if err := testStore.UpdateRunStatus(ctx, r.ID, run.StatusCancelled); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, err = testStore.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun after status update: %v", err)
	}
	if got.Status != run.StatusCancelled {
		t.Errorf("status after update = %q, want cancelled", got.Status)
	}

	completed := time.Now().UTC().Truncate(time.Microsecond)
	r.Status = run.StatusCompleted
	r.FactsCollected = 3
	r.CompletedAt = &completed
	r.Outcomes = []run.StepOutcome{
		{Index: 0, Name: "sweep", JobID: "job-1", Status: run.StepCompleted, Attempts: 1},
		{Index: 1, Name: "collect", JobID: "job-2", Status: run.StepCompleted, Attempts: 2},
	}
	if err := testStore.FinishRun(ctx, r); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err = testStore.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if got.Status != run.StatusCompleted || got.FactsCollected != 3 {
		t.Errorf("terminal snapshot: status = %q, facts = %d", got.Status, got.FactsCollected)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(got.Outcomes))
	}
	if got.Outcomes[1].Name != "collect" || got.Outcomes[1].Attempts != 2 {
		t.Errorf("outcome 1 = %+v", got.Outcomes[1])
	}
}

func TestStoreGetRunNotFound(t *testing.T) {
	_, err := testStore.GetRun(context.Background(), uuid.NewString())
	if err == nil {
		t.Fatal("GetRun on missing ID returned no error")
	}
}

// ListRuns filters by sequence and status independently, orders newest
// first and honors the limit.
func TestStoreListRunsFilters(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	now := time.Now().UTC()
	oldest := seedRun(t, "smoke-chain", now.Add(-3*time.Minute))
	middle := seedRun(t, "smoke-chain", now.Add(-2*time.Minute))
	newest := seedRun(t, "other-chain", now.Add(-time.Minute))
	if err := testStore.UpdateRunStatus(ctx, middle.ID, run.StatusCompleted); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	all, err := testStore.ListRuns(ctx, database.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered = %d runs, want 3", len(all))
	}
	if all[0].ID != newest.ID || all[2].ID != oldest.ID {
		t.Errorf("ordering: got %s first, %s last", all[0].ID, all[2].ID)
	}

	bySeq, err := testStore.ListRuns(ctx, database.RunFilter{Sequence: "smoke-chain"})
	if err != nil {
		t.Fatalf("ListRuns by sequence: %v", err)
	}
	if len(bySeq) != 2 {
		t.Errorf("sequence filter = %d runs, want 2", len(bySeq))
	}

	byStatus, err := testStore.ListRuns(ctx, database.RunFilter{Status: run.StatusCompleted})
	if err != nil {
		t.Fatalf("ListRuns by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != middle.ID {
		t.Errorf("status filter = %d runs", len(byStatus))
	}

	limited, err := testStore.ListRuns(ctx, database.RunFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newest.ID {
		t.Errorf("limit 1 returned %d runs", len(limited))
	}
}

// A second upsert for the same step index replaces the row instead of
// adding one.
func TestStoreUpsertStepOutcomeReplaces(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()
	r := seedRun(t, "smoke-chain", time.Now().UTC())

	first := run.StepOutcome{Index: 0, Name: "sweep", JobID: "job-1", Status: run.StepCompleted, Attempts: 1}
	if err := testStore.UpsertStepOutcome(ctx, r.ID, first); err != nil {
		t.Fatalf("UpsertStepOutcome: %v", err)
	}
	second := first
	second.Status = run.StepFailed
	second.Attempts = 3
	second.Error = "agent unreachable"
	if err := testStore.UpsertStepOutcome(ctx, r.ID, second); err != nil {
		t.Fatalf("UpsertStepOutcome (replace): %v", err)
	}

	outcomes, err := testStore.ListStepOutcomes(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListStepOutcomes: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if outcomes[0].Attempts != 3 || outcomes[0].Status != run.StepFailed || outcomes[0].Error != "agent unreachable" {
		t.Errorf("replaced outcome = %+v", outcomes[0])
	}
}

// Prune removes terminal runs past the cutoff and leaves live ones
// alone; run_steps rows go with their run via the cascade.
func TestStorePruneRuns(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	stale := seedRun(t, "smoke-chain", time.Now().UTC().Add(-49*time.Hour))
	staleDone := time.Now().UTC().Add(-48 * time.Hour)
	stale.Status = run.StatusCompleted
	stale.CompletedAt = &staleDone
	stale.Outcomes = []run.StepOutcome{{Index: 0, Name: "sweep", Status: run.StepCompleted, Attempts: 1}}
	if err := testStore.FinishRun(ctx, stale); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	live := seedRun(t, "smoke-chain", time.Now().UTC())

	pruned, err := testStore.PruneRuns(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d runs, want 1", pruned)
	}

	left, err := testStore.ListRuns(ctx, database.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(left) != 1 || left[0].ID != live.ID {
		t.Errorf("surviving runs = %d", len(left))
	}
	if _, err := testStore.GetRun(ctx, stale.ID); err == nil {
		t.Error("pruned run still readable")
	}
}

// Events appended for a run come back in version order, with the
// database-assigned ID and timestamp written back on append.
func TestEventStoreRoundTrip(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()
	runID := uuid.NewString()
	idx := 0

	trail := []*event.RunEvent{
		{RunID: runID, Sequence: "smoke-chain", Type: event.TypeRunStarted, Payload: json.RawMessage(`{"target":"probe-1"}`), Version: 1},
		{RunID: runID, Sequence: "smoke-chain", Type: event.TypeStepStarted, StepIndex: &idx, Payload: json.RawMessage(`{"step":"sweep"}`), Version: 2},
		{RunID: runID, Sequence: "smoke-chain", Type: event.TypeStepAttempt, StepIndex: &idx, Payload: json.RawMessage(`{"job_id":"job-1"}`), Version: 3},
		{RunID: runID, Sequence: "smoke-chain", Type: event.TypeRunFinished, Payload: json.RawMessage(`{"status":"completed"}`), Version: 4},
	}
	for _, ev := range trail {
		if err := testEvents.Append(ctx, ev); err != nil {
			t.Fatalf("Append %s: %v", ev.Type, err)
		}
		if ev.ID == "" || ev.CreatedAt.IsZero() {
			t.Fatalf("Append %s did not write back ID/timestamp", ev.Type)
		}
	}

	got, err := testEvents.LoadByRun(ctx, runID, eventstore.Filter{})
	if err != nil {
		t.Fatalf("LoadByRun: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("events = %d, want 4", len(got))
	}
	for i, ev := range got {
		if ev.Version != i+1 {
			t.Errorf("event %d: version = %d", i, ev.Version)
		}
	}
	if got[1].StepIndex == nil || *got[1].StepIndex != 0 {
		t.Errorf("step.started lost its step index: %v", got[1].StepIndex)
	}
	if got[0].StepIndex != nil {
		t.Errorf("run.started carries step index %d", *got[0].StepIndex)
	}

	stepOnly, err := testEvents.LoadByRun(ctx, runID, eventstore.Filter{
		Types: []event.Type{event.TypeStepStarted, event.TypeStepAttempt},
	})
	if err != nil {
		t.Fatalf("LoadByRun with types: %v", err)
	}
	if len(stepOnly) != 2 {
		t.Errorf("type filter = %d events, want 2", len(stepOnly))
	}

	other, err := testEvents.LoadByRun(ctx, uuid.NewString(), eventstore.Filter{})
	if err != nil {
		t.Fatalf("LoadByRun other run: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("foreign run sees %d events", len(other))
	}
}

func TestEventStoreStatsAndPrune(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()
	runID := uuid.NewString()

	for v, typ := range []event.Type{
		event.TypeRunStarted, event.TypeStepAttempt, event.TypeStepAttempt, event.TypeRunFinished,
	} {
		ev := &event.RunEvent{RunID: runID, Sequence: "smoke-chain", Type: typ, Payload: json.RawMessage(`{}`), Version: v + 1}
		if err := testEvents.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	stats, err := testEvents.Stats(ctx, runID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", stats.TotalEvents)
	}
	if stats.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", stats.Attempts)
	}
	if stats.EventCounts[string(event.TypeRunStarted)] != 1 {
		t.Errorf("EventCounts = %v", stats.EventCounts)
	}
	if stats.DurationMS < 0 {
		t.Errorf("DurationMS = %d", stats.DurationMS)
	}

	pruned, err := testEvents.Prune(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 4 {
		t.Errorf("pruned = %d events, want 4", pruned)
	}
}
