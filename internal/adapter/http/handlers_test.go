package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	ofhttp "github.com/halcyonsec/OpForge/internal/adapter/http"
	"github.com/halcyonsec/OpForge/internal/config"
	"github.com/halcyonsec/OpForge/internal/domain"
	"github.com/halcyonsec/OpForge/internal/domain/event"
	"github.com/halcyonsec/OpForge/internal/domain/facts"
	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/domain/sequence"
	"github.com/halcyonsec/OpForge/internal/port/database"
	"github.com/halcyonsec/OpForge/internal/port/eventstore"
	"github.com/halcyonsec/OpForge/internal/port/jobapi"
	"github.com/halcyonsec/OpForge/internal/port/messagequeue"
	"github.com/halcyonsec/OpForge/internal/service"
)

// --- Mocks ---

var errAPINotFound = fmt.Errorf("mock: %w", domain.ErrNotFound)

type mockStore struct {
	mu       sync.Mutex
	runs     map[string]*run.Run
	outcomes map[string][]run.StepOutcome
}

func newMockStore() *mockStore {
	return &mockStore{
		runs:     make(map[string]*run.Run),
		outcomes: make(map[string][]run.StepOutcome),
	}
}

func (m *mockStore) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r.Clone()
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, errAPINotFound
	}
	out := r.Clone()
	if saved := m.outcomes[id]; len(saved) > 0 {
		out.Outcomes = append([]run.StepOutcome{}, saved...)
	}
	return out, nil
}

func (m *mockStore) ListRuns(_ context.Context, filter database.RunFilter) ([]run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []run.Run
	for _, r := range m.runs {
		if filter.Sequence != "" && r.Sequence != filter.Sequence {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r.Clone())
	}
	// Newest first, the same contract the real store implements in SQL.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartedAt.After(out[j-1].StartedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) UpdateRunStatus(_ context.Context, id string, status run.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return errAPINotFound
	}
	r.Status = status
	return nil
}

func (m *mockStore) FinishRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		return errAPINotFound
	}
	m.runs[r.ID] = r.Clone()
	m.outcomes[r.ID] = append([]run.StepOutcome{}, r.Outcomes...)
	return nil
}

func (m *mockStore) UpsertStepOutcome(_ context.Context, runID string, o run.StepOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, saved := range m.outcomes[runID] {
		if saved.Index == o.Index {
			m.outcomes[runID][i] = o
			return nil
		}
	}
	m.outcomes[runID] = append(m.outcomes[runID], o)
	return nil
}

func (m *mockStore) ListStepOutcomes(_ context.Context, runID string) ([]run.StepOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]run.StepOutcome{}, m.outcomes[runID]...), nil
}

func (m *mockStore) PruneRuns(context.Context, time.Time) (int64, error) { return 0, nil }

type mockEvents struct {
	mu  sync.Mutex
	evs []event.RunEvent
}

func (m *mockEvents) Append(_ context.Context, ev *event.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = fmt.Sprintf("ev-%d", len(m.evs)+1)
	ev.CreatedAt = time.Now().UTC()
	m.evs = append(m.evs, *ev)
	return nil
}

func (m *mockEvents) LoadByRun(_ context.Context, runID string, filter eventstore.Filter) ([]event.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.RunEvent
	for _, ev := range m.evs {
		if ev.RunID != runID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *mockEvents) Stats(context.Context, string) (*eventstore.Summary, error) {
	return &eventstore.Summary{EventCounts: map[string]int{}}, nil
}

func (m *mockEvents) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func containsType(types []event.Type, t event.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

type mockQueue struct{}

func (mockQueue) Publish(context.Context, string, []byte) error { return nil }
func (mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (mockQueue) Drain() error      { return nil }
func (mockQueue) Close() error      { return nil }
func (mockQueue) IsConnected() bool { return true }

type mockHub struct{}

func (mockHub) BroadcastEvent(context.Context, string, any) {}

// fakeJobs is a remote job API where every job reports the same
// lifecycle state on every poll. "finished" completes runs on the first
// poll; "running" parks them until the run is cancelled.
type fakeJobs struct {
	mu        sync.Mutex
	state     string
	collected []facts.Fact
	submitted int
}

func (f *fakeJobs) Submit(context.Context, map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	return fmt.Sprintf("job-%d", f.submitted), nil
}

func (f *fakeJobs) Poll(_ context.Context, jobID string) (*jobapi.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &jobapi.Job{ID: jobID, State: f.state}, nil
}

func (f *fakeJobs) Report(context.Context, string) ([]facts.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]facts.Fact{}, f.collected...), nil
}

func (f *fakeJobs) Cancel(context.Context, string) error { return nil }

// --- Fixture ---

const reconSweepDoc = `name: recon-sweep
description: Ping sweep then service scan
steps:
  - name: sweep
    job:
      profile: discovery
  - name: scan
    job:
      profile: service-scan
    inherit_facts: true
`

type apiFixture struct {
	router *chi.Mux
	store  *mockStore
	svc    *service.RunService
}

func newAPIFixture(t *testing.T, jobs *fakeJobs) *apiFixture {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "recon-sweep.yaml"), []byte(reconSweepDoc), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	cfg := config.Sequencer{
		SpecsDir:      dir,
		PollInterval:  time.Millisecond,
		StepBudget:    time.Minute,
		MaxRetries:    1,
		MaxConcurrent: 1,
		SpecCacheTTL:  time.Minute,
		DrainTimeout:  time.Second,
	}

	f := &apiFixture{store: newMockStore()}
	specs := service.NewSpecService(dir, nil, cfg.SpecCacheTTL)
	runner := service.NewStepRunner(jobs, cfg.PollInterval)
	f.svc = service.NewRunService(cfg, f.store, &mockEvents{}, mockQueue{}, mockHub{}, specs, runner, nil, nil)
	t.Cleanup(func() { f.svc.Drain(250 * time.Millisecond) })

	f.router = chi.NewRouter()
	ofhttp.MountRoutes(f.router, &ofhttp.Handlers{Runs: f.svc, Specs: specs})
	return f
}

// awaitIdle blocks until every live executor has finished persisting.
func (f *apiFixture) awaitIdle(t *testing.T) {
	t.Helper()
	f.svc.Drain(5 * time.Second)
}

func (f *apiFixture) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

// --- Run endpoints ---

func TestStartRun_AcceptedAndRunsToCompletion(t *testing.T) {
	jobs := &fakeJobs{state: "finished", collected: []facts.Fact{{Trait: "host.ip", Value: "10.1.2.3"}}}
	f := newAPIFixture(t, jobs)

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1", Group: "red"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}

	started := decodeBody[run.Run](t, w)
	if started.ID == "" || started.Status != run.StatusRunning || started.TotalSteps != 2 {
		t.Fatalf("start snapshot = %+v, want a running two-step run", started)
	}

	f.awaitIdle(t)

	w = f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	got := decodeBody[run.Run](t, w)
	if got.Status != run.StatusCompleted {
		t.Fatalf("run status = %s (error %q), want completed", got.Status, got.Error)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", got.Outcomes)
	}
	if got.FactsCollected != 2 {
		t.Errorf("facts collected = %d, want 2 (one per step)", got.FactsCollected)
	}
	if got.CompletedAt == nil {
		t.Error("completed run must carry a completion time")
	}
}

func TestStartRun_MissingSequence(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"target": map[string]string{"name": "lab-dc1"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decodeBody[map[string]string](t, w)
	if resp["error"] != "sequence is required" {
		t.Errorf("error = %q, want field-level message", resp["error"])
	}
}

func TestStartRun_UnknownSequence(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "ghost-chain",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	resp := decodeBody[map[string]string](t, w)
	if resp["error"] != "sequence not found" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestStartRun_MalformedBody(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid JSON body") {
		t.Errorf("body = %s, want a JSON decode error", w.Body.String())
	}
}

func TestStartRun_PoolFull(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "running"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("first start status = %d, want 202", w.Code)
	}
	first := decodeBody[run.Run](t, w)

	w = f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc2"},
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second start status = %d, want 429", w.Code)
	}

	// Unpark the first run so the fixture drains quickly.
	if err := f.svc.Cancel(context.Background(), first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/runs/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	resp := decodeBody[map[string]string](t, w)
	if resp["error"] != "run not found" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestListRuns_FiltersAndLimit(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []*run.Run{
		{ID: "r-old", Sequence: "recon-sweep", Status: run.StatusCompleted, StartedAt: base},
		{ID: "r-new", Sequence: "recon-sweep", Status: run.StatusCancelled, StartedAt: base.Add(time.Hour)},
		{ID: "r-other", Sequence: "lateral-move", Status: run.StatusCompleted, StartedAt: base.Add(2 * time.Hour)},
	}
	for _, r := range seed {
		if err := f.store.CreateRun(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := f.do(t, http.MethodGet, "/api/v1/runs", nil)
	if got := decodeBody[[]run.Run](t, w); len(got) != 3 {
		t.Fatalf("unfiltered list = %d runs, want 3", len(got))
	}

	w = f.do(t, http.MethodGet, "/api/v1/runs?sequence=recon-sweep", nil)
	if got := decodeBody[[]run.Run](t, w); len(got) != 2 {
		t.Fatalf("sequence filter = %d runs, want 2", len(got))
	}

	w = f.do(t, http.MethodGet, "/api/v1/runs?sequence=recon-sweep&status=completed", nil)
	got := decodeBody[[]run.Run](t, w)
	if len(got) != 1 || got[0].ID != "r-old" {
		t.Fatalf("combined filter = %+v, want only r-old", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/runs?limit=1", nil)
	got = decodeBody[[]run.Run](t, w)
	if len(got) != 1 || got[0].ID != "r-other" {
		t.Fatalf("limit=1 = %+v, want the newest run", got)
	}
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %s, want an empty JSON array", body)
	}
}

func TestListRuns_BadLimit(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	for _, limit := range []string{"abc", "-3"} {
		w := f.do(t, http.MethodGet, "/api/v1/runs?limit="+limit, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, w.Code)
		}
	}
}

func TestCancelRun_Flow(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "running"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	started := decodeBody[run.Run](t, w)

	w = f.do(t, http.MethodPost, "/api/v1/runs/"+started.ID+"/cancel", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeBody[map[string]string](t, w)
	if resp["status"] != "cancelling" {
		t.Errorf("cancel response = %+v", resp)
	}

	f.awaitIdle(t)

	w = f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID, nil)
	if got := decodeBody[run.Run](t, w); got.Status != run.StatusCancelled {
		t.Errorf("run status after cancel = %s, want cancelled", got.Status)
	}
}

func TestCancelRun_NotFound(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodPost, "/api/v1/runs/ghost/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCancelRun_AlreadyFinished(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	started := decodeBody[run.Run](t, w)
	f.awaitIdle(t)

	w = f.do(t, http.MethodPost, "/api/v1/runs/"+started.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeBody[map[string]string](t, w)
	if !strings.Contains(resp["error"], "is completed") {
		t.Errorf("error = %q, want the current status in the message", resp["error"])
	}
}

func TestRetryRun_StartsLinkedRun(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	// An earlier run that tripped a critical step and aborted.
	aborted := &run.Run{
		ID:        "r-aborted",
		Sequence:  "recon-sweep",
		Status:    run.StatusAborted,
		Target:    sequence.Target{Name: "lab-dc1", Group: "red"},
		StartedAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := f.store.CreateRun(context.Background(), aborted); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/v1/runs/"+aborted.ID+"/retry", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("retry status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	retried := decodeBody[run.Run](t, w)
	if retried.ID == aborted.ID || retried.RetriedFrom != aborted.ID {
		t.Fatalf("retried run = %+v, want a fresh run linked to %s", retried, aborted.ID)
	}
	if retried.Target != aborted.Target {
		t.Errorf("retried target = %+v, want the original target", retried.Target)
	}

	f.awaitIdle(t)

	w = f.do(t, http.MethodGet, "/api/v1/runs/"+retried.ID, nil)
	if got := decodeBody[run.Run](t, w); got.Status != run.StatusCompleted {
		t.Errorf("retried run status = %s, want completed", got.Status)
	}
}

func TestRetryRun_CompletedNotRetryable(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	started := decodeBody[run.Run](t, w)
	f.awaitIdle(t)

	w = f.do(t, http.MethodPost, "/api/v1/runs/"+started.ID+"/retry", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeBody[map[string]string](t, w)
	if !strings.Contains(resp["error"], "not retryable") {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestRetryRun_ConflictWhileRunning(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "running"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	started := decodeBody[run.Run](t, w)

	w = f.do(t, http.MethodPost, "/api/v1/runs/"+started.ID+"/retry", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	resp := decodeBody[map[string]string](t, w)
	if !strings.Contains(resp["error"], "not retryable") {
		t.Errorf("error = %q", resp["error"])
	}

	if err := f.svc.Cancel(context.Background(), started.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestListRunEvents(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodPost, "/api/v1/runs", run.StartRequest{
		Sequence: "recon-sweep",
		Target:   sequence.Target{Name: "lab-dc1"},
	})
	started := decodeBody[run.Run](t, w)
	f.awaitIdle(t)

	w = f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	evs := decodeBody[[]event.RunEvent](t, w)
	if len(evs) < 2 {
		t.Fatalf("trail = %d events, want at least start and finish", len(evs))
	}
	if evs[0].Type != event.TypeRunStarted || evs[len(evs)-1].Type != event.TypeRunFinished {
		t.Errorf("trail bounds = %s...%s, want run.started...run.finished", evs[0].Type, evs[len(evs)-1].Type)
	}

	w = f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID+"/events?type=run.finished", nil)
	filtered := decodeBody[[]event.RunEvent](t, w)
	if len(filtered) != 1 || filtered[0].Type != event.TypeRunFinished {
		t.Errorf("filtered trail = %+v, want exactly the finish event", filtered)
	}
}

func TestListRunEvents_UnknownRun(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/runs/ghost/events", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

// --- Sequence endpoints ---

func TestListSequences(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/sequences", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decodeBody[[]sequence.Summary](t, w)
	if len(got) != 1 || got[0].Name != "recon-sweep" || got[0].Steps != 2 {
		t.Fatalf("summaries = %+v, want recon-sweep with 2 steps", got)
	}
}

func TestGetSequence(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/sequences/recon-sweep", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	spec := decodeBody[sequence.Spec](t, w)
	if spec.Name != "recon-sweep" || len(spec.Steps) != 2 {
		t.Fatalf("spec = %+v, want the full recon-sweep definition", spec)
	}
	if !spec.Steps[1].InheritFacts {
		t.Error("second step should inherit facts")
	}
}

func TestGetSequence_NotFound(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/sequences/ghost-chain", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	resp := decodeBody[map[string]string](t, w)
	if resp["error"] != "sequence not found" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestVersionRoute(t *testing.T) {
	f := newAPIFixture(t, &fakeJobs{state: "finished"})

	w := f.do(t, http.MethodGet, "/api/v1/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "version") {
		t.Errorf("body = %s", w.Body.String())
	}
}
