// Package http exposes the REST control surface: starting and inspecting
// sequence runs, and browsing the loaded sequence catalog.
package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halcyonsec/OpForge/internal/domain/event"
	"github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/domain/sequence"
	"github.com/halcyonsec/OpForge/internal/port/database"
	"github.com/halcyonsec/OpForge/internal/port/eventstore"
	"github.com/halcyonsec/OpForge/internal/service"
)

// Handlers bundles the services the REST layer dispatches to.
type Handlers struct {
	Runs  *service.RunService
	Specs *service.SpecService
}

// StartRun handles POST /api/v1/runs.
//
// The run is accepted and executed in the background, so the response
// is 202 with the initial snapshot rather than 201 with a final state.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.StartRequest](w, r)
	if !ok {
		return
	}

	started, err := h.Runs.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "sequence not found")
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}

// ListRuns handles GET /api/v1/runs. Supports ?sequence=, ?status= and
// ?limit= query filters.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.RunFilter{
		Sequence: q.Get("sequence"),
		Status:   run.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	runs, err := h.Runs.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if runs == nil {
		runs = []run.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	rn, err := h.Runs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

// CancelRun handles POST /api/v1/runs/{runID}/cancel.
//
// Cancellation is asynchronous: the executor observes the cancelled
// context at its next poll, so 202 reports the request was delivered,
// not that the run has already stopped.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if err := h.Runs.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// RetryRun handles POST /api/v1/runs/{runID}/retry. The new run links
// back to the failed one via retried_from.
func (h *Handlers) RetryRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	rn, err := h.Runs.Retry(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusAccepted, rn)
}

// ListRunEvents handles GET /api/v1/runs/{runID}/events. Repeated
// ?type= parameters narrow the result to those event types.
func (h *Handlers) ListRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	var filter eventstore.Filter
	for _, t := range r.URL.Query()["type"] {
		filter.Types = append(filter.Types, event.Type(t))
	}

	events, err := h.Runs.Events(r.Context(), id, filter)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	if events == nil {
		events = []event.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListSequences handles GET /api/v1/sequences.
func (h *Handlers) ListSequences(w http.ResponseWriter, r *http.Request) {
	specs, err := h.Specs.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if specs == nil {
		specs = []sequence.Summary{}
	}
	writeJSON(w, http.StatusOK, specs)
}

// GetSequence handles GET /api/v1/sequences/{name}, returning the full
// parsed spec including its steps.
func (h *Handlers) GetSequence(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	spec, err := h.Specs.Get(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "sequence not found")
		return
	}
	writeJSON(w, http.StatusOK, spec)
}
