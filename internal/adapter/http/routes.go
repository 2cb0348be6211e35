package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the versioned API on the given chi router.
// Health, readiness and the WebSocket endpoint live outside /api/v1
// and are mounted by the caller.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sequence runs
		r.Post("/runs", h.StartRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{runID}", h.GetRun)
		r.Post("/runs/{runID}/cancel", h.CancelRun)
		r.Post("/runs/{runID}/retry", h.RetryRun)
		r.Get("/runs/{runID}/events", h.ListRunEvents)

		// Sequence catalog
		r.Get("/sequences", h.ListSequences)
		r.Get("/sequences/{name}", h.GetSequence)
	})
}
