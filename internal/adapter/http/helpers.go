package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/halcyonsec/OpForge/internal/domain"
)

// maxRequestBodySize caps request bodies at 1 MiB. Start and cancel
// payloads are tiny; anything larger is a client bug or abuse.
const maxRequestBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// readJSON decodes the request body into T. On failure it writes the
// error response itself and returns ok=false, so callers can simply
// return.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain sentinel errors to HTTP statuses.
// notFoundMsg is used for 404s so route handlers control the noun
// ("run not found" vs "sequence not found") without leaking internals.
func writeDomainError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrConflict):
		msg := strings.TrimSuffix(err.Error(), ": "+domain.ErrConflict.Error())
		writeError(w, http.StatusConflict, msg)
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "concurrent run limit reached, retry later")
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the real error and returns a generic 500 so
// callers never see storage or broker details.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
