// Package middleware provides HTTP middleware for OpForge.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/halcyonsec/OpForge/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with an ID for log correlation. A
// caller-supplied X-Request-ID is honored so IDs survive proxy hops;
// otherwise a fresh UUID is minted. The ID travels in the request
// context and is echoed on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
