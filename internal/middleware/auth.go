package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/halcyonsec/OpForge/internal/config"
)

const headerAPIKey = "X-API-Key"

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// Auth returns middleware that validates the operator API key against
// the configured bcrypt hash. When cfg.Enabled is false all requests
// pass through. Browsers cannot set headers on WebSocket upgrades, so
// /ws also accepts the key via the ?key= query parameter.
func Auth(cfg config.Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerAPIKey)
			if key == "" && r.URL.Path == "/ws" {
				key = r.URL.Query().Get("key")
			}
			if key == "" {
				unauthorized(w, "authorization required")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(cfg.APIKeyHash), []byte(key)); err != nil {
				unauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
