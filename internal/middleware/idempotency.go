package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotency-Replayed"

	// maxCachedBody caps the response size stored per key. Larger
	// responses are served but not recorded.
	maxCachedBody = 1 << 20
)

// storedResponse is the JSON snapshot of a completed response, keyed by
// the client's idempotency key in the KV bucket.
type storedResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency deduplicates mutating requests carrying an
// Idempotency-Key header. The first request is executed and its
// response snapshot is written to the NATS KV bucket; repeats with the
// same key replay the snapshot without reaching the handler. Responses
// with 5xx status are not recorded, so a retried request gets a fresh
// attempt. Requests without the header pass straight through.
func Idempotency(kv jetstream.KeyValue) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if entry, err := kv.Get(r.Context(), key); err == nil {
				var snap storedResponse
				if err := json.Unmarshal(entry.Value(), &snap); err == nil {
					replay(w, snap)
					return
				}
				slog.Warn("idempotency snapshot corrupt, re-executing", "key", key)
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status >= http.StatusInternalServerError || cw.body.Len() > maxCachedBody {
				return
			}
			snap := storedResponse{
				StatusCode: cw.status,
				Headers:    cw.Header().Clone(),
				Body:       cw.body.Bytes(),
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return
			}
			if _, err := kv.Put(r.Context(), key, data); err != nil {
				slog.Warn("idempotency snapshot store failed", "key", key, "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, snap storedResponse) {
	for name, vals := range snap.Headers {
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(snap.StatusCode)
	_, _ = w.Write(snap.Body)
}

// captureWriter tees the response so it can be snapshotted after the
// handler returns.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
