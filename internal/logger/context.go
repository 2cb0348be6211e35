package logger

import "context"

// Unexported key types keep these values invisible to other packages'
// context lookups.
type requestIDKey struct{}

type runIDKey struct{}

// WithRequestID stores the HTTP request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID from the context, or "" when unset.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRunID stores the sequence run ID in the context. Run executor
// goroutines detach from the originating request, so the run ID is the
// correlation key that survives into their logs and published messages.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run ID from the context, or "" when unset.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
