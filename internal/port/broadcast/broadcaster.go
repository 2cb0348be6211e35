// Package broadcast defines the port for pushing live run updates to
// connected operator clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client. Sends
// are fire-and-forget: a slow or gone client never blocks the run
// executor, so there is no error return.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
