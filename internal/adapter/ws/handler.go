// Package ws implements the WebSocket adapter streaming live run and
// step updates to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for every frame on the wire.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn is one attached client. A non-empty run means the client asked
// for a single run's events via the ?run query parameter; an empty run
// receives everything.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	run    string
}

// Hub tracks attached clients and fans run events out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{})}
}

// HandleWS upgrades the request to a WebSocket and registers the client
// until it disconnects. `GET /ws` streams every run; `GET /ws?run=<id>`
// narrows the stream to one run, which operator consoles use to watch a
// single sequence without filtering client-side.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: sock, cancel: cancel, run: r.URL.Query().Get("run")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "run_filter", c.run)

	// Drain inbound frames so pings are consumed and disconnects are
	// noticed promptly.
	go func() {
		defer func() {
			h.detach(c)
			_ = sock.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := sock.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast delivers msg to every client whose run filter admits runID.
// An empty runID reaches unfiltered clients only.
func (h *Hub) Broadcast(ctx context.Context, runID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if c.run != "" && c.run != runID {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.detach(c)
		}
	}
}

// ConnectionCount reports how many clients are attached, for the
// health endpoint.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "run_filter", c.run)
	}
}
