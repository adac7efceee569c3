// Package ws pushes live session updates to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages. SessionID scopes the
// message for clients that subscribed to a single session.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// controlFrame is what clients may send. A non-empty subscribe narrows the
// stream to one session; an empty one returns to the firehose.
type controlFrame struct {
	Subscribe string `json:"subscribe"`
}

// conn wraps a single WebSocket connection and its session filter.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc

	mu     sync.Mutex
	filter string // session ID, or "" for all sessions
}

func (c *conn) wants(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter == "" || sessionID == "" || c.filter == sessionID
}

func (c *conn) setFilter(sessionID string) {
	c.mu.Lock()
	c.filter = sessionID
	c.mu.Unlock()
}

// Hub manages active WebSocket connections and fans session events out to
// them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket and registers the connection
// with the hub until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop: consumes pings, applies subscribe frames, detects
	// disconnects.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var frame controlFrame
			if json.Unmarshal(data, &frame) == nil {
				c.setFilter(frame.Subscribe)
			}
		}
	}()
}

// Broadcast sends a message to every connection whose filter matches the
// message's session.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if !c.wants(msg.SessionID) {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
