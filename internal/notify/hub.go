// Package notify pushes progress, ask-user, and failure events to connected
// clients over websockets. Delivery is best-effort fire-and-forget: the
// loop never blocks on a slow or dead client.
package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event kinds pushed to clients.
const (
	KindProgress = "progress"
	KindAskUser  = "ask_user"
	KindFailure  = "failure"
)

// Event is the wire format of one push notification.
type Event struct {
	Kind      string   `json:"kind"`
	RequestID string   `json:"request_id"`
	Iteration int      `json:"iteration,omitempty"`
	Percent   int      `json:"percent,omitempty"`
	Message   string   `json:"message,omitempty"`
	Question  string   `json:"question,omitempty"`
	Options   []string `json:"options,omitempty"`
	TimeoutMS int64    `json:"timeout_ms,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Hub fans events out to every connected websocket client.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	// writeMu serializes broadcasts; gorilla connections do not support
	// concurrent writers.
	writeMu sync.Mutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the structured logger for the hub.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// NewHub creates a hub with no connected clients.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
		conns:  make(map[*websocket.Conn]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleWS upgrades an HTTP request to a websocket subscription. The
// connection stays registered until the peer closes it.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	h.logger.Info("client subscribed", "remote", conn.RemoteAddr().String())

	// Drain reads so close frames and pings are processed; drop the
	// connection when the peer goes away.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Progress pushes an iteration progress event.
func (h *Hub) Progress(requestID string, iteration, percent int, message string) {
	h.broadcast(Event{
		Kind:      KindProgress,
		RequestID: requestID,
		Iteration: iteration,
		Percent:   percent,
		Message:   message,
	})
}

// AskUser pushes a pending question to the client. Implements the
// askuser.Publisher interface.
func (h *Hub) AskUser(requestID, question string, options []string, timeout time.Duration) {
	h.broadcast(Event{
		Kind:      KindAskUser,
		RequestID: requestID,
		Question:  question,
		Options:   options,
		TimeoutMS: timeout.Milliseconds(),
	})
}

// Failure pushes a failure notification with a human-readable reason.
func (h *Hub) Failure(requestID, reason string) {
	h.broadcast(Event{
		Kind:      KindFailure,
		RequestID: requestID,
		Reason:    reason,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) broadcast(ev Event) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(ev); err != nil {
			h.logger.Warn("push failed, dropping client",
				"remote", c.RemoteAddr().String(),
				"error", err,
			)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}
