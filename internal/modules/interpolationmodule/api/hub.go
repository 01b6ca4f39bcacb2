package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

const (
	clientBuffer = 256
	writeTimeout = 10 * time.Second
)

// Message is one websocket frame sent to clients.
type Message struct {
	Type      string      `json:"type"` // log, notification or state
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type logLine struct {
	Line   string       `json:"line"`
	Stream types.Stream `json:"stream"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub streams engine output, notifications and state changes to websocket
// clients. It is a types.LogObserver and a types.Notifier. Slow clients
// drop messages instead of stalling the engine's output drain.
type Hub struct {
	upgrader websocket.Upgrader
	logger   hclog.Logger

	mu        sync.RWMutex
	clients   map[string]*client
	sessionID string
}

// NewHub creates an empty hub.
func NewHub(logger hclog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger.Named("ws"),
		clients: make(map[string]*client),
	}
}

// OnLogEvent broadcasts an engine output line.
func (h *Hub) OnLogEvent(event types.LogEvent) {
	h.mu.RLock()
	sessionID := h.sessionID
	h.mu.RUnlock()

	h.broadcast(Message{
		Type:      "log",
		SessionID: sessionID,
		Data:      logLine{Line: event.Line, Stream: event.Stream},
		Timestamp: event.Timestamp.Unix(),
	})
}

// Notify broadcasts a run's notification.
func (h *Hub) Notify(n types.Notification) {
	h.broadcast(Message{
		Type:      "notification",
		SessionID: n.SessionID,
		Data:      n,
		Timestamp: n.Timestamp.Unix(),
	})
}

// PublishState broadcasts a session snapshot.
func (h *Hub) PublishState(snap types.SessionSnapshot) {
	h.mu.Lock()
	h.sessionID = snap.ID
	h.mu.Unlock()

	h.broadcast(Message{
		Type:      "state",
		SessionID: snap.ID,
		Data:      snap,
		Timestamp: time.Now().Unix(),
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles GET /api/v1/interpolation/ws
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		id:   fmt.Sprintf("client_%d", time.Now().UnixNano()),
		conn: conn,
		send: make(chan Message, clientBuffer),
	}
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	h.logger.Debug("client connected", "client", cl.id)

	go h.writePump(cl)
	h.readPump(cl)
}

// readPump discards client messages until the connection closes.
func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	defer cl.conn.Close()
	for msg := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("write failed, dropping client", "client", cl.id, "error", err)
			return
		}
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl.id]; ok {
		delete(h.clients, cl.id)
		close(cl.send)
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", "client", cl.id)
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cl := range h.clients {
		delete(h.clients, id)
		close(cl.send)
	}
}
