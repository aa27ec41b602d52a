package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"loupe/internal/logging"
	"loupe/internal/observability"
)

// Hub fans activity transitions out to dashboard WebSocket clients. Writes
// are serialised per client; a client that cannot keep up is dropped.
type Hub struct {
	logger  logging.Logger
	metrics *observability.MetricsCollector

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*hubClient
}

type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards writes; reads stay on the handler goroutine
}

// NewHub builds an empty hub.
func NewHub(logger logging.Logger, metrics *observability.MetricsCollector) *Hub {
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	return &Hub{
		logger:  logging.OrNop(logger),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The loopback bind is the trust boundary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*hubClient),
	}
}

// Broadcast sends {type:"activity_update", data:payload} to every client.
func (h *Hub) Broadcast(payload any) {
	message := gin.H{"type": "activity_update", "data": payload}

	h.mu.Lock()
	snapshot := make(map[string]*hubClient, len(h.clients))
	for id, cl := range h.clients {
		snapshot[id] = cl
	}
	h.mu.Unlock()

	for id, cl := range snapshot {
		cl.mu.Lock()
		err := cl.conn.WriteJSON(message)
		cl.mu.Unlock()
		if err != nil {
			h.logger.Debug("dropping ws client %s: %v", id, err)
			h.remove(id)
		}
	}
}

// ClientCount reports connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*hubClient)
	h.mu.Unlock()
	for _, cl := range clients {
		_ = cl.conn.Close()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	cl, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		_ = cl.conn.Close()
		h.metrics.AddWSClient(context.Background(), -1)
	}
}

// handleClient upgrades the connection and services it until it drops.
// Inbound "ping" text is answered with "pong"; everything else is ignored.
func (h *Hub) handleClient(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	cl := &hubClient{conn: conn}
	h.mu.Lock()
	h.clients[id] = cl
	h.mu.Unlock()
	h.metrics.AddWSClient(c.Request.Context(), 1)
	h.logger.Debug("ws client %s connected", id)

	defer h.remove(id)
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && string(payload) == "ping" {
			cl.mu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			cl.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
