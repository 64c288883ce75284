package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/telemetry"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Hub tracks connected observers and fans status updates out to them.
type Hub struct {
	clients   map[*websocket.Conn]string
	clientsMu sync.Mutex
	logger    *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
		logger:  log,
	}
}

// AddClient registers a connection, sends connection_established with the
// assigned client id, and services ping messages until the peer goes away.
func (h *Hub) AddClient(conn *websocket.Conn) {
	clientID := uuid.New().String()

	h.clientsMu.Lock()
	h.clients[conn] = clientID
	count := len(h.clients)
	h.clientsMu.Unlock()

	telemetry.ObserverGauge.Set(float64(count))
	h.logger.Info(context.Background(), "observer connected", map[string]interface{}{
		"client_id": clientID,
		"clients":   count,
	})

	welcome := domain.WSMessage{
		Type: domain.WSTypeConnectionEstablished,
		Data: map[string]interface{}{"clientId": clientID},
	}
	if err := conn.WriteJSON(welcome); err != nil {
		h.removeClient(conn)
		return
	}

	go h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		var msg domain.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == domain.WSTypePing {
			pong := domain.WSMessage{
				Type: domain.WSTypePong,
				Data: map[string]interface{}{"timestamp": time.Now().UnixMilli()},
			}
			h.clientsMu.Lock()
			err := conn.WriteJSON(pong)
			h.clientsMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	clientID, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	conn.Close()
	telemetry.ObserverGauge.Set(float64(count))
	if ok {
		h.logger.Info(context.Background(), "observer disconnected", map[string]interface{}{
			"client_id": clientID,
			"clients":   count,
		})
	}
}

// Broadcast pushes a status update to every connected observer. A write
// failure evicts only that client.
func (h *Hub) Broadcast(ctx context.Context, event domain.StatusEvent) error {
	h.Send(domain.WSMessage{
		Type: domain.WSTypeStatusUpdate,
		Data: event,
	})
	return nil
}

// Send writes an already-shaped protocol message to every client.
func (h *Hub) Send(msg domain.WSMessage) {
	h.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clientsMu.Unlock()

	for _, conn := range conns {
		h.clientsMu.Lock()
		err := conn.WriteJSON(msg)
		h.clientsMu.Unlock()
		if err != nil {
			h.removeClient(conn)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}
