package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to batch subscribers
	broadcast chan *BroadcastMessage

	logger *slog.Logger
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     logging.WithComponent(logger, "websocket"),
	}
}

// Run starts the hub's main loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "batch_id", client.BatchID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.BatchID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.BatchID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "batch_id", client.BatchID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.BatchID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribers returns how many clients follow batchID.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[batchID])
}

// Observe is a scheduler observer that forwards beat transitions.
func (h *Hub) Observe(batchID string, stage model.Stage, state model.StageState, beat model.Beat) {
	h.BroadcastBeat(batchID, stage, state, beat)
}

// BroadcastBeat sends a stage transition to all batch subscribers
func (h *Hub) BroadcastBeat(batchID string, stage model.Stage, state model.StageState, beat model.Beat) {
	h.send(batchID, model.WSBeatMessage{
		Type:    model.WSMessageTypeBeat,
		BatchID: batchID,
		Stage:   stage,
		State:   state,
		Beat:    beat,
	})
}

// BroadcastComplete sends the batch result to all batch subscribers
func (h *Hub) BroadcastComplete(batchID string, result *model.BatchResult) {
	h.send(batchID, model.WSCompleteMessage{
		Type:    model.WSMessageTypeComplete,
		BatchID: batchID,
		Result:  result,
	})
}

// BroadcastError sends an error message to all batch subscribers
func (h *Hub) BroadcastError(batchID string, code, message string) {
	h.send(batchID, model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		BatchID: batchID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// send never blocks the caller; a full queue drops the message.
func (h *Hub) send(batchID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "batch_id", batchID, "error", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{BatchID: batchID, Message: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "batch_id", batchID)
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", "batch_id", batchID, "error", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
