package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/PanelBridge/internal/auth"
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"go.uber.org/zap"
)

type outbound struct {
	kind diagnostics.Kind
	data []byte
}

// Hub maintains active WebSocket clients and streams diagnostics to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	logger      *zap.Logger
	authService *auth.AuthService
	streamer    *diagnostics.Streamer
	done        chan struct{}
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, authService *auth.AuthService, streamer *diagnostics.Streamer) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		clients:     make(map[*Client]bool),
		logger:      logger,
		authService: authService,
		streamer:    streamer,
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	records := h.streamer.Subscribe()
	defer h.streamer.Unsubscribe(records)
	defer close(h.done)

	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id),
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case r, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			data, err := json.Marshal(NewRecordMessage(r))
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
				continue
			}
			h.broadcast(outbound{kind: r.Kind, data: data})
		}
	}
}

func (h *Hub) broadcast(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(msg.kind) {
			continue
		}
		if !client.enqueue(msg.data) {
			// Client send channel full - unregister slow/dead client
			client.closeSend()
			delete(h.clients, client)
			h.logger.Warn("Client send buffer full, unregistering",
				zap.String("client_id", client.id))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
}

// join and leave hand a client to the event loop unless it has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
