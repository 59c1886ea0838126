package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/auth"
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cockpit dashboards are served from other origins on the LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client represents a WebSocket client connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	authenticated bool
	registered    bool
	principal     *auth.Principal

	mu     sync.Mutex
	closed bool
	kinds  map[diagnostics.Kind]bool // nil streams everything
}

// enqueue queues data without blocking. It reports false if the buffer is
// full or the client is shutting down.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(kind diagnostics.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds == nil || c.kinds[kind]
}

func (c *Client) subscribe(kinds []diagnostics.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(kinds) == 0 {
		c.kinds = nil
		return
	}
	c.kinds = make(map[diagnostics.Kind]bool, len(kinds))
	for _, k := range kinds {
		c.kinds[k] = true
	}
}

// readPump handles reading messages from the WebSocket connection. The
// write pump owns the connection and closes it once send is closed.
func (c *Client) readPump() {
	defer func() {
		if c.registered {
			c.hub.leave(c)
		}
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if c.authenticated {
		if !c.join() {
			return
		}
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			if !c.join() {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != "auth" {
		c.reply(MessageTypeAuthFailed, fields{"reason": "First message must be authentication"})
		return false
	}
	if msg.Token == "" {
		c.reply(MessageTypeAuthFailed, fields{"reason": "Missing token in auth message"})
		return false
	}

	principal, err := c.hub.authService.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err))
		c.reply(MessageTypeAuthFailed, fields{"reason": "Invalid or expired token"})
		return false
	}

	c.authenticated = true
	c.principal = principal
	c.conn.SetReadDeadline(time.Time{}) // Remove deadline

	c.reply(MessageTypeAuthSuccess, fields{"permissions": principal.Permissions})
	c.logger.Info("WebSocket client authenticated",
		zap.String("principal", principal.Name))
	return true
}

// join registers with the hub, only after auth.
func (c *Client) join() bool {
	c.registered = c.hub.join(c)
	return c.registered
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Kinds)
		c.reply(MessageTypeSubscribed, fields{"kinds": msg.Kinds})
	default:
		c.logger.Debug("Unknown client message",
			zap.String("type", msg.Type))
		c.reply(MessageTypeError, fields{"reason": "unknown message type " + msg.Type})
	}
}

type fields map[string]interface{}

func (c *Client) reply(t MessageType, data interface{}) {
	payload, err := json.Marshal(NewMessage(t, data))
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		logger:        hub.logger.With(zap.String("client_id", id)),
		authenticated: !hub.authService.Enabled(),
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
