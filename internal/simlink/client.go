package simlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the relay
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the relay
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBufferSize   = 256
	eventsBufferSize = 1024

	DefaultRequestTimeout = 5 * time.Second
)

// WSDialer connects to the simulator relay over a websocket.
type WSDialer struct {
	URL            string
	ClientName     string
	RequestTimeout time.Duration
	Header         http.Header
	logger         *zap.Logger
	dialer         *websocket.Dialer
}

func NewWSDialer(url, clientName string, requestTimeout, dialTimeout time.Duration, logger *zap.Logger) *WSDialer {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &WSDialer{
		URL:            url,
		ClientName:     clientName,
		RequestTimeout: requestTimeout,
		logger:         logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
	}
}

// Dial opens the websocket and introduces the client. The returned Conn is
// ready for subscriptions.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, types.NewTransportError(d.URL, "dial", err)
	}

	c := &wsConn{
		conn:           ws,
		url:            d.URL,
		logger:         d.logger,
		requestTimeout: d.RequestTimeout,
		send:           make(chan []byte, sendBufferSize),
		events:         make(chan ValueChanged, eventsBufferSize),
		done:           make(chan struct{}),
		pending:        make(map[uint64]chan Frame),
	}

	go c.writePump()
	go c.readPump()

	if _, err := c.request(ctx, Frame{Type: FrameHello, Client: d.ClientName}); err != nil {
		c.Close()
		return nil, fmt.Errorf("simulator hello failed: %w", err)
	}

	d.logger.Info("Connected to simulator",
		zap.String("url", d.URL),
		zap.String("client", d.ClientName))

	return c, nil
}

type wsConn struct {
	conn           *websocket.Conn
	url            string
	logger         *zap.Logger
	requestTimeout time.Duration

	send   chan []byte
	events chan ValueChanged

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan Frame
}

func (c *wsConn) Subscribe(ctx context.Context, id types.VariableID) (Handle, error) {
	resp, err := c.request(ctx, Frame{Type: FrameSubscribe, Name: id.Name, Unit: id.Unit})
	if err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", id, err)
	}
	if resp.Type != FrameSubscribed {
		return 0, fmt.Errorf("subscribe %s: unexpected %s reply", id, resp.Type)
	}
	return resp.Handle, nil
}

func (c *wsConn) SetValue(ctx context.Context, h Handle, value float64) error {
	return c.enqueue(ctx, Frame{Type: FrameSet, Handle: h, Value: value})
}

func (c *wsConn) TransmitEvent(ctx context.Context, name string, value float64) error {
	return c.enqueue(ctx, Frame{Type: FrameEvent, Name: name, Value: value})
}

func (c *wsConn) Events() <-chan ValueChanged { return c.events }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.fail(ErrClosed)
	return nil
}

// fail records the first terminal error and tears the session down.
func (c *wsConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = c.nextID.Add(1)

	reply := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[f.ID] = reply
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, f.ID)
		c.pendingMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if err := c.enqueue(ctx, f); err != nil {
		return Frame{}, err
	}

	select {
	case resp := <-reply:
		if resp.Type == FrameError {
			return Frame{}, fmt.Errorf("simulator: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, c.Err()
	}
}

func (c *wsConn) enqueue(ctx context.Context, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return c.Err()
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

func (c *wsConn) readPump() {
	defer func() {
		close(c.events)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(ErrQuit)
			} else {
				c.fail(types.NewTransportError(c.url, "read", err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			c.logger.Warn("Ignoring non-binary simulator message", zap.Int("type", msgType))
			continue
		}

		f, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("Ignoring undecodable simulator frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case FrameChanged:
			select {
			case c.events <- ValueChanged{Handle: f.Handle, Value: f.Value}:
			case <-c.done:
				return
			}

		case FrameQuit:
			c.fail(ErrQuit)
			return

		default:
			if f.ID != 0 && c.deliver(f) {
				continue
			}
			if f.Type == FrameError {
				c.logger.Warn("Simulator reported an error", zap.String("error", f.Error))
				continue
			}
			c.logger.Debug("Ignoring unsolicited simulator frame", zap.String("type", string(f.Type)))
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *wsConn) deliver(f Frame) bool {
	c.pendingMu.Lock()
	reply, ok := c.pending[f.ID]
	c.pendingMu.Unlock()
	if !ok {
		return false
	}
	reply <- f
	return true
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.fail(types.NewTransportError(c.url, "write", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(types.NewTransportError(c.url, "ping", err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// IsQuit reports whether err means the simulator ended the session on its own.
func IsQuit(err error) bool {
	return errors.Is(err, ErrQuit)
}
