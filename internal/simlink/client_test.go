package simlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// relay is a minimal simulator side bridge.
type relay struct {
	t        *testing.T
	mu       sync.Mutex
	received []Frame
	conn     *websocket.Conn
	ready    chan struct{}
	unknown  map[string]bool
}

func newRelay(t *testing.T) (*relay, *httptest.Server) {
	r := &relay{t: t, ready: make(chan struct{}), unknown: map[string]bool{"NO SUCH VAR": true}}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		close(r.ready)
		r.serve(conn)
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *relay) serve(conn *websocket.Conn) {
	handles := map[string]Handle{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			continue
		}

		r.mu.Lock()
		r.received = append(r.received, f)
		r.mu.Unlock()

		switch f.Type {
		case FrameHello:
			r.write(Frame{Type: FrameHello, ID: f.ID})
		case FrameSubscribe:
			if r.unknown[f.Name] {
				r.write(Frame{Type: FrameError, ID: f.ID, Error: "unknown variable"})
				continue
			}
			h, ok := handles[f.Name]
			if !ok {
				h = Handle(len(handles) + 1)
				handles[f.Name] = h
			}
			r.write(Frame{Type: FrameSubscribed, ID: f.ID, Handle: h})
		}
	}
}

func (r *relay) write(f Frame) {
	data, err := EncodeFrame(f)
	require.NoError(r.t, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (r *relay) frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.received))
	copy(out, r.received)
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) Conn {
	d := NewWSDialer(wsURL(srv), "panelbridge-test", time.Second, time.Second, zap.NewNop())
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSConnSubscribeAndWrite(t *testing.T) {
	r, srv := newRelay(t)
	conn := dial(t, srv)
	ctx := context.Background()

	h1, err := conn.Subscribe(ctx, types.VariableID{Name: "LIGHT LANDING", Unit: "bool"})
	require.NoError(t, err)
	h2, err := conn.Subscribe(ctx, types.VariableID{Name: "AIRSPEED INDICATED", Unit: "knots"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	_, err = conn.Subscribe(ctx, types.VariableID{Name: "NO SUCH VAR"})
	assert.Error(t, err)

	require.NoError(t, conn.SetValue(ctx, h1, 1))
	require.NoError(t, conn.TransmitEvent(ctx, "PARKING_BRAKE_SET", 0))

	require.Eventually(t, func() bool { return len(r.frames()) == 6 }, time.Second, 5*time.Millisecond)
	frames := r.frames()
	assert.Equal(t, FrameHello, frames[0].Type)
	assert.Equal(t, "panelbridge-test", frames[0].Client)
	assert.Equal(t, "LIGHT LANDING", frames[1].Name)
	assert.Equal(t, "bool", frames[1].Unit)
	assert.Equal(t, Frame{Type: FrameSet, Handle: h1, Value: 1}, frames[4])
	assert.Equal(t, Frame{Type: FrameEvent, Name: "PARKING_BRAKE_SET"}, frames[5])
}

func TestWSConnDeliversChanges(t *testing.T) {
	r, srv := newRelay(t)
	conn := dial(t, srv)
	<-r.ready

	r.write(Frame{Type: FrameChanged, Handle: 3, Value: 0.5})
	r.write(Frame{Type: FrameChanged, Handle: 3, Value: 1})

	for _, want := range []float64{0.5, 1} {
		select {
		case ev := <-conn.Events():
			assert.Equal(t, ValueChanged{Handle: 3, Value: want}, ev)
		case <-time.After(time.Second):
			t.Fatal("no value change delivered")
		}
	}
}

func TestWSConnQuit(t *testing.T) {
	r, srv := newRelay(t)
	conn := dial(t, srv)
	<-r.ready

	r.write(Frame{Type: FrameQuit})

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not end")
	}
	assert.True(t, IsQuit(conn.Err()))

	err := conn.SetValue(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrQuit)
}

func TestWSConnServerGone(t *testing.T) {
	r, srv := newRelay(t)
	conn := dial(t, srv)
	<-r.ready

	r.mu.Lock()
	r.conn.Close()
	r.mu.Unlock()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not end")
	}
	assert.True(t, types.IsTransport(conn.Err()))

	_, open := <-conn.Events()
	assert.False(t, open)
}

func TestWSDialFailure(t *testing.T) {
	d := NewWSDialer("ws://127.0.0.1:1/sim", "test", time.Second, time.Second, zap.NewNop())
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
}
