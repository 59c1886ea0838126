package simlink

import (
	"context"
	"errors"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

var (
	// ErrQuit is reported when the simulator ends the session.
	ErrQuit = errors.New("simulator quit")
	// ErrClosed is reported after Close was called on the local side.
	ErrClosed = errors.New("simulator connection closed")
)

// Handle is the session scoped id the simulator assigns to a subscription.
// Handles are invalid after the session ends.
type Handle uint32

type ValueChanged struct {
	Handle Handle
	Value  float64
}

// Conn is one simulator session.
type Conn interface {
	Subscribe(ctx context.Context, id types.VariableID) (Handle, error)
	// SetValue and TransmitEvent return once the request is queued. The
	// simulator does not acknowledge writes.
	SetValue(ctx context.Context, h Handle, value float64) error
	TransmitEvent(ctx context.Context, name string, value float64) error
	// Events delivers value changes in arrival order and is closed when the
	// session ends.
	Events() <-chan ValueChanged
	Done() <-chan struct{}
	// Err returns why the session ended, nil while it is alive.
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
