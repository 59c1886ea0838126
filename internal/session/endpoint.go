package session

import (
	"context"
	"errors"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// ErrDisconnected ends a session cleanly: the peer went away without a
// fault (device reset, simulator quit, EOF).
var ErrDisconnected = errors.New("disconnected")

type RefKind string

const (
	RefSimulator RefKind = "simulator"
	RefPanel     RefKind = "panel"
)

// Ref names one endpoint.
type Ref struct {
	Kind  RefKind
	Panel types.PanelID
}

func SimulatorRef() Ref {
	return Ref{Kind: RefSimulator}
}

func PanelRef(id types.PanelID) Ref {
	return Ref{Kind: RefPanel, Panel: id}
}

func (r Ref) String() string {
	if r.Kind == RefPanel {
		return "panel/" + string(r.Panel)
	}
	return string(r.Kind)
}

// Link is the outbound half of a connected panel session. Send must not
// block.
type Link interface {
	Send(frame []byte) error
}

type SignalKind string

const (
	SignalConnected    SignalKind = "connected"
	SignalDisconnected SignalKind = "disconnected"
)

// Signal reports that an endpoint came up or went down. Link is set for
// connected panels only.
type Signal struct {
	Ref  Ref
	Kind SignalKind
	Link Link
	Err  error
}

// Endpoint is one connectable peer. Run blocks for the whole session. It
// calls up once the session is usable and returns when the session ends:
// nil or ErrDisconnected for a clean end, any other error for a fault.
type Endpoint interface {
	Ref() Ref
	Run(ctx context.Context, up func(Link)) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The supervisor stops after it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
