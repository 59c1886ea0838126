package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/registry"
	"github.com/KevinKickass/PanelBridge/internal/simlink"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	gearCenter = types.VariableID{Name: "GEAR CENTER POSITION", Unit: "percent over 100"}
	brake      = types.VariableID{Name: "BRAKE PARKING INDICATOR", Unit: "bool"}
)

func TestSimEndpointSubscribesBeforeUp(t *testing.T) {
	reg := registry.New(diagnostics.NewEmitter(), zap.NewNop())
	fake := simlink.NewFake()
	dialer := simlink.DialerFunc(func(context.Context) (simlink.Conn, error) { return fake, nil })

	ep := NewSimEndpoint(dialer, reg, []types.VariableID{gearCenter, brake}, zap.NewNop())
	assert.Equal(t, SimulatorRef(), ep.Ref())

	up := make(chan []types.VariableID, 1)
	result := make(chan error, 1)
	go func() {
		result <- ep.Run(context.Background(), func(Link) { up <- reg.Subscribed() })
	}()

	assert.Equal(t, []types.VariableID{gearCenter, brake}, <-up)
	assert.True(t, reg.Connected())

	require.True(t, fake.Emit(gearCenter, 1))
	select {
	case c := <-reg.Changes():
		assert.Equal(t, gearCenter, c.Variable)
		assert.Equal(t, 1.0, c.Value)
	case <-time.After(time.Second):
		t.Fatal("change not forwarded")
	}

	fake.End(simlink.ErrQuit)
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("session did not end")
	}
	assert.False(t, reg.Connected())
}

func TestSimEndpointTransportFailureIsFault(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	fake := simlink.NewFake()
	dialer := simlink.DialerFunc(func(context.Context) (simlink.Conn, error) { return fake, nil })
	ep := NewSimEndpoint(dialer, reg, nil, zap.NewNop())

	result := make(chan error, 1)
	go func() { result <- ep.Run(context.Background(), func(Link) {}) }()

	lost := types.NewTransportError("ws://sim", "read", errors.New("connection reset"))
	fake.End(lost)

	err := <-result
	assert.True(t, types.IsTransport(err))
	assert.False(t, errors.Is(err, ErrDisconnected))
}

func TestSimEndpointDialFailure(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	dialer := simlink.DialerFunc(func(context.Context) (simlink.Conn, error) {
		return nil, types.NewTransportError("ws://sim", "dial", errors.New("refused"))
	})
	ep := NewSimEndpoint(dialer, reg, nil, zap.NewNop())

	err := ep.Run(context.Background(), func(Link) { t.Fatal("must not come up") })
	assert.True(t, types.IsTransport(err))
}
