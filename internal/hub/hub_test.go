package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/codec"
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/mapping"
	"github.com/KevinKickass/PanelBridge/internal/registry"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"github.com/KevinKickass/PanelBridge/internal/simlink"
	"github.com/KevinKickass/PanelBridge/internal/testutil"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	landingLights = types.VariableID{Name: "LIGHT LANDING", Unit: "bool"}
	gearCenter    = types.VariableID{Name: "GEAR CENTER POSITION", Unit: "percent over 100"}
	parkingBrake  = types.VariableID{Name: "BRAKE PARKING INDICATOR", Unit: "bool"}
)

type recordingLink struct {
	mu     sync.Mutex
	frames []string
	err    error
	// failNext fails that many sends before the link recovers
	failNext int
}

func (l *recordingLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.failNext > 0 {
		l.failNext--
		return session.ErrQueueFull
	}
	l.frames = append(l.frames, string(frame))
	return nil
}

func (l *recordingLink) Frames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.frames))
	copy(out, l.frames)
	return out
}

type harness struct {
	hub      *Hub
	registry *registry.Registry
	sim      *simlink.Fake
	signals  chan session.Signal
	recorder *diagnostics.Recorder
	table    *mapping.Table
}

func gearLeds() mapping.Transform {
	unknown := 2.0
	return mapping.NewEnum([]mapping.EnumPair{{Panel: 0, Sim: 0}, {Panel: 1, Sim: 1}}, &unknown, nil)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	table, err := mapping.NewTable([]mapping.Entry{
		{Element: types.PanelElement{Panel: "main", Element: "MISC2"}, Variable: landingLights, Direction: types.DirectionInput},
		{Element: types.PanelElement{Panel: "main", Element: "FRONT_GEAR_LED"}, Variable: gearCenter, Direction: types.DirectionOutput, Transform: gearLeds()},
		{Element: types.PanelElement{Panel: "aux", Element: "GEAR"}, Variable: gearCenter, Direction: types.DirectionOutput},
		{Element: types.PanelElement{Panel: "main", Element: "PARKING_BRAKE"}, Variable: parkingBrake, Direction: types.DirectionBidirectional},
		{Element: types.PanelElement{Panel: "main", Element: "LANDING_GEAR"}, Variable: types.VariableID{Name: "GEAR HANDLE POSITION", Unit: "bool"}, Direction: types.DirectionInput, Event: "GEAR_SET"},
	}, nil)
	require.NoError(t, err)

	eventsim, _ := codec.Lookup(codec.KindEventSim)
	line, _ := codec.Lookup(codec.KindLine)

	rec := diagnostics.NewRecorder()
	emitter := diagnostics.NewEmitter(rec)
	reg := registry.New(emitter, zap.NewNop())
	// unbuffered: a signal is handled before anything sent after it
	signals := make(chan session.Signal)

	h := New(Config{
		Table:    table,
		Registry: reg,
		Encoders: map[types.PanelID]codec.Encoder{
			"main": eventsim.Encoder,
			"aux":  line.Encoder,
		},
		Signals: signals,
		Emitter: emitter,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	return &harness{hub: h, registry: reg, sim: simlink.NewFake(), signals: signals, recorder: rec, table: table}
}

func (h *harness) connectSim(t *testing.T) {
	t.Helper()
	h.registry.Attach(h.sim)
	require.NoError(t, h.registry.SubscribeAll(context.Background(), h.table.Variables()))
	h.signals <- session.Signal{Ref: session.SimulatorRef(), Kind: session.SignalConnected}
}

func (h *harness) connectPanel(panel types.PanelID) *recordingLink {
	return h.connectLink(panel, &recordingLink{})
}

func (h *harness) connectLink(panel types.PanelID, link *recordingLink) *recordingLink {
	h.signals <- session.Signal{Ref: session.PanelRef(panel), Kind: session.SignalConnected, Link: link}
	return link
}

func (h *harness) input(panel types.PanelID, element types.ElementID, value float64) {
	h.hub.Inputs() <- types.PanelInput{Panel: panel, Element: element, Value: value, ReceivedAt: time.Now()}
}

func (h *harness) simValue(t *testing.T, id types.VariableID, value float64) {
	t.Helper()
	handle, ok := h.sim.Handle(id)
	require.True(t, ok)
	h.registry.OnValueChanged(context.Background(), handle, value)
}

func waitFrames(t *testing.T, link *recordingLink, n int) []string {
	t.Helper()
	testutil.WaitFor(t, time.Second, "panel frames", func() bool { return len(link.Frames()) >= n })
	return link.Frames()
}

func waitWrites(t *testing.T, sim *simlink.Fake, n int) []simlink.Write {
	t.Helper()
	testutil.WaitFor(t, time.Second, "simulator writes", func() bool { return len(sim.Writes()) >= n })
	return sim.Writes()
}

func TestPanelInputWritesVariable(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)

	h.input("main", "MISC2", 1)
	assert.Equal(t, []simlink.Write{{Variable: landingLights, Value: 1}}, waitWrites(t, h.sim, 1))
}

func TestPanelInputTransmitsEvent(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)

	h.input("main", "LANDING_GEAR", 1)
	assert.Equal(t, []simlink.Write{{Event: "GEAR_SET", Value: 1}}, waitWrites(t, h.sim, 1))
}

func TestVariableChangeFansOut(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	main := h.connectPanel("main")
	aux := h.connectPanel("aux")

	h.simValue(t, gearCenter, 1)

	assert.Equal(t, []string{"FRONT_GEAR_LED:1\n"}, waitFrames(t, main, 1))
	assert.Equal(t, []string{"GEAR:1\n"}, waitFrames(t, aux, 1))
}

func TestOutputsAreNotRepeated(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	main := h.connectPanel("main")

	// both in-transit positions map to the "unknown" LED state
	h.simValue(t, gearCenter, 0.3)
	h.simValue(t, gearCenter, 0.6)
	h.simValue(t, gearCenter, 0.6)
	h.simValue(t, gearCenter, 1)

	testutil.WaitFor(t, time.Second, "final LED state", func() bool {
		frames := main.Frames()
		return len(frames) > 0 && frames[len(frames)-1] == "FRONT_GEAR_LED:1\n"
	})
	assert.Equal(t, []string{"FRONT_GEAR_LED:2\n", "FRONT_GEAR_LED:1\n"}, main.Frames())
}

func TestReconnectedPanelConverges(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	first := h.connectPanel("aux")

	h.simValue(t, gearCenter, 0)
	waitFrames(t, first, 1)

	h.signals <- session.Signal{Ref: session.PanelRef("aux"), Kind: session.SignalDisconnected}
	h.simValue(t, gearCenter, 0.5)
	h.simValue(t, gearCenter, 1)

	testutil.WaitFor(t, time.Second, "state to follow the simulator", func() bool {
		out := h.hub.OutputsOf("aux")
		return len(out) == 1 && out[0].Value == 1
	})
	assert.False(t, h.hub.OutputsOf("aux")[0].Delivered)

	second := h.connectPanel("aux")
	assert.Equal(t, []string{"GEAR:1\n"}, waitFrames(t, second, 1))
	assert.Equal(t, []string{"GEAR:0\n"}, first.Frames())

	testutil.WaitFor(t, time.Second, "output marked delivered", func() bool {
		return h.hub.OutputsOf("aux")[0].Delivered
	})
}

func TestRoutingMiss(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)

	h.input("main", "MISC4", 1)
	testutil.WaitFor(t, time.Second, "routing miss", func() bool {
		return h.recorder.Count(diagnostics.KindRoutingMiss) == 1
	})

	h.input("main", "MISC2", 0)
	assert.Equal(t, []simlink.Write{{Variable: landingLights, Value: 0}}, waitWrites(t, h.sim, 1))

	miss := h.recorder.OfKind(diagnostics.KindRoutingMiss)[0]
	assert.Equal(t, types.ElementID("MISC4"), miss.Element)
}

func TestInputsKeepArrivalOrder(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)

	values := []float64{1, 0, 1, 1, 0}
	for _, v := range values {
		h.input("main", "MISC2", v)
	}

	writes := waitWrites(t, h.sim, len(values))
	for i, v := range values {
		assert.Equal(t, v, writes[i].Value, "write %d", i)
	}
}

func TestInputWhileSimulatorUnavailable(t *testing.T) {
	h := newHarness(t)

	h.input("main", "MISC2", 1)
	testutil.WaitFor(t, time.Second, "dropped event", func() bool {
		return h.recorder.Count(diagnostics.KindDroppedEvent) == 1
	})
	assert.Empty(t, h.sim.Writes())
}

func TestBidirectionalEchoIsSuppressed(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	main := h.connectPanel("main")

	h.input("main", "PARKING_BRAKE", 1)
	waitWrites(t, h.sim, 1)

	// simulator confirms the switch position, then the gear moves
	h.simValue(t, parkingBrake, 1)
	h.simValue(t, gearCenter, 1)

	assert.Equal(t, []string{"FRONT_GEAR_LED:1\n"}, waitFrames(t, main, 1))

	h.simValue(t, parkingBrake, 0)
	assert.Equal(t, "PARKING_BRAKE:0\n", waitFrames(t, main, 2)[1])
}

func TestFailingPanelDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	h.connectLink("main", &recordingLink{err: errors.New("queue full")})
	aux := h.connectPanel("aux")

	h.simValue(t, gearCenter, 1)

	assert.Equal(t, []string{"GEAR:1\n"}, waitFrames(t, aux, 1))
	testutil.WaitFor(t, time.Second, "write failure", func() bool {
		return h.recorder.Count(diagnostics.KindWriteFailure) == 1
	})
}

func TestResync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connectSim(t)

	_, err := h.hub.Resync(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownPanel)

	_, err = h.hub.Resync(ctx, "aux")
	assert.ErrorIs(t, err, ErrPanelNotConnected)

	aux := h.connectPanel("aux")
	h.simValue(t, gearCenter, 1)
	waitFrames(t, aux, 1)

	n, err := h.hub.Resync(ctx, "aux")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"GEAR:1\n", "GEAR:1\n"}, aux.Frames())

	outputs := h.hub.Outputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, types.PanelElement{Panel: "main", Element: "FRONT_GEAR_LED"}, outputs[0].Element)
}

func TestUndeliveredOutputIsRetried(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	main := h.connectLink("main", &recordingLink{failNext: 1})

	h.simValue(t, gearCenter, 0.3)
	testutil.WaitFor(t, time.Second, "failed send", func() bool {
		return h.recorder.Count(diagnostics.KindWriteFailure) == 1
	})
	assert.False(t, h.hub.OutputsOf("main")[0].Delivered)

	// same LED state, but the panel never got it
	h.simValue(t, gearCenter, 0.6)
	assert.Equal(t, []string{"FRONT_GEAR_LED:2\n"}, waitFrames(t, main, 1))

	h.simValue(t, gearCenter, 0.4)
	h.simValue(t, gearCenter, 1)
	testutil.WaitFor(t, time.Second, "final LED state", func() bool {
		return len(main.Frames()) == 2
	})
	assert.Equal(t, []string{"FRONT_GEAR_LED:2\n", "FRONT_GEAR_LED:1\n"}, main.Frames())
	assert.True(t, h.hub.OutputsOf("main")[0].Delivered)
}

func TestRejectedBidirectionalWriteKeepsSimulatorState(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	first := h.connectPanel("main")

	h.simValue(t, parkingBrake, 0)
	assert.Equal(t, []string{"PARKING_BRAKE:0\n"}, waitFrames(t, first, 1))

	h.sim.WriteErr = errors.New("rejected")
	h.input("main", "PARKING_BRAKE", 1)
	testutil.WaitFor(t, time.Second, "write failure", func() bool {
		return h.recorder.Count(diagnostics.KindWriteFailure) == 1
	})

	out := h.hub.OutputsOf("main")
	require.Len(t, out, 1)
	assert.Equal(t, 0.0, out[0].Value)

	h.signals <- session.Signal{Ref: session.PanelRef("main"), Kind: session.SignalDisconnected}
	second := h.connectPanel("main")
	assert.Equal(t, []string{"PARKING_BRAKE:0\n"}, waitFrames(t, second, 1))
}

func TestRejectedBidirectionalWriteWithoutPriorState(t *testing.T) {
	h := newHarness(t)
	h.connectSim(t)
	h.connectPanel("main")

	h.sim.WriteErr = errors.New("rejected")
	h.input("main", "PARKING_BRAKE", 1)
	testutil.WaitFor(t, time.Second, "write failure", func() bool {
		return h.recorder.Count(diagnostics.KindWriteFailure) == 1
	})
	assert.Empty(t, h.hub.OutputsOf("main"))
}
