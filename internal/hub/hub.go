package hub

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/codec"
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/mapping"
	"github.com/KevinKickass/PanelBridge/internal/registry"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"go.uber.org/zap"
)

var (
	ErrUnknownPanel      = errors.New("unknown panel")
	ErrPanelNotConnected = errors.New("panel not connected")
	ErrStopped           = errors.New("hub stopped")
)

const (
	defaultWriteTimeout = time.Second
	inputBufferSize     = 256
	controlBufferSize   = 16
)

// Registry is the part of the variable registry the hub drives.
type Registry interface {
	Write(ctx context.Context, id types.VariableID, value float64) error
	TransmitEvent(ctx context.Context, name string, value float64) error
	Changes() <-chan registry.Change
}

// Metrics receives routing counters. All methods must be cheap.
type Metrics interface {
	InputRouted(panel types.PanelID, routed bool)
	OutputSent(panel types.PanelID)
	OutputSuppressed(panel types.PanelID)
}

type noopMetrics struct{}

func (noopMetrics) InputRouted(types.PanelID, bool) {}
func (noopMetrics) OutputSent(types.PanelID)        {}
func (noopMetrics) OutputSuppressed(types.PanelID)  {}

// OutputState is the last raw value the hub decided an output element
// should show.
type OutputState struct {
	Element   types.PanelElement `json:"element"`
	Value     float64            `json:"value"`
	Delivered bool               `json:"delivered"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type Config struct {
	Table    *mapping.Table
	Registry Registry
	// Encoders holds the output encoder of every configured panel.
	Encoders     map[types.PanelID]codec.Encoder
	Signals      <-chan session.Signal
	Emitter      *diagnostics.Emitter
	Metrics      Metrics
	WriteTimeout time.Duration
}

// Hub routes panel inputs to the simulator and simulator changes to panels.
// All routing happens on the single Run goroutine, so events for the same
// element or variable are handled in arrival order.
type Hub struct {
	table        *mapping.Table
	registry     Registry
	encoders     map[types.PanelID]codec.Encoder
	signals      <-chan session.Signal
	emitter      *diagnostics.Emitter
	metrics      Metrics
	writeTimeout time.Duration
	logger       *zap.Logger

	inputs  chan types.PanelInput
	control chan func(ctx context.Context)
	stopped chan struct{}

	// owned by the Run goroutine
	links        map[types.PanelID]session.Link
	simAvailable bool

	// written only by the Run goroutine, read by API callers
	mu      sync.RWMutex
	outputs map[types.PanelElement]*OutputState

	now func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Hub {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		table:        cfg.Table,
		registry:     cfg.Registry,
		encoders:     cfg.Encoders,
		signals:      cfg.Signals,
		emitter:      cfg.Emitter,
		metrics:      cfg.Metrics,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		inputs:       make(chan types.PanelInput, inputBufferSize),
		control:      make(chan func(ctx context.Context), controlBufferSize),
		stopped:      make(chan struct{}),
		links:        make(map[types.PanelID]session.Link),
		outputs:      make(map[types.PanelElement]*OutputState),
		now:          time.Now,
	}
}

// Inputs is where panel sessions deliver decoded inputs.
func (h *Hub) Inputs() chan<- types.PanelInput {
	return h.inputs
}

// Run is the hub's event loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)

	h.logger.Info("Mediation hub started",
		zap.Int("mappings", h.table.Len()),
		zap.Int("panels", len(h.encoders)))

	changes := h.registry.Changes()
	signals := h.signals

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Mediation hub stopped")
			return ctx.Err()

		case input := <-h.inputs:
			h.handleInput(ctx, input)

		case change := <-changes:
			h.handleChange(change)

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			h.handleSignal(sig)

		case fn := <-h.control:
			fn(ctx)
		}
	}
}

func (h *Hub) handleInput(ctx context.Context, input types.PanelInput) {
	entry, ok := h.table.ForInput(input.Target())
	if !ok {
		h.metrics.InputRouted(input.Panel, false)
		h.emitter.Emit(diagnostics.RoutingMiss(input))
		return
	}
	h.metrics.InputRouted(input.Panel, true)

	if !h.simAvailable {
		h.emitter.Emit(h.entryRecord(diagnostics.KindDroppedEvent, entry, "simulator unavailable").WithValue(input.Value))
		return
	}

	value, err := entry.Transform.ToSim(input.Value)
	if err != nil {
		h.emitter.Emit(h.entryRecord(diagnostics.KindTransformError, entry, "panel value not convertible").
			WithValue(input.Value).WithError(err))
		return
	}

	// the simulator will echo the value back, remember it so the echo is
	// not sent to the panel again
	optimistic := entry.Direction == types.DirectionBidirectional
	prev, hadPrev := h.output(entry.Element)
	if optimistic {
		h.setOutput(entry.Element, input.Value, h.links[entry.Element.Panel] != nil)
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	if entry.Event != "" {
		err = h.registry.TransmitEvent(writeCtx, entry.Event, value)
	} else {
		err = h.registry.Write(writeCtx, entry.Variable, value)
	}
	if err != nil {
		// simulator truth did not change, resync must not push the rejected value
		if optimistic {
			h.restoreOutput(entry.Element, prev, hadPrev)
		}
		kind := diagnostics.KindWriteFailure
		if errors.Is(err, types.ErrSimulatorUnavailable) {
			kind = diagnostics.KindDroppedEvent
		}
		h.emitter.Emit(h.entryRecord(kind, entry, "simulator write failed").WithValue(value).WithError(err))
	}
}

func (h *Hub) handleChange(change registry.Change) {
	for _, entry := range h.table.ForVariable(change.Variable) {
		raw, err := entry.Transform.ToPanel(change.Value)
		if err != nil {
			h.emitter.Emit(h.entryRecord(diagnostics.KindTransformError, entry, "simulator value not convertible").
				WithValue(change.Value).WithError(err))
			continue
		}

		link := h.links[entry.Element.Panel]

		// an undelivered value is retried while the panel is connected
		if prev, ok := h.output(entry.Element); ok && (prev.Delivered || link == nil) &&
			sameValue(prev.Value, raw, entry.Transform.Tolerance()) {
			h.metrics.OutputSuppressed(entry.Element.Panel)
			continue
		}

		delivered := false
		if link != nil {
			delivered = h.send(link, entry, raw)
		}
		h.setOutput(entry.Element, raw, delivered)
	}
}

func (h *Hub) handleSignal(sig session.Signal) {
	switch sig.Ref.Kind {
	case session.RefSimulator:
		h.simAvailable = sig.Kind == session.SignalConnected
		h.logger.Info("Simulator availability changed", zap.Bool("available", h.simAvailable))

	case session.RefPanel:
		panel := sig.Ref.Panel
		if sig.Kind == session.SignalConnected && sig.Link != nil {
			h.links[panel] = sig.Link
			n := h.resync(panel, sig.Link)
			h.logger.Info("Panel connected, outputs resent",
				zap.String("panel", string(panel)),
				zap.Int("outputs", n))
			return
		}

		delete(h.links, panel)
		h.markUndelivered(panel)
	}
}

// resync sends every known output of panel once.
func (h *Hub) resync(panel types.PanelID, link session.Link) int {
	sent := 0
	for _, entry := range h.table.OutputsOf(panel) {
		state, ok := h.output(entry.Element)
		if !ok {
			continue
		}
		delivered := h.send(link, entry, state.Value)
		h.setOutput(entry.Element, state.Value, delivered)
		if delivered {
			sent++
		}
	}
	return sent
}

func (h *Hub) send(link session.Link, entry mapping.Entry, raw float64) bool {
	enc, ok := h.encoders[entry.Element.Panel]
	if !ok {
		h.emitter.Emit(h.entryRecord(diagnostics.KindWriteFailure, entry, "no encoder for panel"))
		return false
	}

	frame, err := enc.Encode(entry.Element.Element, raw)
	if err != nil {
		h.emitter.Emit(h.entryRecord(diagnostics.KindWriteFailure, entry, "encode failed").WithValue(raw).WithError(err))
		return false
	}
	if err := link.Send(frame); err != nil {
		h.emitter.Emit(h.entryRecord(diagnostics.KindWriteFailure, entry, "panel send failed").WithValue(raw).WithError(err))
		return false
	}

	h.metrics.OutputSent(entry.Element.Panel)
	return true
}

// Resync resends every known output of panel. It runs on the hub goroutine.
func (h *Hub) Resync(ctx context.Context, panel types.PanelID) (int, error) {
	if _, ok := h.encoders[panel]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPanel, panel)
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	err := h.do(ctx, func(context.Context) {
		link, ok := h.links[panel]
		if !ok {
			done <- result{err: fmt.Errorf("%w: %s", ErrPanelNotConnected, panel)}
			return
		}
		done <- result{n: h.resync(panel, link)}
	})
	if err != nil {
		return 0, err
	}

	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.stopped:
		return 0, ErrStopped
	}
}

func (h *Hub) do(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case h.control <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrStopped
	}
}

// Outputs returns every known output state in mapping order.
func (h *Hub) Outputs() []OutputState {
	var out []OutputState
	for _, entry := range h.table.Entries() {
		if !entry.Direction.Outbound() {
			continue
		}
		if state, ok := h.output(entry.Element); ok {
			out = append(out, state)
		}
	}
	return out
}

func (h *Hub) OutputsOf(panel types.PanelID) []OutputState {
	var out []OutputState
	for _, entry := range h.table.OutputsOf(panel) {
		if state, ok := h.output(entry.Element); ok {
			out = append(out, state)
		}
	}
	return out
}

func (h *Hub) output(el types.PanelElement) (OutputState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.outputs[el]
	if !ok {
		return OutputState{}, false
	}
	return *state, true
}

func (h *Hub) setOutput(el types.PanelElement, value float64, delivered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs[el] = &OutputState{
		Element:   el,
		Value:     value,
		Delivered: delivered,
		UpdatedAt: h.now(),
	}
}

// restoreOutput puts back the state saved before an optimistic update.
func (h *Hub) restoreOutput(el types.PanelElement, prev OutputState, existed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !existed {
		delete(h.outputs, el)
		return
	}
	h.outputs[el] = &prev
}

func (h *Hub) markUndelivered(panel types.PanelID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for el, state := range h.outputs {
		if el.Panel == panel {
			state.Delivered = false
		}
	}
}

func (h *Hub) entryRecord(kind diagnostics.Kind, entry mapping.Entry, msg string) diagnostics.Record {
	return diagnostics.Record{
		Kind:     kind,
		Endpoint: session.PanelRef(entry.Element.Panel).String(),
		Panel:    entry.Element.Panel,
		Element:  entry.Element.Element,
		Variable: entry.Variable.String(),
		Message:  msg,
	}
}

func sameValue(a, b, tolerance float64) bool {
	if tolerance <= 0 {
		return a == b
	}
	return math.Abs(a-b) <= tolerance
}
