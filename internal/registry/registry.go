package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/simlink"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/elliotchance/orderedmap/v3"
	"go.uber.org/zap"
)

// ErrNotSubscribed is returned for writes to a variable the current
// simulator session has not subscribed. It matches
// types.ErrSimulatorUnavailable.
var ErrNotSubscribed = fmt.Errorf("variable not subscribed: %w", types.ErrSimulatorUnavailable)

const changesBufferSize = 1024

// Snapshot is the last value received for a variable.
type Snapshot struct {
	Variable types.VariableID `json:"variable"`
	Value    float64          `json:"value"`
	// Revision counts distinct values. UpdatedAt moves on every update,
	// including repeats of the current value.
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change is forwarded to the hub for every value that differs from the
// previous snapshot.
type Change struct {
	Variable types.VariableID
	Value    float64
	Revision uint64
}

// Registry tracks simulator subscriptions and the latest known value of
// every variable. Snapshots survive simulator reconnects, handles do not.
type Registry struct {
	mu        sync.RWMutex
	conn      simlink.Conn
	subs      *orderedmap.OrderedMap[types.VariableID, simlink.Handle]
	handles   map[simlink.Handle]types.VariableID
	snapshots *orderedmap.OrderedMap[types.VariableID, *Snapshot]

	changes chan Change
	emitter *diagnostics.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

func New(emitter *diagnostics.Emitter, logger *zap.Logger) *Registry {
	return &Registry{
		subs:      orderedmap.NewOrderedMap[types.VariableID, simlink.Handle](),
		handles:   make(map[simlink.Handle]types.VariableID),
		snapshots: orderedmap.NewOrderedMap[types.VariableID, *Snapshot](),
		changes:   make(chan Change, changesBufferSize),
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
	}
}

// Attach binds a new simulator session. Handles of any previous session are
// dropped.
func (r *Registry) Attach(conn simlink.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conn = conn
	r.resetSubscriptionsLocked()
}

// Detach forgets the current session.
func (r *Registry) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conn = nil
	r.resetSubscriptionsLocked()
}

func (r *Registry) resetSubscriptionsLocked() {
	r.subs = orderedmap.NewOrderedMap[types.VariableID, simlink.Handle]()
	r.handles = make(map[simlink.Handle]types.VariableID)
}

func (r *Registry) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil
}

// Subscribe registers interest in id for the current session. Subscribing
// twice is a no-op.
func (r *Registry) Subscribe(ctx context.Context, id types.VariableID) error {
	r.mu.RLock()
	conn := r.conn
	_, done := r.subs.Get(id)
	r.mu.RUnlock()

	if conn == nil {
		return types.ErrSimulatorUnavailable
	}
	if done {
		return nil
	}

	h, err := conn.Subscribe(ctx, id)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// session changed while the request was in flight
	if r.conn != conn {
		return types.ErrSimulatorUnavailable
	}
	r.subs.Set(id, h)
	r.handles[h] = id

	r.logger.Debug("Variable subscribed",
		zap.String("variable", id.String()),
		zap.Uint32("handle", uint32(h)))
	return nil
}

// SubscribeAll subscribes ids in order. Every id is attempted; the failures
// are returned together.
func (r *Registry) SubscribeAll(ctx context.Context, ids []types.VariableID) error {
	var errs []error
	for _, id := range ids {
		if err := r.Subscribe(ctx, id); err != nil {
			if errors.Is(err, types.ErrSimulatorUnavailable) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnValueChanged records a value reported by the simulator and forwards it
// to Changes when it differs from the previous one. It blocks while the
// change queue is full.
func (r *Registry) OnValueChanged(ctx context.Context, h simlink.Handle, value float64) {
	r.mu.Lock()
	id, ok := r.handles[h]
	if !ok {
		r.mu.Unlock()
		r.emitter.Emit(diagnostics.Record{
			Kind:     diagnostics.KindUnknownHandle,
			Endpoint: "simulator",
			Message:  fmt.Sprintf("value for unknown handle %d", h),
		}.WithValue(value))
		return
	}

	now := r.now()
	snap, exists := r.snapshots.Get(id)
	if exists && snap.Value == value {
		snap.UpdatedAt = now
		r.mu.Unlock()
		return
	}
	if !exists {
		snap = &Snapshot{Variable: id}
		r.snapshots.Set(id, snap)
	}
	snap.Value = value
	snap.Revision++
	snap.UpdatedAt = now
	change := Change{Variable: id, Value: value, Revision: snap.Revision}
	r.mu.Unlock()

	select {
	case r.changes <- change:
	case <-ctx.Done():
	}
}

// Changes delivers forwarded value changes in arrival order.
func (r *Registry) Changes() <-chan Change {
	return r.changes
}

// Write sets a simulator variable. It does not wait for the simulator to
// apply the value.
func (r *Registry) Write(ctx context.Context, id types.VariableID, value float64) error {
	r.mu.RLock()
	conn := r.conn
	h, ok := r.subs.Get(id)
	r.mu.RUnlock()

	if conn == nil {
		return types.ErrSimulatorUnavailable
	}
	if !ok {
		return ErrNotSubscribed
	}
	if err := conn.SetValue(ctx, h, value); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	return nil
}

// TransmitEvent sends a simulator client event.
func (r *Registry) TransmitEvent(ctx context.Context, name string, value float64) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil {
		return types.ErrSimulatorUnavailable
	}
	if err := conn.TransmitEvent(ctx, name, value); err != nil {
		return fmt.Errorf("event %s: %w", name, err)
	}
	return nil
}

func (r *Registry) Snapshot(id types.VariableID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Snapshots returns every known value in first-seen order.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, r.snapshots.Len())
	for _, snap := range r.snapshots.AllFromFront() {
		out = append(out, *snap)
	}
	return out
}

// Subscribed lists the variables of the current session in subscription
// order.
func (r *Registry) Subscribed() []types.VariableID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.VariableID, 0, r.subs.Len())
	for id := range r.subs.Keys() {
		out = append(out, id)
	}
	return out
}
