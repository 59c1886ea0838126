package simlink

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// Write is one SetValue or TransmitEvent call recorded by Fake.
type Write struct {
	Variable types.VariableID
	Event    string
	Value    float64
}

// Fake is an in-memory simulator session for tests and dry runs.
type Fake struct {
	mu      sync.Mutex
	handles map[types.VariableID]Handle
	names   map[Handle]types.VariableID
	next    Handle
	writes  []Write

	// SubscribeErr, if set for a variable, fails its subscription.
	SubscribeErr map[types.VariableID]error
	// WriteErr, if set, fails every write.
	WriteErr error

	events    chan ValueChanged
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func NewFake() *Fake {
	return &Fake{
		handles:      make(map[types.VariableID]Handle),
		names:        make(map[Handle]types.VariableID),
		next:         1,
		SubscribeErr: make(map[types.VariableID]error),
		events:       make(chan ValueChanged, eventsBufferSize),
		done:         make(chan struct{}),
	}
}

func (f *Fake) Subscribe(ctx context.Context, id types.VariableID) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.aliveLocked(); err != nil {
		return 0, err
	}
	if err := f.SubscribeErr[id]; err != nil {
		return 0, err
	}
	if h, ok := f.handles[id]; ok {
		return h, nil
	}

	h := f.next
	f.next++
	f.handles[id] = h
	f.names[h] = id
	return h, nil
}

func (f *Fake) SetValue(ctx context.Context, h Handle, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.aliveLocked(); err != nil {
		return err
	}
	if f.WriteErr != nil {
		return f.WriteErr
	}
	id, ok := f.names[h]
	if !ok {
		return fmt.Errorf("unknown handle %d", h)
	}
	f.writes = append(f.writes, Write{Variable: id, Value: value})
	return nil
}

func (f *Fake) TransmitEvent(ctx context.Context, name string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.aliveLocked(); err != nil {
		return err
	}
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.writes = append(f.writes, Write{Event: name, Value: value})
	return nil
}

func (f *Fake) Events() <-chan ValueChanged { return f.events }

func (f *Fake) Done() <-chan struct{} { return f.done }

func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) Close() error {
	f.End(ErrClosed)
	return nil
}

// End terminates the session with err, as if the simulator went away.
func (f *Fake) End(err error) {
	if err == nil {
		err = ErrQuit
	}
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
		close(f.events)
	})
}

// Emit publishes a value change for a subscribed variable. It reports false
// if the variable is not subscribed or the session has ended.
func (f *Fake) Emit(id types.VariableID, value float64) bool {
	f.mu.Lock()
	h, ok := f.handles[id]
	alive := f.err == nil
	f.mu.Unlock()
	if !ok || !alive {
		return false
	}
	return f.EmitHandle(h, value)
}

// EmitHandle publishes a raw value change, subscribed or not.
func (f *Fake) EmitHandle(h Handle, value float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false
	}
	f.events <- ValueChanged{Handle: h, Value: value}
	return true
}

func (f *Fake) Handle(id types.VariableID) (Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	return h, ok
}

func (f *Fake) Subscribed() []types.VariableID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.VariableID, 0, len(f.handles))
	for h := Handle(1); h < f.next; h++ {
		if id, ok := f.names[h]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Writes returns a copy of every recorded write, oldest first.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *Fake) aliveLocked() error {
	if f.err != nil {
		return f.err
	}
	return nil
}
