package codec

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// Event is one decoded input change, before it is tagged with its panel.
type Event struct {
	Element types.ElementID
	Value   float64
}

// Result is everything a single Decode call produced.
type Result struct {
	Events []Event
	// Replies are protocol answers the session must write back (PONG, ACK).
	Replies [][]byte
	// Malformed frames were discarded; decoding continues after them.
	Malformed []*types.ProtocolDecodeError
	// Ready is set by the call that completed the handshake or identification.
	Ready bool
	// Reset is set when the device asked to end the session.
	Reset bool
	// Err is a fatal protocol mismatch, e.g. a wrong device on the port.
	Err error
}

// Decoder turns the panel's byte stream into events. It is stateful and owned
// by exactly one panel session.
type Decoder interface {
	Decode(p []byte) Result
	Ready() bool
}

// Encoder renders an output value for the panel. Encoders are stateless.
type Encoder interface {
	Encode(element types.ElementID, value float64) ([]byte, error)
}

// Greeter is implemented by decoders whose protocol starts with a frame
// written by the host.
type Greeter interface {
	Hello() []byte
}

// KeepAliver is implemented by decoders whose protocol needs periodic
// frames from the host.
type KeepAliver interface {
	KeepAlive() (time.Duration, []byte)
}

// Spec describes one panel type.
type Spec struct {
	Kind        string
	BaudRate    int
	SettleDelay time.Duration
	// Elements is the fixed element catalog. Nil means the catalog is open
	// and declared per panel in the configuration.
	Elements   []types.ElementSpec
	NewDecoder func() Decoder
	Encoder    Encoder
}

// Direction looks up an element in the fixed catalog.
func (s *Spec) Direction(element types.ElementID) (types.Direction, bool) {
	return lookupElement(s.Elements, element)
}

func lookupElement(elements []types.ElementSpec, id types.ElementID) (types.Direction, bool) {
	for _, e := range elements {
		if e.ID == id {
			return e.Direction, true
		}
	}
	return "", false
}

func (s *Spec) OpenCatalog() bool {
	return s.Elements == nil
}

var (
	registryMu sync.RWMutex
	specs      = make(map[string]*Spec)
)

func register(s *Spec) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := specs[s.Kind]; exists {
		panic(fmt.Sprintf("codec %q registered twice", s.Kind))
	}
	specs[s.Kind] = s
}

// Lookup returns the spec for a panel type.
func Lookup(kind string) (*Spec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	s, ok := specs[kind]
	return s, ok
}

// Kinds lists the registered panel types, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(specs))
	for k := range specs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func malformed(frame []byte, reason string) *types.ProtocolDecodeError {
	return &types.ProtocolDecodeError{Frame: append([]byte(nil), frame...), Reason: reason}
}
