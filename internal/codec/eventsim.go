package codec

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// EventSim main panel: newline terminated ASCII frames at 115200 baud.
//
// Host and panel open the link with SYN, SYN|ACK, ACK. Both sides send PING
// and answer PONG. RST from the panel ends the session.
const (
	KindEventSim = "eventsim"

	eventSimBaud      = 115200
	eventSimKeepAlive = 500 * time.Millisecond
	eventSimSettle    = 2 * time.Second
)

var eventSimElements = []types.ElementSpec{
	{ID: "MISC1", Direction: types.DirectionInput},
	{ID: "MISC2", Direction: types.DirectionInput},
	{ID: "MISC3", Direction: types.DirectionInput},
	{ID: "MISC4", Direction: types.DirectionInput},
	{ID: "FLAPS_UP", Direction: types.DirectionInput},
	{ID: "FLAPS_DN", Direction: types.DirectionInput},
	{ID: "LANDING_GEAR", Direction: types.DirectionInput},
	{ID: "PARKING_BRAKE", Direction: types.DirectionBidirectional},
	{ID: "FRONT_GEAR_LED", Direction: types.DirectionOutput},
	{ID: "LEFT_GEAR_LED", Direction: types.DirectionOutput},
	{ID: "RIGHT_GEAR_LED", Direction: types.DirectionOutput},
}

// Taster ohne Wert melden sich nur beim Drücken.
var eventSimMomentary = map[string]bool{
	"FLAPS_UP": true,
	"FLAPS_DN": true,
}

func init() {
	register(&Spec{
		Kind:        KindEventSim,
		BaudRate:    eventSimBaud,
		SettleDelay: eventSimSettle,
		Elements:    eventSimElements,
		NewDecoder:  func() Decoder { return NewEventSimDecoder() },
		Encoder:     eventSimEncoder{},
	})
}

type EventSimDecoder struct {
	framer *Framer
	ready  bool
}

func NewEventSimDecoder() *EventSimDecoder {
	return &EventSimDecoder{framer: NewFramer('\n', DefaultMaxFrame)}
}

func (d *EventSimDecoder) Ready() bool { return d.ready }

func (d *EventSimDecoder) Hello() []byte { return []byte("SYN\n") }

func (d *EventSimDecoder) KeepAlive() (time.Duration, []byte) {
	return eventSimKeepAlive, []byte("PING\n")
}

func (d *EventSimDecoder) Decode(p []byte) Result {
	var res Result

	frames, overflow := d.framer.Push(p)
	for _, frame := range overflow {
		res.Malformed = append(res.Malformed, malformed(frame, "frame too long"))
	}

	for _, raw := range frames {
		frame := bytes.TrimSpace(raw)
		if len(frame) == 0 {
			continue
		}

		switch string(frame) {
		case "SYN|ACK":
			res.Replies = append(res.Replies, []byte("ACK\n"))
			if !d.ready {
				d.ready = true
				res.Ready = true
			}
			continue
		case "RST":
			res.Reset = true
			return res
		case "PING":
			res.Replies = append(res.Replies, []byte("PONG\n"))
			continue
		case "PONG":
			continue
		}

		ev, err := parseEventSimInput(frame)
		if err != nil {
			res.Malformed = append(res.Malformed, malformed(raw, err.Error()))
			continue
		}
		if !d.ready {
			res.Malformed = append(res.Malformed, malformed(raw, "input before handshake"))
			continue
		}
		res.Events = append(res.Events, ev)
	}

	return res
}

func parseEventSimInput(frame []byte) (Event, error) {
	name, value, hasValue := bytes.Cut(frame, []byte(":"))
	element := string(name)

	if eventSimMomentary[element] {
		if hasValue {
			return Event{}, fmt.Errorf("%s takes no value", element)
		}
		return Event{Element: types.ElementID(element), Value: 1}, nil
	}

	dir, ok := lookupElement(eventSimElements, types.ElementID(element))
	if !ok || !dir.Inbound() {
		return Event{}, fmt.Errorf("unknown input %q", element)
	}
	if !hasValue {
		return Event{}, fmt.Errorf("%s requires a value", element)
	}

	switch string(value) {
	case "0":
		return Event{Element: types.ElementID(element), Value: 0}, nil
	case "1":
		return Event{Element: types.ElementID(element), Value: 1}, nil
	default:
		return Event{}, fmt.Errorf("%s: invalid switch state %q", element, value)
	}
}

type eventSimEncoder struct{}

func (eventSimEncoder) Encode(element types.ElementID, value float64) ([]byte, error) {
	dir, ok := lookupElement(eventSimElements, element)
	if !ok || !dir.Outbound() {
		return nil, fmt.Errorf("eventsim: %s is not an output", element)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("eventsim: %s: invalid value %v", element, value)
	}
	return []byte(fmt.Sprintf("%s:%d\n", element, int64(value))), nil
}
