package codec

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// Airspeed indicator: ';' terminated frames at 38400 baud. The device
// announces itself once with Name<...>; and then only receives.
const (
	KindAirspeed = "airspeed"

	AirspeedDeviceName = "Airspeed-Indicator"
	AirspeedElement    = types.ElementID("AIRSPEED")

	airspeedBaud   = 38400
	airspeedSettle = 2 * time.Second
)

func init() {
	register(&Spec{
		Kind:        KindAirspeed,
		BaudRate:    airspeedBaud,
		SettleDelay: airspeedSettle,
		Elements: []types.ElementSpec{
			{ID: AirspeedElement, Direction: types.DirectionOutput},
		},
		NewDecoder: func() Decoder { return NewAirspeedDecoder() },
		Encoder:    airspeedEncoder{},
	})
}

// ErrWrongDevice is reported when a panel identifies as something else.
type ErrWrongDevice struct {
	Want string
	Got  string
}

func (e *ErrWrongDevice) Error() string {
	return fmt.Sprintf("wrong device: expected %q, got %q", e.Want, e.Got)
}

type AirspeedDecoder struct {
	framer     *Framer
	identified bool
}

func NewAirspeedDecoder() *AirspeedDecoder {
	return &AirspeedDecoder{framer: NewFramer(';', DefaultMaxFrame)}
}

func (d *AirspeedDecoder) Ready() bool { return d.identified }

func (d *AirspeedDecoder) Decode(p []byte) Result {
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

		name, ok := tagValue(frame, "Name")
		if !ok {
			res.Malformed = append(res.Malformed, malformed(raw, "unexpected frame"))
			continue
		}
		if name != AirspeedDeviceName {
			res.Err = &ErrWrongDevice{Want: AirspeedDeviceName, Got: name}
			return res
		}
		if !d.identified {
			d.identified = true
			res.Ready = true
		}
	}

	return res
}

// tagValue parses a single Tag<value> frame.
func tagValue(frame []byte, tag string) (string, bool) {
	prefix := []byte(tag + "<")
	if !bytes.HasPrefix(frame, prefix) || !bytes.HasSuffix(frame, []byte(">")) {
		return "", false
	}
	return string(frame[len(prefix) : len(frame)-1]), true
}

type airspeedEncoder struct{}

func (airspeedEncoder) Encode(element types.ElementID, value float64) ([]byte, error) {
	if element != AirspeedElement {
		return nil, fmt.Errorf("airspeed: %s is not an output", element)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("airspeed: invalid value %v", value)
	}
	frame := fmt.Sprintf("Type<I-A>::Target<%s>::Content<%d>::Origin<Interface>;\n",
		AirspeedDeviceName, int64(value))
	return []byte(frame), nil
}
