package codec

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// KindLine is a generic ELEMENT:value newline protocol. It has no handshake
// and its element catalog comes from the panel configuration.
const KindLine = "line"

func init() {
	register(&Spec{
		Kind:       KindLine,
		BaudRate:   115200,
		NewDecoder: func() Decoder { return NewLineDecoder() },
		Encoder:    lineEncoder{},
	})
}

type LineDecoder struct {
	framer *Framer
}

func NewLineDecoder() *LineDecoder {
	return &LineDecoder{framer: NewFramer('\n', DefaultMaxFrame)}
}

func (d *LineDecoder) Ready() bool { return true }

func (d *LineDecoder) Decode(p []byte) Result {
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

		name, value, ok := bytes.Cut(frame, []byte(":"))
		if !ok || len(name) == 0 {
			res.Malformed = append(res.Malformed, malformed(raw, "expected ELEMENT:value"))
			continue
		}
		v, err := strconv.ParseFloat(string(bytes.TrimSpace(value)), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			res.Malformed = append(res.Malformed, malformed(raw, "invalid value"))
			continue
		}
		res.Events = append(res.Events, Event{Element: types.ElementID(bytes.TrimSpace(name)), Value: v})
	}

	return res
}

type lineEncoder struct{}

func (lineEncoder) Encode(element types.ElementID, value float64) ([]byte, error) {
	if element == "" {
		return nil, fmt.Errorf("line: empty element")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("line: %s: invalid value %v", element, value)
	}
	return []byte(fmt.Sprintf("%s:%s\n", element, strconv.FormatFloat(value, 'f', -1, 64))), nil
}
