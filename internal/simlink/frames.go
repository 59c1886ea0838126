package simlink

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FrameType tags every message exchanged with the simulator relay.
type FrameType string

const (
	FrameHello      FrameType = "hello"
	FrameSubscribe  FrameType = "subscribe"
	FrameSubscribed FrameType = "subscribed"
	FrameSet        FrameType = "set"
	FrameEvent      FrameType = "event"
	FrameChanged    FrameType = "changed"
	FrameError      FrameType = "error"
	FrameQuit       FrameType = "quit"
)

// Frame is the single msgpack envelope used in both directions. Requests
// that expect an answer carry an ID that the relay echoes.
type Frame struct {
	Type   FrameType `msgpack:"type"`
	ID     uint64    `msgpack:"id,omitempty"`
	Client string    `msgpack:"client,omitempty"`
	Name   string    `msgpack:"name,omitempty"`
	Unit   string    `msgpack:"unit,omitempty"`
	Handle Handle    `msgpack:"handle,omitempty"`
	Value  float64   `msgpack:"value"`
	Error  string    `msgpack:"error,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}
