package types

import (
	"fmt"
	"time"
)

// PanelID identifies one physical panel instance. Unique across the process.
type PanelID string

// ElementID is the panel-local name of a switch, encoder, lamp or display.
type ElementID string

type PanelElement struct {
	Panel   PanelID   `json:"panel"`
	Element ElementID `json:"element"`
}

func (e PanelElement) String() string {
	return fmt.Sprintf("%s.%s", e.Panel, e.Element)
}

type Direction string

const (
	DirectionInput         Direction = "input"
	DirectionOutput        Direction = "output"
	DirectionBidirectional Direction = "bidirectional"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionInput, DirectionOutput, DirectionBidirectional:
		return true
	default:
		return false
	}
}

// Inbound reports whether values flow from the panel toward the simulator.
func (d Direction) Inbound() bool {
	return d == DirectionInput || d == DirectionBidirectional
}

// Outbound reports whether values flow from the simulator toward the panel.
func (d Direction) Outbound() bool {
	return d == DirectionOutput || d == DirectionBidirectional
}

// Covers reports whether every flow of other is also allowed by d.
func (d Direction) Covers(other Direction) bool {
	if other.Inbound() && !d.Inbound() {
		return false
	}
	if other.Outbound() && !d.Outbound() {
		return false
	}
	return true
}

// ElementSpec declares one addressable element of a panel type.
type ElementSpec struct {
	ID        ElementID `json:"id"`
	Direction Direction `json:"direction"`
}

// PanelInput is a decoded input change reported by a panel.
type PanelInput struct {
	Panel      PanelID
	Element    ElementID
	Value      float64
	ReceivedAt time.Time
}

func (p PanelInput) Target() PanelElement {
	return PanelElement{Panel: p.Panel, Element: p.Element}
}
