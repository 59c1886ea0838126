package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionCovers(t *testing.T) {
	tests := []struct {
		d, other Direction
		want     bool
	}{
		{DirectionBidirectional, DirectionInput, true},
		{DirectionBidirectional, DirectionOutput, true},
		{DirectionBidirectional, DirectionBidirectional, true},
		{DirectionInput, DirectionInput, true},
		{DirectionInput, DirectionOutput, false},
		{DirectionInput, DirectionBidirectional, false},
		{DirectionOutput, DirectionOutput, true},
		{DirectionOutput, DirectionInput, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.d.Covers(tc.other), "%s covers %s", tc.d, tc.other)
	}
	assert.False(t, Direction("sideways").Valid())
}

func TestVariableIDRoundTrip(t *testing.T) {
	ids := []VariableID{
		{Name: "AIRSPEED INDICATED", Unit: "knots"},
		{Name: "GEAR CENTER POSITION", Unit: "percent over 100"},
		{Name: "BRAKE PARKING INDICATOR"},
	}
	for _, id := range ids {
		parsed, err := ParseVariableID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}

	_, err := ParseVariableID("  ")
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	te := NewTransportError("panel/eventsim", "open", errors.New("busy"))
	assert.True(t, IsTransport(fmt.Errorf("connect: %w", te)))
	assert.False(t, IsConfiguration(te))

	ce := &ConfigurationError{Index: 3, Element: PanelElement{Panel: "a", Element: "sw1"}, Reason: "duplicate"}
	assert.True(t, IsConfiguration(fmt.Errorf("load: %w", ce)))
	assert.Contains(t, ce.Error(), "entry 3")
	assert.Contains(t, ce.Error(), "a.sw1")
}
