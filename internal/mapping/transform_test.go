package mapping

import (
	"testing"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestLinearRoundTrip(t *testing.T) {
	tr, err := NewTransform(TransformConfig{Type: "linear", Scale: ptr(0.5), Offset: 10})
	require.NoError(t, err)

	for _, raw := range []float64{0, 1, 17, -3, 1023} {
		sim, err := tr.ToSim(raw)
		require.NoError(t, err)
		back, err := tr.ToPanel(sim)
		require.NoError(t, err)
		assert.InDelta(t, raw, back, tr.Tolerance())
	}

	sim, _ := tr.ToSim(4)
	assert.Equal(t, 12.0, sim)
}

func TestLinearRoundsPanelValues(t *testing.T) {
	tr := Linear{Scale: 1, RoundPanel: true}
	v, err := tr.ToPanel(142.6)
	require.NoError(t, err)
	assert.Equal(t, 143.0, v)
}

func TestLinearZeroScaleIsInboundOnly(t *testing.T) {
	tr := Linear{Scale: 0, Offset: 1}
	assert.True(t, tr.Defines(types.DirectionInput))
	assert.False(t, tr.Defines(types.DirectionOutput))
	assert.False(t, tr.Defines(types.DirectionBidirectional))

	_, err := tr.ToPanel(1)
	assert.ErrorIs(t, err, ErrUndefined)
}

func TestEnumGearLeds(t *testing.T) {
	// gear position: 0 = up, 1 = down, anything in between is in transit
	tr := NewEnum([]EnumPair{{Panel: 0, Sim: 0}, {Panel: 1, Sim: 1}}, ptr(2), nil)

	cases := []struct {
		sim  float64
		want float64
	}{
		{0, 0},
		{1, 1},
		{0.5, 2},
	}
	for _, tc := range cases {
		got, err := tr.ToPanel(tc.sim)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "sim %v", tc.sim)
	}

	_, err := tr.ToSim(7)
	assert.Error(t, err)
}

func TestEnumDirectionsFollowUniqueness(t *testing.T) {
	manyToOne := NewEnum([]EnumPair{{Panel: 0, Sim: 0}, {Panel: 1, Sim: 0}}, nil, nil)
	assert.True(t, manyToOne.Defines(types.DirectionInput))
	assert.False(t, manyToOne.Defines(types.DirectionOutput))

	oneToMany := NewEnum([]EnumPair{{Panel: 0, Sim: 0}, {Panel: 0, Sim: 1}}, nil, nil)
	assert.False(t, oneToMany.Defines(types.DirectionInput))
	assert.True(t, oneToMany.Defines(types.DirectionOutput))
	assert.False(t, oneToMany.Defines(types.DirectionBidirectional))
}

func TestBits(t *testing.T) {
	tr := Bits{Mask: 0x3, Shift: 2}

	sim, err := tr.ToSim(0b1101)
	require.NoError(t, err)
	assert.Equal(t, 3.0, sim)

	raw, err := tr.ToPanel(2)
	require.NoError(t, err)
	assert.Equal(t, 8.0, raw)

	_, err = tr.ToSim(-1)
	assert.Error(t, err)
	_, err = tr.ToSim(1.5)
	assert.Error(t, err)
}

func TestNewTransformRejectsBadConfig(t *testing.T) {
	_, err := NewTransform(TransformConfig{Type: "spline"})
	assert.Error(t, err)

	_, err = NewTransform(TransformConfig{Type: "enum"})
	assert.Error(t, err)

	_, err = NewTransform(TransformConfig{Type: "bits"})
	assert.Error(t, err)

	tr, err := NewTransform(TransformConfig{})
	require.NoError(t, err)
	assert.Equal(t, TransformIdentity, tr.Kind())
}
