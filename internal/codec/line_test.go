package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineCodec(t *testing.T) {
	spec, ok := Lookup(KindLine)
	require.True(t, ok)
	assert.True(t, spec.OpenCatalog())

	d := spec.NewDecoder()
	assert.True(t, d.Ready())

	res := d.Decode([]byte("HEADING:271.5\nbroken\nCOM1:abc\n\nXPDR: 7000\n"))
	assert.Equal(t, []Event{
		{Element: "HEADING", Value: 271.5},
		{Element: "XPDR", Value: 7000},
	}, res.Events)
	assert.Len(t, res.Malformed, 2)

	frame, err := spec.Encoder.Encode("HEADING", 90.25)
	require.NoError(t, err)
	assert.Equal(t, "HEADING:90.25\n", string(frame))
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{KindAirspeed, KindEventSim, KindLine}, Kinds())

	_, ok := Lookup("modbus")
	assert.False(t, ok)
}
