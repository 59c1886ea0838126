package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAirspeedIdentification(t *testing.T) {
	d := NewAirspeedDecoder()

	res := d.Decode([]byte("Name<Airspeed-"))
	assert.False(t, res.Ready)

	res = d.Decode([]byte("Indicator>;"))
	assert.True(t, res.Ready)
	assert.True(t, d.Ready())
	assert.NoError(t, res.Err)
}

func TestAirspeedWrongDevice(t *testing.T) {
	d := NewAirspeedDecoder()

	res := d.Decode([]byte("Name<Altimeter>;"))
	require.Error(t, res.Err)

	var wrong *ErrWrongDevice
	require.ErrorAs(t, res.Err, &wrong)
	assert.Equal(t, "Altimeter", wrong.Got)
	assert.False(t, d.Ready())
}

func TestAirspeedIgnoresNoise(t *testing.T) {
	d := NewAirspeedDecoder()

	res := d.Decode([]byte("garbage;\nName<Airspeed-Indicator>;"))
	assert.Len(t, res.Malformed, 1)
	assert.True(t, res.Ready)
}

func TestAirspeedEncoder(t *testing.T) {
	spec, ok := Lookup(KindAirspeed)
	require.True(t, ok)
	assert.Equal(t, 38400, spec.BaudRate)

	frame, err := spec.Encoder.Encode(AirspeedElement, 142.7)
	require.NoError(t, err)
	assert.Equal(t, "Type<I-A>::Target<Airspeed-Indicator>::Content<142>::Origin<Interface>;\n", string(frame))

	_, err = spec.Encoder.Encode("ALTITUDE", 1)
	assert.Error(t, err)
}
