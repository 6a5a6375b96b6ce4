package plc

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransportContract(t *testing.T) {
	m := NewMockTransport(4, 12)

	// Mocks start connected.
	assert.True(t, m.Connected())

	raw, err := m.DBRead(9, 0, 48)
	require.NoError(t, err)
	require.Len(t, raw, 48)

	// Each cabin decodes to plausible idle readings.
	for i := 0; i < 4; i++ {
		chunk := raw[i*12 : (i+1)*12]
		pressure := math.Float32frombits(binary.BigEndian.Uint32(chunk[2:6]))
		assert.InDelta(t, 950, pressure, 6)

		position := int16(binary.BigEndian.Uint16(chunk[6:8]))
		assert.GreaterOrEqual(t, position, int16(0))
		assert.Less(t, position, int16(360))
	}

	assert.NoError(t, m.DBWrite(9, 200, []byte{0, 1}))
}

func TestMockTransportTruncatesToSize(t *testing.T) {
	m := NewMockTransport(4, 12)

	raw, err := m.DBRead(9, 0, 30)
	require.NoError(t, err)
	assert.Len(t, raw, 30)
}

func TestMockTransportDisconnected(t *testing.T) {
	m := NewMockTransport(1, 12)
	m.Disconnect()
	assert.False(t, m.Connected())

	_, err := m.DBRead(9, 0, 12)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.DBWrite(9, 200, []byte{0, 1}), ErrNotConnected)

	require.NoError(t, m.Connect())
	_, err = m.DBRead(9, 0, 12)
	assert.NoError(t, err)
}
