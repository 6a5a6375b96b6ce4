package poller

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeCabin(analog int16, pressure float32, position int16, angle float32) []byte {
	buf := make([]byte, CabinFrameSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(analog))
	binary.BigEndian.PutUint32(buf[2:6], math.Float32bits(pressure))
	binary.BigEndian.PutUint16(buf[6:8], uint16(position))
	binary.BigEndian.PutUint32(buf[8:12], math.Float32bits(angle))
	return buf
}

func TestParsePollFrame(t *testing.T) {
	raw := append(encodeCabin(100, 951.5, 42, 180.25),
		encodeCabin(-3, 899.0, 359, 0.5)...)

	frame := ParsePollFrame(raw, 2)
	require.Len(t, frame.Cabins, 2)

	c0 := frame.Cabins[0]
	assert.Equal(t, 0, c0.CabinIndex)
	assert.Equal(t, int16(100), c0.Analog)
	assert.InDelta(t, 951.5, c0.Pressure, 1e-3)
	assert.Equal(t, int16(42), c0.Position)
	assert.InDelta(t, 180.25, c0.Angle, 1e-3)
	assert.Equal(t, frame.Timestamp, c0.Timestamp)

	c1 := frame.Cabins[1]
	assert.Equal(t, 1, c1.CabinIndex)
	assert.Equal(t, int16(-3), c1.Analog)
	assert.InDelta(t, 899.0, c1.Pressure, 1e-3)
}

func TestParsePollFrameDropsPartialCabin(t *testing.T) {
	raw := append(encodeCabin(1, 950, 0, 0), 0xAA, 0xBB, 0xCC) // 12 + 3 bytes

	frame := ParsePollFrame(raw, 2)
	assert.Len(t, frame.Cabins, 1)
}

func TestParsePollFrameEmpty(t *testing.T) {
	frame := ParsePollFrame(nil, 25)
	assert.Empty(t, frame.Cabins)
	assert.Greater(t, frame.Timestamp, 0.0)
}

// ============================================================================
// RING BUFFER
// ============================================================================

func TestFrameRingEviction(t *testing.T) {
	r := newFrameRing(3)
	for ts := 1; ts <= 5; ts++ {
		r.append(PollFrame{Timestamp: float64(ts)})
	}

	assert.Equal(t, 3, r.len())
	latest, ok := r.latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Timestamp)

	// Oldest survivors are 3, 4, 5.
	all := r.since(0)
	require.Len(t, all, 3)
	assert.Equal(t, 3.0, all[0].Timestamp)
}

func TestFrameRingSince(t *testing.T) {
	r := newFrameRing(10)
	for ts := 1; ts <= 5; ts++ {
		r.append(PollFrame{Timestamp: float64(ts)})
	}

	newer := r.since(3)
	require.Len(t, newer, 2)
	assert.Equal(t, 4.0, newer[0].Timestamp)
	assert.Equal(t, 5.0, newer[1].Timestamp)

	assert.Nil(t, r.since(5))
	assert.Nil(t, r.since(99))
}

func TestFrameRingEmpty(t *testing.T) {
	r := newFrameRing(4)
	assert.Equal(t, 0, r.len())
	_, ok := r.latest()
	assert.False(t, ok)
	assert.Nil(t, r.since(0))
}
