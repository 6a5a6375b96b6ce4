package poller

import (
	"encoding/binary"
	"math"
	"time"
)

// CabinFrameSize is the wire size of one cabin's readings: big-endian
// int16 analog at 0, float32 pressure at 2, int16 position at 6,
// float32 angle at 8.
const CabinFrameSize = 12

// CabinFrame is one snapshot of one cabin at one sample instant.
// Immutable once produced.
type CabinFrame struct {
	CabinIndex int
	Analog     int16
	Pressure   float64
	Position   int16
	Angle      float64
	Timestamp  float64 // Unix seconds
}

// PollFrame is one sample of all cabins at one polling instant. A
// truncated raw read yields a short cabin list.
type PollFrame struct {
	Timestamp float64
	Cabins    []CabinFrame
}

// ParsePollFrame decodes a raw cabin-array read into a PollFrame,
// stamping it with the current wall clock. Trailing partial cabins are
// dropped, never padded.
func ParsePollFrame(raw []byte, cabinCount int) PollFrame {
	ts := nowSeconds()
	frame := PollFrame{Timestamp: ts}
	for i := 0; i < cabinCount; i++ {
		off := i * CabinFrameSize
		if off+CabinFrameSize > len(raw) {
			break
		}
		chunk := raw[off : off+CabinFrameSize]
		frame.Cabins = append(frame.Cabins, CabinFrame{
			CabinIndex: i,
			Analog:     int16(binary.BigEndian.Uint16(chunk[0:2])),
			Pressure:   float64(math.Float32frombits(binary.BigEndian.Uint32(chunk[2:6]))),
			Position:   int16(binary.BigEndian.Uint16(chunk[6:8])),
			Angle:      float64(math.Float32frombits(binary.BigEndian.Uint32(chunk[8:12]))),
			Timestamp:  ts,
		})
	}
	return frame
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
