package plc

import (
	"encoding/binary"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockTransport synthesizes cabin frames for offline development. It is
// a first-class mode, not a test artifact: the contract is identical to
// the S7 transport. Reads produce an idle-pressure plateau around
// 950 mbar with small jitter and a position counter wrapping at 360;
// writes are accepted as no-ops.
type MockTransport struct {
	mu         sync.Mutex
	cabinCount int
	cabinSize  int
	connected  bool
	tick       int
	rng        *rand.Rand
	logger     *log.Logger
}

// NewMockTransport creates a mock for cabinCount cabins of
// cabinSize bytes each. The mock starts connected.
func NewMockTransport(cabinCount, cabinSize int) *MockTransport {
	return &MockTransport{
		cabinCount: cabinCount,
		cabinSize:  cabinSize,
		connected:  true,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     log.New(log.Writer(), "[MOCK-PLC] ", log.LstdFlags),
	}
}

func (t *MockTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	t.logger.Printf("connected (cabin_count=%d)", t.cabinCount)
	return nil
}

func (t *MockTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
}

func (t *MockTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MockTransport) DBRead(dbNumber, offset, size int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, ErrNotConnected
	}

	t.tick++
	buf := make([]byte, 0, t.cabinCount*t.cabinSize)
	for i := 0; i < t.cabinCount; i++ {
		analog := int16(i*100 + t.rng.Intn(11))
		pressure := float32(950.0 + t.rng.Float64()*10 - 5)
		position := int16(t.tick % 360)
		angle := float32(float64(position) + t.rng.Float64() - 0.5)

		var cabin [12]byte
		binary.BigEndian.PutUint16(cabin[0:2], uint16(analog))
		binary.BigEndian.PutUint32(cabin[2:6], math.Float32bits(pressure))
		binary.BigEndian.PutUint16(cabin[6:8], uint16(position))
		binary.BigEndian.PutUint32(cabin[8:12], math.Float32bits(angle))
		buf = append(buf, cabin[:]...)
	}
	if size < len(buf) {
		buf = buf[:size]
	}
	return buf, nil
}

func (t *MockTransport) DBWrite(dbNumber, offset int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	return nil
}
