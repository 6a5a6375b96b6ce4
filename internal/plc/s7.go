package plc

import (
	"fmt"
	"log"
	"sync"

	"github.com/robinson/gos7"
)

// isoTCPPort is the well-known ISO-on-TCP port used by S7 controllers.
const isoTCPPort = 102

// S7Transport talks to a Siemens S7 PLC over ISO-on-TCP.
type S7Transport struct {
	mu        sync.Mutex
	addr      string
	rack      int
	slot      int
	handler   *gos7.TCPClientHandler
	client    gos7.Client
	connected bool
	logger    *log.Logger
}

// NewS7Transport creates a transport for the PLC at ip (port 102),
// addressed by rack and slot. No connection is made until Connect.
func NewS7Transport(ip string, rack, slot int) *S7Transport {
	return &S7Transport{
		addr:   fmt.Sprintf("%s:%d", ip, isoTCPPort),
		rack:   rack,
		slot:   slot,
		logger: log.New(log.Writer(), "[PLC] ", log.LstdFlags),
	}
}

func (t *S7Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	handler := gos7.NewTCPClientHandler(t.addr, t.rack, t.slot)
	if err := handler.Connect(); err != nil {
		t.connected = false
		return connectErr(t.addr, err)
	}

	t.handler = handler
	t.client = gos7.NewClient(handler)
	t.connected = true
	t.logger.Printf("connected: %s rack=%d slot=%d", t.addr, t.rack, t.slot)
	return nil
}

func (t *S7Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler != nil {
		_ = t.handler.Close()
		t.handler = nil
	}
	t.connected = false
}

func (t *S7Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *S7Transport) DBRead(dbNumber, offset, size int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil, ErrNotConnected
	}

	buf := make([]byte, size)
	if err := t.client.AGReadDB(dbNumber, offset, size, buf); err != nil {
		t.connected = false
		return nil, fmt.Errorf("%w: db=%d offset=%d size=%d: %v", ErrRead, dbNumber, offset, size, err)
	}
	return buf, nil
}

func (t *S7Transport) DBWrite(dbNumber, offset int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return ErrNotConnected
	}

	if err := t.client.AGWriteDB(dbNumber, offset, len(data), data); err != nil {
		t.connected = false
		return fmt.Errorf("%w: db=%d offset=%d len=%d: %v", ErrWrite, dbNumber, offset, len(data), err)
	}
	return nil
}
