// Package plc provides the byte-block transport to the programmable
// logic controller. Two interchangeable variants exist behind one
// contract: a real S7 transport and a synthetic mock for offline use.
package plc

import (
	"errors"
	"fmt"
)

// Error kinds for transport failures. Callers classify with errors.Is.
var (
	ErrNotConnected = errors.New("plc: not connected")
	ErrConnect      = errors.New("plc: connection failed")
	ErrRead         = errors.New("plc: read failed")
	ErrWrite        = errors.New("plc: write failed")
)

// Transport is the byte-block read/write contract to the PLC.
//
// Connect and Disconnect are idempotent; Disconnect swallows errors.
// Any failed DBRead or DBWrite marks the transport as not connected so
// the owner takes the reconnect path. Implementations serialize their
// own operations: the polling engine issues reads while the result
// sender issues writes on the same handle.
type Transport interface {
	Connect() error
	Disconnect()
	Connected() bool

	// DBRead reads size bytes from the given data block at offset.
	DBRead(dbNumber, offset, size int) ([]byte, error)

	// DBWrite writes data to the given data block at offset.
	DBWrite(dbNumber, offset int, data []byte) error
}

func connectErr(addr string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
}
