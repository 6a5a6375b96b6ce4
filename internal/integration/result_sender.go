// Package integration holds the outward-facing collaborators: the PLC
// write-back path and the HTTP alarm pusher.
package integration

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/plc"
)

// ResultSender encodes inference results and fault codes as big-endian
// int16 words and writes them to the PLC data block. It borrows the
// polling engine's transport; the transport serializes its own
// operations, so these short writes interleave safely with poll reads.
type ResultSender struct {
	transport plc.Transport

	wbDB     int
	wbOffset int
	wbScale  int
	wbBase   int

	fwDB     int
	fwOffset int

	logger *log.Logger
}

// NewResultSender creates a sender over the shared transport.
func NewResultSender(cfg config.PLCConfig, transport plc.Transport) *ResultSender {
	return &ResultSender{
		transport: transport,
		wbDB:      cfg.WriteBack.DBNumber,
		wbOffset:  cfg.WriteBack.ByteOffset,
		wbScale:   cfg.WriteBack.Scale,
		wbBase:    cfg.WriteBack.Base,
		fwDB:      cfg.FaultWrite.DBNumber,
		fwOffset:  cfg.FaultWrite.ByteOffset,
		logger:    log.New(log.Writer(), "[SENDER] ", log.LstdFlags),
	}
}

// WriteResult writes the inference outcome. For label 1 (ok) the value
// is base + int(probability*scale); for a detected leak it is base.
func (s *ResultSender) WriteResult(label int, probability float64) error {
	value := s.wbBase
	if label == 1 {
		value = s.wbBase + int(probability*float64(s.wbScale))
	}
	if err := s.writeInt16(s.wbDB, s.wbOffset, int16(value)); err != nil {
		return fmt.Errorf("write result (label=%d value=%d): %w", label, value, err)
	}
	return nil
}

// WriteFaultCode writes a fault code integer for HMI display.
func (s *ResultSender) WriteFaultCode(plcValue int) error {
	if err := s.writeInt16(s.fwDB, s.fwOffset, int16(plcValue)); err != nil {
		return fmt.Errorf("write fault code %d: %w", plcValue, err)
	}
	return nil
}

func (s *ResultSender) writeInt16(dbNumber, offset int, value int16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(value))
	return s.transport.DBWrite(dbNumber, offset, buf[:])
}
