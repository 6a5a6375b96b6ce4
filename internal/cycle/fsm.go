// Package cycle implements per-cabin test-cycle detection. Each cabin
// owns one finite state machine that transitions
//
//	IDLE -> COLLECTING -> PROCESSING -> IDLE
//
// with a FAULT state for collection timeouts. PROCESSING and FAULT are
// exited only externally, by the processing loop.
package cycle

import (
	"log"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/poller"
)

// State is the FSM state of one cabin.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateProcessing
	StateFault
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCollecting:
		return "COLLECTING"
	case StateProcessing:
		return "PROCESSING"
	case StateFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// CycleData accumulates one test cycle's samples as parallel series of
// equal length.
type CycleData struct {
	Pressures  []float64
	Angles     []float64
	Timestamps []float64
	Analogs    []int16
	Positions  []int16
	StartTime  float64
}

// CabinFSM is the state machine for a single cabin. It is not safe for
// concurrent use; the processing loop is its only driver.
type CabinFSM struct {
	cabinID      int
	state        State
	data         CycleData
	lastPressure float64
	hasLast      bool

	cfg    config.CycleConfig
	logger *log.Logger
}

// NewCabinFSM creates an idle FSM for the given zero-based cabin index.
func NewCabinFSM(cabinID int, cfg config.CycleConfig) *CabinFSM {
	return &CabinFSM{
		cabinID: cabinID,
		state:   StateIdle,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[FSM] ", log.LstdFlags),
	}
}

// State returns the current state.
func (f *CabinFSM) State() State { return f.state }

// PointCount returns the number of samples collected so far.
func (f *CabinFSM) PointCount() int { return len(f.data.Pressures) }

// StartTime returns the cycle start timestamp, zero when idle.
func (f *CabinFSM) StartTime() float64 { return f.data.StartTime }

// Update feeds one data point and returns the possibly updated state.
// The last-pressure baseline is refreshed on every call regardless of
// state, so a cabin resuming from IDLE compares against the current
// pressure.
func (f *CabinFSM) Update(frame poller.CabinFrame) State {
	switch f.state {
	case StateIdle:
		f.handleIdle(frame)
	case StateCollecting:
		f.handleCollecting(frame)
		// PROCESSING and FAULT are externally managed.
	}

	f.lastPressure = frame.Pressure
	f.hasLast = true
	return f.state
}

// Harvest returns the accumulated cycle data. It does not change
// state; the caller resets the FSM once processing is done.
func (f *CabinFSM) Harvest() CycleData { return f.data }

// Reset returns the FSM to IDLE and drops the cycle data.
func (f *CabinFSM) Reset() {
	f.state = StateIdle
	f.data = CycleData{}
	f.hasLast = false
}

// ForceFault pushes the FSM into FAULT from any state.
func (f *CabinFSM) ForceFault(reason string) {
	f.state = StateFault
	f.logger.Printf("cabin %d forced to FAULT: %s", f.cabinID, reason)
}

// ClearFault returns a faulted FSM to IDLE for the next cycle.
func (f *CabinFSM) ClearFault() {
	f.state = StateIdle
	f.data = CycleData{}
	f.hasLast = false
	f.logger.Printf("cabin %d FAULT cleared", f.cabinID)
}

// ============================================================================
// TRANSITIONS
// ============================================================================

func (f *CabinFSM) handleIdle(frame poller.CabinFrame) {
	if !f.hasLast {
		return
	}
	drop := f.lastPressure - frame.Pressure
	if drop >= f.cfg.StartPressureDrop {
		f.state = StateCollecting
		f.data = CycleData{StartTime: frame.Timestamp}
		f.appendPoint(frame)
		f.logger.Printf("cabin %d: IDLE -> COLLECTING (drop=%.1f mbar)", f.cabinID, drop)
	}
}

func (f *CabinFSM) handleCollecting(frame poller.CabinFrame) {
	f.appendPoint(frame)
	elapsed := frame.Timestamp - f.data.StartTime

	// End conditions, in fixed priority order. A single update never
	// crosses more than one transition.
	if f.hasLast && len(f.data.Pressures) >= f.cfg.MinCollectionPoints {
		if rise := frame.Pressure - f.lastPressure; rise >= f.cfg.EndPressureRise {
			f.toProcessing("pressure rise detected")
			return
		}
	}

	if len(f.data.Pressures) >= f.cfg.MaxCollectionPoints {
		f.toProcessing("max points reached")
		return
	}

	if elapsed >= f.cfg.MaxCollectionDurationS {
		f.toProcessing("max duration reached")
		return
	}

	if elapsed >= f.cfg.CollectionTimeoutS {
		f.state = StateFault
		f.logger.Printf("cabin %d: COLLECTING -> FAULT (timeout %.1fs)", f.cabinID, elapsed)
	}
}

func (f *CabinFSM) toProcessing(reason string) {
	f.state = StateProcessing
	f.logger.Printf("cabin %d: COLLECTING -> PROCESSING (%s, %d points)",
		f.cabinID, reason, len(f.data.Pressures))
}

func (f *CabinFSM) appendPoint(frame poller.CabinFrame) {
	f.data.Pressures = append(f.data.Pressures, frame.Pressure)
	f.data.Angles = append(f.data.Angles, frame.Angle)
	f.data.Timestamps = append(f.data.Timestamps, frame.Timestamp)
	f.data.Analogs = append(f.data.Analogs, frame.Analog)
	f.data.Positions = append(f.data.Positions, frame.Position)
}
