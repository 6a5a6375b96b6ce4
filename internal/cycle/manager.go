package cycle

import (
	"sync"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/poller"
)

// Manager owns one FSM per cabin, keyed by zero-based cabin index.
// There is no cross-cabin state. The processing loop is the only
// mutator; the health checker and diagnostics read concurrently, so
// all access goes through the manager's guard.
type Manager struct {
	mu   sync.RWMutex
	fsms []*CabinFSM
}

// CabinSnapshot is one cabin's state for diagnostics.
type CabinSnapshot struct {
	State      string `json:"state"`
	PointCount int    `json:"points"`
}

// NewManager creates idle FSMs for cabinCount cabins.
func NewManager(cabinCount int, cfg config.CycleConfig) *Manager {
	m := &Manager{fsms: make([]*CabinFSM, cabinCount)}
	for i := range m.fsms {
		m.fsms[i] = NewCabinFSM(i, cfg)
	}
	return m
}

// Count returns the number of managed cabins.
func (m *Manager) Count() int { return len(m.fsms) }

// UpdateAll feeds each cabin frame to its FSM. Frames for unknown
// cabin indices are ignored.
func (m *Manager) UpdateAll(frame poller.PollFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cf := range frame.Cabins {
		if cf.CabinIndex >= 0 && cf.CabinIndex < len(m.fsms) {
			m.fsms[cf.CabinIndex].Update(cf)
		}
	}
}

// Harvest returns the accumulated data for a PROCESSING cabin. The
// second return is false when the cabin is unknown or not PROCESSING.
func (m *Manager) Harvest(cabinID int) (CycleData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cabinID < 0 || cabinID >= len(m.fsms) {
		return CycleData{}, false
	}
	fsm := m.fsms[cabinID]
	if fsm.State() != StateProcessing {
		return CycleData{}, false
	}
	return fsm.Harvest(), true
}

// Reset returns a cabin to IDLE and drops its cycle data.
func (m *Manager) Reset(cabinID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cabinID >= 0 && cabinID < len(m.fsms) {
		m.fsms[cabinID].Reset()
	}
}

// ClearFault returns a faulted cabin to IDLE.
func (m *Manager) ClearFault(cabinID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cabinID >= 0 && cabinID < len(m.fsms) {
		m.fsms[cabinID].ClearFault()
	}
}

// StateOf returns a cabin's current state; unknown cabins read as IDLE.
func (m *Manager) StateOf(cabinID int) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cabinID < 0 || cabinID >= len(m.fsms) {
		return StateIdle
	}
	return m.fsms[cabinID].State()
}

// ProcessingCabins returns cabin indices whose FSM is PROCESSING.
func (m *Manager) ProcessingCabins() []int {
	return m.inState(StateProcessing)
}

// FaultCabins returns cabin indices whose FSM is FAULT.
func (m *Manager) FaultCabins() []int {
	return m.inState(StateFault)
}

// CollectingSince returns, for every COLLECTING cabin, its cycle start
// timestamp. Used by the stuck-FSM health probe.
func (m *Manager) CollectingSince() map[int]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]float64)
	for i, fsm := range m.fsms {
		if fsm.State() == StateCollecting {
			out[i] = fsm.StartTime()
		}
	}
	return out
}

// Snapshot returns per-cabin state and point counts for diagnostics.
func (m *Manager) Snapshot() map[int]CabinSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]CabinSnapshot, len(m.fsms))
	for i, fsm := range m.fsms {
		out[i] = CabinSnapshot{State: fsm.State().String(), PointCount: fsm.PointCount()}
	}
	return out
}

func (m *Manager) inState(s State) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int
	for i, fsm := range m.fsms {
		if fsm.State() == s {
			ids = append(ids, i)
		}
	}
	return ids
}
