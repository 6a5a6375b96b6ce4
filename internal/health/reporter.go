package health

import (
	"log"
	"sync"
	"time"
)

// historyLimit bounds the kept raise history.
const historyLimit = 200

// FaultEvent is one raised fault. At most one event per code is active
// at a time.
type FaultEvent struct {
	Fault     FaultCode `json:"fault"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
	Resolved  bool      `json:"resolved"`
}

// Callback is invoked for every newly raised fault. Callbacks must not
// block: the alarm pusher spawns its own worker per alarm.
type Callback func(FaultEvent)

// Summary is a structured snapshot of the active fault set.
type Summary struct {
	ActiveCount int            `json:"active_count"`
	HasCritical bool           `json:"has_critical"`
	Faults      []SummaryEntry `json:"faults"`
}

type SummaryEntry struct {
	Code    string    `json:"code"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Since   time.Time `json:"since"`
}

// Reporter maintains the deduplicated active-fault set and notifies
// registered callbacks on new faults.
type Reporter struct {
	mu        sync.Mutex
	active    map[string]*FaultEvent
	history   []FaultEvent
	callbacks []Callback
	logger    *log.Logger

	// onActiveCount, when set, observes the active set size after each
	// raise/resolve (metrics hook).
	onActiveCount func(int)
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{
		active: make(map[string]*FaultEvent),
		logger: log.New(log.Writer(), "[FAULT] ", log.LstdFlags),
	}
}

// RegisterCallback adds a callback invoked on every newly raised fault.
// Callback panics are contained and logged.
func (r *Reporter) RegisterCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// ObserveActiveCount installs a hook observing the active set size.
func (r *Reporter) ObserveActiveCount(fn func(int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onActiveCount = fn
}

// RaiseFault raises or refreshes a fault. A code already active only
// has its timestamp refreshed; callbacks fire once per activation.
func (r *Reporter) RaiseFault(code, message string) FaultEvent {
	fc := Lookup(code)
	if message == "" {
		message = fc.Description
	}

	r.mu.Lock()
	if existing, ok := r.active[code]; ok {
		existing.RaisedAt = time.Now()
		ev := *existing
		r.mu.Unlock()
		return ev
	}

	ev := FaultEvent{Fault: fc, Message: message, RaisedAt: time.Now()}
	r.active[code] = &ev
	r.history = append(r.history, ev)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
	callbacks := append([]Callback(nil), r.callbacks...)
	hook := r.onActiveCount
	count := len(r.active)
	r.mu.Unlock()

	r.logger.Printf("FAULT RAISED [%s] %s: %s", code, fc.Level, message)
	if hook != nil {
		hook(count)
	}
	for _, cb := range callbacks {
		r.invoke(cb, ev)
	}
	return ev
}

func (r *Reporter) invoke(cb Callback, ev FaultEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("fault callback panic: %v", p)
		}
	}()
	cb(ev)
}

// ResolveFault removes a fault from the active set. Resolving an
// inactive code is a no-op.
func (r *Reporter) ResolveFault(code string) {
	r.mu.Lock()
	ev, ok := r.active[code]
	if ok {
		ev.Resolved = true
		delete(r.active, code)
	}
	hook := r.onActiveCount
	count := len(r.active)
	r.mu.Unlock()

	if ok {
		r.logger.Printf("FAULT RESOLVED [%s]", code)
		if hook != nil {
			hook(count)
		}
	}
}

// ActiveFaults returns a copy of the active set keyed by mnemonic.
func (r *Reporter) ActiveFaults() map[string]FaultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]FaultEvent, len(r.active))
	for code, ev := range r.active {
		out[code] = *ev
	}
	return out
}

// HasCritical reports whether any active fault is CRITICAL.
func (r *Reporter) HasCritical() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.active {
		if ev.Fault.Level == LevelCritical {
			return true
		}
	}
	return false
}

// HighestPLCValue returns the PLC value of the most severe active
// fault, ties broken by registration order; 0 when none is active.
func (r *Reporter) HighestPLCValue() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var worst *FaultEvent
	for _, ev := range r.active {
		if worst == nil || severer(ev.Fault, worst.Fault) {
			worst = ev
		}
	}
	if worst == nil {
		return 0
	}
	return worst.Fault.PLCValue
}

// severer reports whether a outranks b: higher severity wins, equal
// severities resolve by earlier registration.
func severer(a, b FaultCode) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return registrationOrder(a.Code) < registrationOrder(b.Code)
}

// Snapshot returns a structured view of the active set.
func (r *Reporter) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{ActiveCount: len(r.active)}
	for _, ev := range r.active {
		if ev.Fault.Level == LevelCritical {
			s.HasCritical = true
		}
		s.Faults = append(s.Faults, SummaryEntry{
			Code:    ev.Fault.Code,
			Level:   ev.Fault.Level.String(),
			Message: ev.Message,
			Since:   ev.RaisedAt,
		})
	}
	return s
}

// History returns a copy of the raise history, oldest first.
func (r *Reporter) History() []FaultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FaultEvent(nil), r.history...)
}
