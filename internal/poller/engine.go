// Package poller implements the high-frequency PLC sampling engine: a
// background worker reads the cabin array at a fixed period, parses it
// into PollFrames and keeps them in a bounded ring buffer for the
// processing loop to consume by timestamp watermark.
package poller

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/metrics"
	"github.com/ldpj/backend/internal/plc"
)

// stopJoinTimeout bounds how long Stop waits for the worker to exit.
const stopJoinTimeout = 5 * time.Second

// Stats are the engine's lifetime counters.
type Stats struct {
	TotalPolls uint64 `json:"total_polls"`
	Errors     uint64 `json:"errors"`
	Reconnects uint64 `json:"reconnects"`
}

// Engine polls the PLC at a fixed interval from a background goroutine.
type Engine struct {
	mu    sync.Mutex
	ring  *frameRing
	stats Stats

	transport plc.Transport
	interval  time.Duration
	reconnect time.Duration

	dbNumber    int
	startOffset int
	cabinCount  int
	readSize    int

	running bool
	stop    chan struct{}
	done    chan struct{}

	metrics *metrics.Metrics
	logger  *log.Logger
}

// New creates an engine over the given transport. The transport is
// owned by the engine; other components borrow it read-only or, for
// the result sender, for serialized short writes.
func New(cfg config.PLCConfig, transport plc.Transport, m *metrics.Metrics) *Engine {
	return &Engine{
		ring:        newFrameRing(cfg.Polling.BufferSize),
		transport:   transport,
		interval:    time.Duration(cfg.Polling.IntervalMs) * time.Millisecond,
		reconnect:   time.Duration(cfg.Connection.ReconnectIntervalS * float64(time.Second)),
		dbNumber:    cfg.CabinArray.DBNumber,
		startOffset: cfg.CabinArray.StartOffset,
		cabinCount:  cfg.CabinArray.CabinCount,
		readSize:    cfg.CabinArray.CabinCount * cfg.CabinArray.CabinSizeBytes,
		metrics:     m,
		logger:      log.New(log.Writer(), "[POLLER] ", log.LstdFlags),
	}
}

// Transport exposes the engine-owned transport for the write-back path.
func (e *Engine) Transport() plc.Transport { return e.transport }

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start connects the transport and spawns the polling worker. Calling
// Start on a running engine is a no-op. A failed initial connect is
// logged, not fatal: the worker runs the reconnect path.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	if err := e.transport.Connect(); err != nil {
		e.logger.Printf("initial connect failed (will retry): %v", err)
	}

	go e.pollLoop(stop, done)
	e.logger.Printf("started (interval=%s, buffer=%d)", e.interval, e.ring.cap)
}

// Stop clears the running flag, joins the worker with a bound, then
// disconnects the transport.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		e.logger.Printf("worker did not exit within %s", stopJoinTimeout)
	}
	e.transport.Disconnect()
	e.logger.Printf("stopped")
}

// IsRunning reports whether the worker goroutine is alive.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Connected reports the transport link state.
func (e *Engine) Connected() bool { return e.transport.Connected() }

// ============================================================================
// BUFFER ACCESS
// ============================================================================

// BufferLength returns the current ring occupancy.
func (e *Engine) BufferLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.len()
}

// Stats returns a copy of the lifetime counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LatestFrame returns the most recent frame without removing it.
func (e *Engine) LatestFrame() (PollFrame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.latest()
}

// FramesSince returns all buffered frames with timestamp strictly
// greater than ts, in order. The read is non-destructive.
func (e *Engine) FramesSince(ts float64) []PollFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.since(ts)
}

// ============================================================================
// WORKER
// ============================================================================

func (e *Engine) pollLoop(stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		t0 := time.Now()

		if !e.transport.Connected() {
			if !e.tryReconnect() {
				if !sleepUntil(stop, e.reconnect) {
					return
				}
				continue
			}
		}

		raw, err := e.transport.DBRead(e.dbNumber, e.startOffset, e.readSize)
		if err != nil {
			e.countError()
			if errors.Is(err, plc.ErrNotConnected) || errors.Is(err, plc.ErrRead) {
				e.logger.Printf("poll error: %v", err)
			} else {
				e.logger.Printf("unexpected poll error: %v", err)
			}
			// Transport marked itself disconnected; reconnect next tick.
		} else {
			frame := ParsePollFrame(raw, e.cabinCount)
			e.mu.Lock()
			e.ring.append(frame)
			e.stats.TotalPolls++
			buffered := e.ring.len()
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.PollsTotal.Inc()
				e.metrics.BufferLength.Set(float64(buffered))
			}
		}

		if wait := e.interval - time.Since(t0); wait > 0 {
			if !sleepUntil(stop, wait) {
				return
			}
		}
	}
}

func (e *Engine) tryReconnect() bool {
	e.transport.Disconnect()
	if err := e.transport.Connect(); err != nil {
		return false
	}
	e.mu.Lock()
	e.stats.Reconnects++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ReconnectsTotal.Inc()
	}
	e.logger.Printf("reconnected")
	return true
}

func (e *Engine) countError() {
	e.mu.Lock()
	e.stats.Errors++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.PollErrorsTotal.Inc()
	}
}

// sleepUntil waits for d but wakes early on stop. It returns false if
// the worker should exit.
func sleepUntil(stop chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
