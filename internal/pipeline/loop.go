// Package pipeline drives the end-to-end processing loop: drain the
// poller buffer, advance the cabin state machines, and for every
// finished cycle run feature extraction, inference, persistence,
// PLC write-back and alarm pushing.
package pipeline

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/cycle"
	"github.com/ldpj/backend/internal/features"
	"github.com/ldpj/backend/internal/health"
	"github.com/ldpj/backend/internal/integration"
	"github.com/ldpj/backend/internal/metrics"
	"github.com/ldpj/backend/internal/model"
	"github.com/ldpj/backend/internal/poller"
	"github.com/ldpj/backend/internal/storage"
)

const stopJoinTimeout = 5 * time.Second

// Deps collects everything the loop touches. Sender, Pusher, Checker,
// Reporter and Metrics may be nil; the loop skips the corresponding
// step.
type Deps struct {
	Runtime    config.RuntimeConfig
	Engine     *poller.Engine
	Manager    *cycle.Manager
	Classifier *model.Classifier
	Store      *storage.Store
	Sender     *integration.ResultSender
	Pusher     *integration.AlarmPusher
	Checker    *health.Checker
	Reporter   *health.Reporter
	Metrics    *metrics.Metrics
	BatchID    string
}

// Loop is the processing loop. Start/Stop manage the goroutine;
// Pause/Resume gate the work without stopping it.
type Loop struct {
	mu         sync.RWMutex
	deps       Deps
	running    bool
	paused     bool
	watchdog   bool
	lastPollTs float64
	stop       chan struct{}
	done       chan struct{}
	logger     *log.Logger
}

func NewLoop(deps Deps) *Loop {
	return &Loop{
		deps:     deps,
		watchdog: true,
		logger:   log.New(log.Writer(), "[LOOP] ", log.LstdFlags),
	}
}

// Start launches the loop goroutine. Idempotent.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	stop, done := l.stop, l.done
	l.mu.Unlock()

	l.logger.Printf("processing loop started (batch=%s interval=%.3fs)",
		l.deps.BatchID, l.deps.Runtime.LoopIntervalS)
	go l.run(stop, done)
}

// Stop signals the loop and waits for it to drain, bounded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		l.logger.Printf("loop did not stop within %s", stopJoinTimeout)
	}
	l.logger.Printf("processing loop stopped")
}

func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *Loop) IsPaused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// Pause suspends cycle processing; polling continues underneath.
func (l *Loop) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	l.logger.Printf("processing paused")
}

func (l *Loop) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.logger.Printf("processing resumed")
}

// ToggleWatchdog flips the advisory watchdog flag and returns the new
// value. The flag is surfaced in diagnostics only; fault recovery does
// not depend on it.
func (l *Loop) ToggleWatchdog() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchdog = !l.watchdog
	return l.watchdog
}

func (l *Loop) run(stop, done chan struct{}) {
	defer close(done)
	interval := time.Duration(l.deps.Runtime.LoopIntervalS * float64(time.Second))
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	for {
		select {
		case <-stop:
			return
		default:
		}
		l.RunOnce()
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
	}
}

// RunOnce executes a single loop iteration: drain new frames, feed
// the state machines, and process every cabin that finished a cycle.
func (l *Loop) RunOnce() {
	l.mu.RLock()
	paused := l.paused
	watermark := l.lastPollTs
	l.mu.RUnlock()

	if paused {
		return
	}

	frames := l.deps.Engine.FramesSince(watermark)
	for _, frame := range frames {
		l.deps.Manager.UpdateAll(frame)
	}
	if len(frames) > 0 {
		l.mu.Lock()
		l.lastPollTs = frames[len(frames)-1].Timestamp
		l.mu.Unlock()
	}

	for _, cabinID := range l.deps.Manager.ProcessingCabins() {
		l.processCabin(cabinID)
	}

	for _, cabinID := range l.deps.Manager.FaultCabins() {
		if l.deps.Reporter != nil {
			l.deps.Reporter.RaiseFault(health.FaultFSMStuck,
				fmt.Sprintf("cabin %d cycle timed out", cabinID))
		}
		l.deps.Manager.ClearFault(cabinID)
	}
}

// processCabin runs the full post-cycle chain for one cabin. The FSM
// is always reset at the end, success or not.
func (l *Loop) processCabin(cabinID int) {
	data, ok := l.deps.Manager.Harvest(cabinID)
	if !ok {
		return
	}
	defer l.deps.Manager.Reset(cabinID)

	if len(data.Pressures) < 2 {
		l.logger.Printf("cabin %d: cycle too short (%d points), skipped",
			cabinID, len(data.Pressures))
		l.countCycle("skipped")
		return
	}

	start := time.Now()
	vec := features.Compute(data.Pressures, cabinID)
	input := features.ToVector(vec, l.deps.Runtime.FeatureMode)

	result := model.Unavailable()
	if l.deps.Classifier.Loaded() {
		r, err := l.deps.Classifier.Predict(input, l.deps.Runtime.Threshold)
		if err != nil {
			l.logger.Printf("cabin %d: inference failed: %v", cabinID, err)
		} else {
			result = r
		}
	}
	latency := time.Since(start)
	if l.deps.Checker != nil {
		l.deps.Checker.ReportInferenceLatency(float64(latency) / float64(time.Millisecond))
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.InferenceLatency.Observe(latency.Seconds())
	}

	duration := 0.0
	if n := len(data.Timestamps); n > 1 {
		duration = data.Timestamps[n-1] - data.Timestamps[0]
	}

	record := storage.Record{
		BatchID:      l.deps.BatchID,
		CavityID:     cabinID,
		Pressures:    data.Pressures,
		Angles:       data.Angles,
		Analogs:      data.Analogs,
		Positions:    data.Positions,
		Features:     vec,
		Label:        result.Label,
		Probability:  result.Probability,
		Confidence:   result.Confidence,
		ModelVersion: l.deps.Classifier.Version(),
		DurationS:    duration,
	}
	if _, err := l.deps.Store.LogRecord(record); err != nil {
		l.logger.Printf("cabin %d: record write failed: %v", cabinID, err)
		if l.deps.Reporter != nil {
			l.deps.Reporter.RaiseFault(health.FaultDBWrite,
				fmt.Sprintf("cabin %d record write failed", cabinID))
		}
		if l.deps.Metrics != nil {
			l.deps.Metrics.RecordErrorsTotal.Inc()
		}
	} else if l.deps.Metrics != nil {
		l.deps.Metrics.RecordsTotal.Inc()
	}

	if l.deps.Sender != nil {
		if err := l.deps.Sender.WriteResult(result.Label, result.Probability); err != nil {
			l.logger.Printf("cabin %d: result write-back failed: %v", cabinID, err)
		}
	}

	if result.Label == 0 && l.deps.Pusher != nil {
		l.deps.Pusher.PushLeakAlarm(cabinID, result.Probability)
	}

	l.logger.Printf("cabin %d: cycle done label=%d prob=%.4f points=%d duration=%.3fs",
		cabinID, result.Label, result.Probability, len(data.Pressures), duration)

	switch result.Label {
	case 1:
		l.countCycle("ok")
	case 0:
		l.countCycle("leak")
	default:
		l.countCycle("unavailable")
	}
}

func (l *Loop) countCycle(result string) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.CyclesTotal.WithLabelValues(result).Inc()
	}
}

// GetDiagnostics returns a point-in-time snapshot of the running
// system for operator inspection.
func (l *Loop) GetDiagnostics() map[string]interface{} {
	l.mu.RLock()
	running, paused, watchdog, lastPoll := l.running, l.paused, l.watchdog, l.lastPollTs
	l.mu.RUnlock()

	stats := l.deps.Engine.Stats()
	return map[string]interface{}{
		"running":       running,
		"paused":        paused,
		"watchdog":      watchdog,
		"threshold":     l.deps.Runtime.Threshold,
		"feature_mode":  l.deps.Runtime.FeatureMode,
		"last_poll_ts":  lastPoll,
		"buffer_length": l.deps.Engine.BufferLength(),
		"poll_stats": map[string]uint64{
			"total_polls": stats.TotalPolls,
			"errors":      stats.Errors,
			"reconnects":  stats.Reconnects,
		},
		"cabins": l.deps.Manager.Snapshot(),
		"model": map[string]interface{}{
			"loaded":  l.deps.Classifier.Loaded(),
			"version": l.deps.Classifier.Version(),
		},
	}
}
