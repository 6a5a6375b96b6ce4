package health

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/ldpj/backend/internal/config"
)

// dbSizeLimitMB is the fixed F007 threshold for the database probe.
const dbSizeLimitMB = 450

// stopJoinTimeout bounds how long Stop waits for the checker worker.
const stopJoinTimeout = 10 * time.Second

// Narrow views of the subsystems the checker probes.
type (
	PollerRef interface {
		Connected() bool
		IsRunning() bool
	}
	ModelRef interface {
		Loaded() bool
	}
	StoreRef interface {
		DBSizeMB() float64
		CountRecords() int64
	}
	FSMRef interface {
		CollectingSince() map[int]float64
	}
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status string                 `json:"status"` // OK, WARN, FAIL, SKIP, ERROR
	Error  string                 `json:"error,omitempty"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Report is one full health-check pass.
type Report struct {
	Timestamp    time.Time              `json:"timestamp"`
	Checks       map[string]CheckResult `json:"checks"`
	Overall      string                 `json:"overall"` // HEALTHY or DEGRADED
	ActiveFaults Summary                `json:"active_faults"`
}

// Checker runs periodic self-diagnosis probes, raising and resolving
// faults through the reporter.
type Checker struct {
	cfg      config.HealthConfig
	reporter *Reporter
	logger   *log.Logger

	mu              sync.Mutex
	poller          PollerRef
	model           ModelRef
	store           StoreRef
	fsms            FSMRef
	lastInferenceMs float64

	diskPath string

	stop chan struct{}
	done chan struct{}
}

// NewChecker creates a checker bound to the reporter. Subsystem
// references are injected after construction via SetRefs.
func NewChecker(cfg config.HealthConfig, reporter *Reporter) *Checker {
	return &Checker{
		cfg:      cfg,
		reporter: reporter,
		diskPath: "/",
		logger:   log.New(log.Writer(), "[HEALTH] ", log.LstdFlags),
	}
}

// SetRefs injects subsystem references. Nil arguments leave the
// existing reference untouched.
func (c *Checker) SetRefs(p PollerRef, m ModelRef, s StoreRef, f FSMRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p != nil {
		c.poller = p
	}
	if m != nil {
		c.model = m
	}
	if s != nil {
		c.store = s
	}
	if f != nil {
		c.fsms = f
	}
}

// ReportInferenceLatency is called by the processing loop after each
// inference round-trip.
func (c *Checker) ReportInferenceLatency(ms float64) {
	c.mu.Lock()
	c.lastInferenceMs = ms
	c.mu.Unlock()
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start spawns the periodic check worker unless disabled by config.
func (c *Checker) Start() {
	if !c.cfg.Enabled {
		c.logger.Printf("disabled by config")
		return
	}
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	interval := time.Duration(c.cfg.CheckIntervalS * float64(time.Second))
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.RunAllChecks()
			case <-c.stop:
				return
			}
		}
	}()
	c.logger.Printf("started (interval=%s)", interval)
}

// Stop halts the worker with a bounded join.
func (c *Checker) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(stopJoinTimeout):
		c.logger.Printf("worker did not exit within %s", stopJoinTimeout)
	}
	c.stop = nil
}

// ============================================================================
// PROBES
// ============================================================================

// RunAllChecks executes every enabled probe once and returns the
// structured report. Probe failures never propagate; they surface as
// status ERROR entries.
func (c *Checker) RunAllChecks() Report {
	report := Report{Timestamp: time.Now(), Checks: map[string]CheckResult{}}

	probes := []struct {
		name string
		fn   func(config.CheckSpec) CheckResult
	}{
		{"plc_connection", c.checkPLC},
		{"model_loaded", c.checkModel},
		{"disk_space", c.checkDisk},
		{"inference_latency", c.checkLatency},
		{"polling_thread", c.checkPolling},
		{"fsm_stuck", c.checkFSM},
		{"database", c.checkDatabase},
	}
	for _, p := range probes {
		report.Checks[p.name] = c.runProbe(p.name, p.fn)
	}

	report.Overall = "HEALTHY"
	if c.reporter.HasCritical() {
		report.Overall = "DEGRADED"
	}
	report.ActiveFaults = c.reporter.Snapshot()
	return report
}

func (c *Checker) runProbe(name string, fn func(config.CheckSpec) CheckResult) (result CheckResult) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Printf("probe %s panic: %v", name, p)
			result = CheckResult{Status: "ERROR", Error: fmt.Sprint(p)}
		}
	}()
	return fn(c.cfg.Checks[name])
}

func (c *Checker) checkPLC(spec config.CheckSpec) CheckResult {
	if !spec.On() {
		return CheckResult{Status: "SKIP"}
	}
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()

	connected := p != nil && p.Connected()
	if !connected {
		c.reporter.RaiseFault(FaultPLCLink, "PLC connection lost")
		return CheckResult{Status: "FAIL", Detail: map[string]interface{}{"connected": false}}
	}
	c.reporter.ResolveFault(FaultPLCLink)
	return CheckResult{Status: "OK", Detail: map[string]interface{}{"connected": true}}
}

func (c *Checker) checkModel(spec config.CheckSpec) CheckResult {
	if !spec.On() {
		return CheckResult{Status: "SKIP"}
	}
	c.mu.Lock()
	m := c.model
	c.mu.Unlock()

	loaded := m != nil && m.Loaded()
	if !loaded {
		c.reporter.RaiseFault(FaultModelLoad, "AI model not loaded")
		return CheckResult{Status: "FAIL", Detail: map[string]interface{}{"loaded": false}}
	}
	c.reporter.ResolveFault(FaultModelLoad)
	return CheckResult{Status: "OK", Detail: map[string]interface{}{"loaded": true}}
}

func (c *Checker) checkDisk(spec config.CheckSpec) CheckResult {
	if !spec.On() {
		return CheckResult{Status: "SKIP"}
	}
	minFree := spec.MinFreeMB
	if minFree == 0 {
		minFree = 100
	}

	usage, err := disk.Usage(c.diskPath)
	if err != nil {
		return CheckResult{Status: "ERROR", Error: err.Error()}
	}
	freeMB := float64(usage.Free) / (1024 * 1024)
	detail := map[string]interface{}{"free_mb": math.Round(freeMB*10) / 10}

	if freeMB < minFree {
		c.reporter.RaiseFault(FaultDiskSpace,
			fmt.Sprintf("free disk %.0fMB < %.0fMB", freeMB, minFree))
		return CheckResult{Status: "FAIL", Detail: detail}
	}
	c.reporter.ResolveFault(FaultDiskSpace)
	return CheckResult{Status: "OK", Detail: detail}
}

func (c *Checker) checkLatency(spec config.CheckSpec) CheckResult {
	if !spec.On() {
		return CheckResult{Status: "SKIP"}
	}
	maxMs := spec.MaxMs
	if maxMs == 0 {
		maxMs = 500
	}

	c.mu.Lock()
	lastMs := c.lastInferenceMs
	c.mu.Unlock()
	detail := map[string]interface{}{"last_ms": math.Round(lastMs*10) / 10}

	if lastMs > maxMs {
		c.reporter.RaiseFault(FaultLatency,
			fmt.Sprintf("inference latency %.0fms > %.0fms", lastMs, maxMs))
		return CheckResult{Status: "WARN", Detail: detail}
	}
	c.reporter.ResolveFault(FaultLatency)
	return CheckResult{Status: "OK", Detail: detail}
}

func (c *Checker) checkPolling(spec config.CheckSpec) CheckResult {
	if !spec.On() {
		return CheckResult{Status: "SKIP"}
	}
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()

	alive := p != nil && p.IsRunning()
	if !alive {
		c.reporter.RaiseFault(FaultPollerDead, "polling worker terminated unexpectedly")
		return CheckResult{Status: "FAIL", Detail: map[string]interface{}{"alive": false}}
	}
	c.reporter.ResolveFault(FaultPollerDead)
	return CheckResult{Status: "OK", Detail: map[string]interface{}{"alive": true}}
}

func (c *Checker) checkFSM(spec config.CheckSpec) CheckResult {
	c.mu.Lock()
	f := c.fsms
	c.mu.Unlock()
	if !spec.On() || f == nil {
		return CheckResult{Status: "SKIP"}
	}
	maxStuck := spec.MaxStuckDurationS
	if maxStuck == 0 {
		maxStuck = 120
	}

	now := float64(time.Now().UnixNano()) / 1e9
	var stuck []int
	for cabin, since := range f.CollectingSince() {
		if since > 0 && now-since > maxStuck {
			stuck = append(stuck, cabin)
		}
	}
	// Raise-only probe: F009 has no automatic resolve path.
	if len(stuck) > 0 {
		c.reporter.RaiseFault(FaultFSMStuck, fmt.Sprintf("cabins %v stuck in COLLECTING", stuck))
		return CheckResult{Status: "WARN", Detail: map[string]interface{}{"stuck_cabins": stuck}}
	}
	return CheckResult{Status: "OK", Detail: map[string]interface{}{"stuck_cabins": []int{}}}
}

func (c *Checker) checkDatabase(spec config.CheckSpec) CheckResult {
	c.mu.Lock()
	s := c.store
	c.mu.Unlock()
	if !spec.On() || s == nil {
		return CheckResult{Status: "SKIP"}
	}

	sizeMB := s.DBSizeMB()
	detail := map[string]interface{}{
		"size_mb":      math.Round(sizeMB*10) / 10,
		"record_count": s.CountRecords(),
	}
	if sizeMB > dbSizeLimitMB {
		c.reporter.RaiseFault(FaultDBCapacity,
			fmt.Sprintf("database size %.0fMB near limit", sizeMB))
		return CheckResult{Status: "WARN", Detail: detail}
	}
	c.reporter.ResolveFault(FaultDBCapacity)
	return CheckResult{Status: "OK", Detail: detail}
}
