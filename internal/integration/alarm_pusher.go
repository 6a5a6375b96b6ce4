package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/health"
)

// AlarmPayload is the JSON document POSTed to each alarm target.
type AlarmPayload struct {
	Source    string `json:"source"`
	FaultCode string `json:"fault_code"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// AlarmPusher sends alarm notifications to the configured targets via
// HTTP POST. Every push runs in its own goroutine so callers — in
// particular the fault reporter's callback path — never block on the
// network. Delivery is best-effort: exhausted retries are logged and
// reported as F010, nothing more.
type AlarmPusher struct {
	cfg      config.AlarmPusherConfig
	minLevel health.Level
	reporter *health.Reporter // optional; F010 on exhausted retries
	logger   *log.Logger
}

// NewAlarmPusher creates a pusher from the ipc.yaml section. reporter
// may be nil.
func NewAlarmPusher(cfg config.AlarmPusherConfig, reporter *health.Reporter) *AlarmPusher {
	return &AlarmPusher{
		cfg:      cfg,
		minLevel: health.ParseLevel(cfg.MinFaultLevelToPush),
		reporter: reporter,
		logger:   log.New(log.Writer(), "[ALARM] ", log.LstdFlags),
	}
}

// Enabled reports whether pushing is configured on.
func (p *AlarmPusher) Enabled() bool { return p.cfg.Enabled }

// ShouldPush reports whether the level meets the configured minimum.
func (p *AlarmPusher) ShouldPush(level health.Level) bool {
	return level >= p.minLevel
}

// PushAlarm sends an alarm to all targets, fire-and-forget.
func (p *AlarmPusher) PushAlarm(faultCode, message string, level health.Level) {
	if !p.cfg.Enabled || !p.ShouldPush(level) {
		return
	}

	payload := AlarmPayload{
		Source:    "ldpj_backend",
		FaultCode: faultCode,
		Message:   message,
		Level:     level.String(),
		Timestamp: time.Now().Format("2006-01-02T15:04:05"),
	}

	go p.sendToAll(payload)
}

// PushLeakAlarm sends a leak-detection alarm when configured.
func (p *AlarmPusher) PushLeakAlarm(cavityID int, probability float64) {
	if !p.cfg.PushOnLeak {
		return
	}
	p.PushAlarm("LEAK",
		fmt.Sprintf("cabin %d leak detected (probability=%.4f)", cavityID, probability),
		health.LevelError)
}

func (p *AlarmPusher) sendToAll(payload AlarmPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Printf("encode alarm payload: %v", err)
		return
	}
	for _, target := range p.cfg.Targets {
		p.sendWithRetry(target, body)
	}
}

func (p *AlarmPusher) sendWithRetry(target config.AlarmTarget, body []byte) {
	retries := target.Retries
	if retries <= 0 {
		retries = 3
	}
	timeout := time.Duration(target.TimeoutS * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retries - 1
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	resp, err := client.Post(target.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		p.logger.Printf("alarm push to %s exhausted all %d attempts: %v", target.URL, retries, err)
		if p.reporter != nil {
			p.reporter.RaiseFault(health.FaultAlarmPush,
				fmt.Sprintf("alarm push to %s failed", target.URL))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		p.logger.Printf("alarm push to %s returned %d", target.URL, resp.StatusCode)
		return
	}
	p.logger.Printf("alarm pushed to %s", target.URL)
}
