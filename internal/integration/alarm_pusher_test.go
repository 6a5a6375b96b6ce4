package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/health"
)

type alarmSink struct {
	mu       sync.Mutex
	payloads []AlarmPayload
	status   int
}

func newAlarmSink(status int) (*alarmSink, *httptest.Server) {
	sink := &alarmSink{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p AlarmPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		sink.mu.Lock()
		sink.payloads = append(sink.payloads, p)
		sink.mu.Unlock()
		w.WriteHeader(sink.status)
	}))
	return sink, srv
}

func (s *alarmSink) wait(t *testing.T, n int) []AlarmPayload {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.payloads)
		s.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AlarmPayload(nil), s.payloads...)
}

func pusherConfig(url string) config.AlarmPusherConfig {
	return config.AlarmPusherConfig{
		Enabled:             true,
		PushOnLeak:          true,
		MinFaultLevelToPush: "ERROR",
		Targets:             []config.AlarmTarget{{URL: url, TimeoutS: 2, Retries: 1}},
	}
}

func TestPushAlarmDelivers(t *testing.T) {
	sink, srv := newAlarmSink(http.StatusOK)
	defer srv.Close()

	p := NewAlarmPusher(pusherConfig(srv.URL), nil)
	p.PushAlarm("F001", "PLC connection lost", health.LevelCritical)

	payloads := sink.wait(t, 1)
	require.Len(t, payloads, 1)
	assert.Equal(t, "ldpj_backend", payloads[0].Source)
	assert.Equal(t, "F001", payloads[0].FaultCode)
	assert.Equal(t, "CRITICAL", payloads[0].Level)
	assert.NotEmpty(t, payloads[0].Timestamp)
}

func TestPushAlarmLevelGate(t *testing.T) {
	sink, srv := newAlarmSink(http.StatusOK)
	defer srv.Close()

	p := NewAlarmPusher(pusherConfig(srv.URL), nil)
	// WARNING is below the ERROR gate.
	p.PushAlarm("F004", "latency over limit", health.LevelWarning)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sink.wait(t, 0))
}

func TestPushAlarmDisabled(t *testing.T) {
	sink, srv := newAlarmSink(http.StatusOK)
	defer srv.Close()

	cfg := pusherConfig(srv.URL)
	cfg.Enabled = false
	p := NewAlarmPusher(cfg, nil)
	p.PushAlarm("F001", "ignored", health.LevelCritical)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sink.wait(t, 0))
}

func TestPushLeakAlarm(t *testing.T) {
	sink, srv := newAlarmSink(http.StatusOK)
	defer srv.Close()

	p := NewAlarmPusher(pusherConfig(srv.URL), nil)
	p.PushLeakAlarm(4, 0.07)

	payloads := sink.wait(t, 1)
	require.Len(t, payloads, 1)
	assert.Equal(t, "LEAK", payloads[0].FaultCode)
	assert.Contains(t, payloads[0].Message, "cabin 4")
	assert.Equal(t, "ERROR", payloads[0].Level)
}

func TestPushLeakAlarmGatedByConfig(t *testing.T) {
	sink, srv := newAlarmSink(http.StatusOK)
	defer srv.Close()

	cfg := pusherConfig(srv.URL)
	cfg.PushOnLeak = false
	p := NewAlarmPusher(cfg, nil)
	p.PushLeakAlarm(4, 0.07)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sink.wait(t, 0))
}

func TestExhaustedRetriesRaiseFault(t *testing.T) {
	reporter := health.NewReporter()

	// Unroutable target: every attempt errors out.
	cfg := pusherConfig("http://127.0.0.1:1")
	cfg.Targets[0].TimeoutS = 0.2
	p := NewAlarmPusher(cfg, reporter)
	p.PushAlarm("F005", "disk low", health.LevelError)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reporter.ActiveFaults()[health.FaultAlarmPush]; ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("F010 was not raised after exhausted retries")
}

func TestShouldPush(t *testing.T) {
	p := NewAlarmPusher(config.AlarmPusherConfig{MinFaultLevelToPush: "WARNING"}, nil)

	assert.False(t, p.ShouldPush(health.LevelInfo))
	assert.True(t, p.ShouldPush(health.LevelWarning))
	assert.True(t, p.ShouldPush(health.LevelCritical))
}
