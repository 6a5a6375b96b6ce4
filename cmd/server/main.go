// Command server runs the leak-detection edge backend: PLC polling,
// per-cabin cycle detection, feature extraction, model inference,
// persistence and the HTTP query surface.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ldpj/backend/internal/api"
	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/cycle"
	"github.com/ldpj/backend/internal/health"
	"github.com/ldpj/backend/internal/integration"
	"github.com/ldpj/backend/internal/metrics"
	"github.com/ldpj/backend/internal/model"
	"github.com/ldpj/backend/internal/pipeline"
	"github.com/ldpj/backend/internal/plc"
	"github.com/ldpj/backend/internal/poller"
	"github.com/ldpj/backend/internal/storage"
)

const version = "2.1.0"

func main() {
	_ = godotenv.Load()

	mode := flag.String("mode", "mock", "PLC transport mode: s7 or mock")
	configDir := flag.String("config", "configs", "configuration directory")
	flag.Parse()

	logger := log.New(log.Writer(), "[MAIN] ", log.LstdFlags)
	logger.Printf("ldpj backend v%s starting (mode=%s)", version, *mode)

	if dir := os.Getenv("LDPJ_CONFIG_DIR"); dir != "" {
		*configDir = dir
	}
	cfg := config.Load(*configDir)

	// ========================================================================
	// Component wiring
	// ========================================================================

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	reporter := health.NewReporter()
	reporter.ObserveActiveCount(func(n int) { m.ActiveFaults.Set(float64(n)) })

	var transport plc.Transport
	switch *mode {
	case "s7":
		transport = plc.NewS7Transport(cfg.PLC.Connection.IP,
			cfg.PLC.Connection.Rack, cfg.PLC.Connection.Slot)
	default:
		transport = plc.NewMockTransport(cfg.PLC.CabinArray.CabinCount,
			cfg.PLC.CabinArray.CabinSizeBytes)
	}

	engine := poller.New(cfg.PLC, transport, m)
	manager := cycle.NewManager(cfg.PLC.CabinArray.CabinCount, cfg.Runtime.CycleDetection)

	sender := integration.NewResultSender(cfg.PLC, transport)
	pusher := integration.NewAlarmPusher(cfg.IPC.AlarmPusher, reporter)

	// New faults fan out to the PLC fault zone and the alarm targets.
	// Registered before model load so a failed load is already pushed.
	reporter.RegisterCallback(func(ev health.FaultEvent) {
		if err := sender.WriteFaultCode(reporter.HighestPLCValue()); err != nil {
			logger.Printf("fault code write-back failed: %v", err)
		}
		pusher.PushAlarm(ev.Fault.Code, ev.Message, ev.Fault.Level)
	})

	classifier := model.NewClassifier(cfg.Models, *configDir)
	if err := classifier.Load(); err != nil {
		logger.Printf("model load failed, inference disabled: %v", err)
		reporter.RaiseFault(health.FaultModelLoad, err.Error())
	}

	store, err := storage.Open(cfg.Runtime.Database.Path)
	if err != nil {
		logger.Fatalf("open record store: %v", err)
	}

	checker := health.NewChecker(cfg.Health, reporter)
	checker.SetRefs(engine, classifier, store, manager)

	loop := pipeline.NewLoop(pipeline.Deps{
		Runtime:    cfg.Runtime,
		Engine:     engine,
		Manager:    manager,
		Classifier: classifier,
		Store:      store,
		Sender:     sender,
		Pusher:     pusher,
		Checker:    checker,
		Reporter:   reporter,
		Metrics:    m,
		BatchID:    uuid.NewString(),
	})

	apiServer := api.NewServer(cfg.IPC.APIServer, api.Deps{
		Store:      store,
		Engine:     engine,
		Classifier: classifier,
		Checker:    checker,
		Registry:   registry,
		Version:    version,
	})

	// ========================================================================
	// Startup
	// ========================================================================

	engine.Start()
	checker.Start()
	apiServer.Start()
	loop.Start()

	logger.Printf("backend running: %d cabins, threshold=%.2f, feature_mode=%s",
		cfg.PLC.CabinArray.CabinCount, cfg.Runtime.Threshold, cfg.Runtime.FeatureMode)

	// ========================================================================
	// Shutdown
	// ========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Printf("received %s, shutting down", s)

	loop.Stop()
	checker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	apiServer.Stop(ctx)
	cancel()

	engine.Stop()
	if err := store.Close(); err != nil {
		logger.Printf("close record store: %v", err)
	}
	logger.Printf("shutdown complete")
}
