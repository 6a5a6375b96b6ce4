// Package api exposes the read-only HTTP query surface: persisted test
// records, system status, health reports and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/health"
	"github.com/ldpj/backend/internal/model"
	"github.com/ldpj/backend/internal/poller"
	"github.com/ldpj/backend/internal/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 10000
)

// Deps collects the components the query surface reads from. All of
// them are optional in tests; nil fields render as zero values.
type Deps struct {
	Store      *storage.Store
	Engine     *poller.Engine
	Classifier *model.Classifier
	Checker    *health.Checker
	Registry   prometheus.Gatherer
	Version    string
}

// Server is the HTTP API front end. It only ever reads component
// state, so it can start and stop independently of the pipeline.
type Server struct {
	cfg    config.APIServerConfig
	deps   Deps
	srv    *http.Server
	logger *log.Logger
}

func NewServer(cfg config.APIServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}

	r := mux.NewRouter()
	r.HandleFunc("/records", s.auth(s.handleRecords)).Methods(http.MethodGet)
	r.HandleFunc("/records/{id:[0-9]+}", s.auth(s.handleRecordDetail)).Methods(http.MethodGet)
	r.HandleFunc("/status", s.auth(s.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/health", s.auth(s.handleHealth)).Methods(http.MethodGet)
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in a background goroutine. Disabled servers
// are a no-op.
func (s *Server) Start() {
	if !s.cfg.Enabled {
		s.logger.Printf("api server disabled")
		return
	}
	go func() {
		s.logger.Printf("listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("serve error: %v", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Printf("shutdown: %v", err)
	}
}

// ============================================================================
// Middleware
// ============================================================================

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
			return
		}
		next(w, r)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database not available"})
		return
	}
	q := r.URL.Query()

	var filter storage.Filter
	filter.StartTime = q.Get("start_time")
	filter.EndTime = q.Get("end_time")
	if v := q.Get("cavity_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.CavityID = &n
		}
	}
	if v := q.Get("label"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Label = &n
		}
	}

	limit := intParam(q.Get("limit"), defaultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := intParam(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	records, err := s.deps.Store.QueryRecords(filter, limit, offset)
	if err != nil {
		s.logger.Printf("query records: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if records == nil {
		records = []storage.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleRecordDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database not available"})
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid record id"})
		return
	}
	detail, err := s.deps.Store.QueryRecordDetail(id)
	if err != nil {
		s.logger.Printf("query record %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if detail == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"system":    "ldpj_backend",
		"version":   s.deps.Version,
		"timestamp": time.Now().Format("2006-01-02T15:04:05"),
	}

	modelInfo := map[string]interface{}{"loaded": false, "version": ""}
	if s.deps.Classifier != nil {
		modelInfo["loaded"] = s.deps.Classifier.Loaded()
		modelInfo["version"] = s.deps.Classifier.Version()
	}
	status["model"] = modelInfo

	plcInfo := map[string]interface{}{"connected": false}
	if s.deps.Engine != nil {
		stats := s.deps.Engine.Stats()
		plcInfo["connected"] = s.deps.Engine.Connected()
		plcInfo["poll_stats"] = map[string]interface{}{
			"total_polls":   stats.TotalPolls,
			"errors":        stats.Errors,
			"reconnects":    stats.Reconnects,
			"buffer_length": s.deps.Engine.BufferLength(),
		}
	}
	status["plc"] = plcInfo

	dbInfo := map[string]interface{}{}
	if s.deps.Store != nil {
		dbInfo["record_count"] = s.deps.Store.CountRecords()
		dbInfo["size_mb"] = s.deps.Store.DBSizeMB()
	}
	status["database"] = dbInfo

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "health checker not available"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Checker.RunAllChecks())
}

// ============================================================================
// Helpers
// ============================================================================

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
