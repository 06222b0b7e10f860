// Package server is the operational HTTP surface: trigger a pipeline run,
// inspect pipeline health, scrape Prometheus metrics. There is no end-user
// API; consumers read released rules straight from the database.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fiskal-io/regstream/internal/metrics"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/workers"
)

// HealthChecker reports live pipeline health. Satisfied by *workers.Watchdog.
type HealthChecker interface {
	Health(ctx context.Context) workers.Health
}

// Server serves the operational endpoints.
type Server struct {
	http   *http.Server
	enq    workers.Enqueuer
	health HealthChecker
	logger *slog.Logger
}

// New builds the HTTP server on addr.
func New(addr string, enq workers.Enqueuer, health HealthChecker, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{enq: enq, health: health, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /pipeline/trigger", s.handleTrigger)
	mux.HandleFunc("GET /pipeline/status", s.handleStatus)
	mux.Handle("GET /pipeline/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var payload queue.PipelineRunPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	jobID, err := s.enq.Enqueue(r.Context(), queue.TypePipelineRun, payload)
	if err != nil {
		s.logger.Error("trigger: enqueue failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	s.logger.Info("pipeline run triggered", "job_id", jobID, "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": "queued",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
