// Package httpapi exposes a read-only JSON surface over a running
// Scheduler: health, version, per-name queue stats, and job lookup. It
// carries no write endpoints — job mutation stays a library call, per
// the supplemented observability surface the distilled scheduler spec
// never named.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/scheduler"
)

// Server wraps a Scheduler with an http.Handler exposing its status.
type Server struct {
	scheduler *scheduler.Scheduler
	logger    *common.Logger
	mux       *http.ServeMux
}

// New builds a Server bound to s. Call Handler to obtain the mux.
func New(s *scheduler.Scheduler, logger *common.Logger) *Server {
	srv := &Server{scheduler: s, logger: logger, mux: http.NewServeMux()}
	srv.mux.HandleFunc("/api/health", srv.handleHealth)
	srv.mux.HandleFunc("/api/version", srv.handleVersion)
	srv.mux.HandleFunc("/api/stats", srv.handleStats)
	srv.mux.HandleFunc("/api/introspect", srv.handleIntrospect)
	srv.mux.HandleFunc("/api/jobs/", srv.handleJob)
	return srv
}

// Handler returns the server's http.Handler for mounting or ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleHealth reports liveness via Scheduler.Healthy, which checks both
// that dispatch is running and, when the backing store exposes a
// readiness check, that the store itself currently answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.scheduler.Healthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIntrospect serves the scheduler's process-local SchedulerStats
// snapshot: dispatch tick count, last heartbeat tick time, and whether
// the change-stream subscriber currently holds a live connection.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Stats())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleStats serves /api/stats?name=<jobName>. An empty name aggregates
// across every job name, per Scheduler.QueueStats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	stats, err := s.scheduler.QueueStats(r.Context(), name)
	if err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("httpapi: queue stats failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleJob serves GET /api/jobs/{id}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/api/jobs/"):]
	if id == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	job, err := s.scheduler.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("jobId", id).Msg("httpapi: job lookup failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
