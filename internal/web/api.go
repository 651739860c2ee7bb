package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mtzanidakis/webextract/internal/runner"
	"github.com/mtzanidakis/webextract/internal/schedule"
	"github.com/mtzanidakis/webextract/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Runs
	mux.HandleFunc("POST /api/runs", s.submitRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.cancelRun)
	mux.HandleFunc("POST /api/runs/{id}/retry", s.retryRun)

	// Named pipelines from config
	mux.HandleFunc("GET /api/pipelines", s.listPipelines)
	mux.HandleFunc("POST /api/pipelines/{name}/runs", s.submitNamedPipeline)

	// One-shot agents
	mux.HandleFunc("POST /api/extract", s.extract)
	mux.HandleFunc("POST /api/organize", s.organize)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /{$}", s.welcome)
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var spec pipeline.Spec
	if err := decodeBody(w, r, &spec); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.submit(w, spec)
}

func (s *Server) submitNamedPipeline(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	spec, ok := s.catalog.Get(name)
	if !ok {
		jsonError(w, fmt.Sprintf("pipeline %q not found", name), http.StatusNotFound)
		return
	}
	s.submit(w, spec)
}

func (s *Server) submit(w http.ResponseWriter, spec pipeline.Spec) {
	id, err := s.runner.SubmitSpec(spec, s.defaults())
	if err != nil {
		submitError(w, err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+id)
	jsonStatus(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runner.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		runError(w, err)
		return
	}
	jsonResponse(w, snap)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.Cancel(id); err != nil {
		runError(w, err)
		return
	}
	jsonStatus(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	id, err := s.runner.Retry(r.PathValue("id"), s.defaults())
	if err != nil {
		if errors.Is(err, runner.ErrNotFound) || errors.Is(err, runner.ErrNoPipeline) {
			runError(w, err)
			return
		}
		submitError(w, err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+id)
	jsonStatus(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.Names()
	out := make([]pipeline.Spec, 0, len(names))
	for _, name := range names {
		spec, _ := s.catalog.Get(name)
		out = append(out, spec)
	}
	jsonResponse(w, out)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		jsonResponse(w, []any{})
		return
	}
	schedules, err := s.schedules.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]scheduleView, len(schedules))
	for i, sc := range schedules {
		out[i] = scheduleView{Schedule: sc}
		if parsed, err := schedule.Parse(sc.Schedule); err == nil {
			out[i].Description = parsed.Describe()
		}
	}
	jsonResponse(w, out)
}

type scheduleView struct {
	store.Schedule
	Description string `json:"description,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	nats := "disabled"
	if s.bus != nil {
		nats = "ok"
	}
	jsonResponse(w, map[string]any{
		"status":     "ok",
		"runner":     s.runner.Stats(),
		"pipelines":  len(s.catalog.Names()),
		"ws_clients": s.hub.Len(),
		"uptime":     formatUptime(time.Since(s.startedAt)),
		"nats":       nats,
		"timestamp":  time.Now().UTC(),
		"version":    s.version,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "healthy"})
}

func (s *Server) welcome(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{
		"message": "Welcome to the webextract API",
		"version": s.version,
	})
}

// submitError maps submission failures to status codes.
func submitError(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonStatus(w, http.StatusBadRequest, map[string]any{"error": "invalid pipeline", "fields": verr.Fields})
	case errors.Is(err, orchestrator.ErrPipelineEmpty), errors.Is(err, orchestrator.ErrIncompatible):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, runner.ErrClosed):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func runError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runner.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, runner.ErrAlreadyFinished), errors.Is(err, runner.ErrNoPipeline):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, code, map[string]string{"error": msg})
}
