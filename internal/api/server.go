// Package api serves the daemon's HTTP surface: pipeline lifecycle
// endpoints for the dashboard and CLI, health, and metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/pipeline"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/research"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/store"
)

// Manager is the slice of the stage manager the server drives.
type Manager interface {
	CreatePipeline(firmName string) (*store.Pipeline, error)
	StartStage(id, stage string) error
	Resume(id string) error
	Cancel(id string) error
	Running(id string) bool
}

// Server exposes pipelines over HTTP.
type Server struct {
	db      *store.Store
	mgr     Manager
	log     *slog.Logger
	metrics bool
}

func NewServer(db *store.Store, mgr Manager, log *slog.Logger, metricsEnabled bool) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{db: db, mgr: mgr, log: log, metrics: metricsEnabled}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/pipelines", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/status", s.handleStatus)
			r.Get("/report", s.handleReport)
			r.Post("/run", s.handleRun)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)
		})
	})
	return r
}

// pipelineDoc is the wire shape of a pipeline.
type pipelineDoc struct {
	ID        string          `json:"id"`
	FirmName  string          `json:"firm_name"`
	Status    pipeline.Status `json:"status"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toDoc(p *store.Pipeline) pipelineDoc {
	return pipelineDoc{
		ID:        p.ID,
		FirmName:  p.FirmName,
		Status:    p.Status,
		Error:     p.Error,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirmName string `json:"firm_name"`
		Start    bool   `json:"start"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FirmName == "" {
		writeError(w, http.StatusBadRequest, "firm_name is required")
		return
	}

	p, err := s.mgr.CreatePipeline(req.FirmName)
	if err != nil {
		s.log.Error("create pipeline", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create pipeline")
		return
	}
	doc := struct {
		pipelineDoc
		// StartError reports a requested-but-failed research start. The
		// pipeline exists either way; without it the caller would poll a
		// pipeline that is never going to move.
		StartError string `json:"start_error,omitempty"`
	}{pipelineDoc: toDoc(p)}
	if req.Start {
		if err := s.mgr.StartStage(p.ID, research.StageResearch); err != nil {
			s.log.Error("start research on create", "pipeline", p.ID, "error", err)
			doc.StartError = err.Error()
		} else if cur, err := s.db.GetPipeline(p.ID); err == nil && cur != nil {
			doc.pipelineDoc = toDoc(cur)
		}
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter []pipeline.Status
	if q := r.URL.Query().Get("status"); q != "" {
		st := pipeline.Status(q)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+q)
			return
		}
		filter = append(filter, st)
	}

	list, err := s.db.ListPipelines(filter...)
	if err != nil {
		s.log.Error("list pipelines", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list pipelines")
		return
	}
	docs := make([]pipelineDoc, 0, len(list))
	for _, p := range list {
		docs = append(docs, toDoc(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": docs})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *store.Pipeline {
	id := chi.URLParam(r, "id")
	p, err := s.db.GetPipeline(id)
	if err != nil {
		s.log.Error("get pipeline", "pipeline", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load pipeline")
		return nil
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return nil
	}
	return p
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if p := s.lookup(w, r); p != nil {
		writeJSON(w, http.StatusOK, toDoc(p))
	}
}

// handleStatus is the endpoint the dashboard polls. It carries enough for a
// progress row: the status plus how many companies research has found.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(w, r)
	if p == nil {
		return
	}
	found, err := s.db.CountCompanies(p.ID)
	if err != nil {
		s.log.Error("count companies", "pipeline", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load pipeline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline_id":     p.ID,
		"firm_name":       p.FirmName,
		"status":          p.Status,
		"error":           p.Error,
		"companies_found": found,
		"updated_at":      p.UpdatedAt,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(w, r)
	if p == nil {
		return
	}
	rep, err := s.db.LatestReport(p.ID)
	if err != nil {
		s.log.Error("latest report", "pipeline", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load report")
		return
	}
	if rep == nil {
		writeError(w, http.StatusNotFound, "no report generated yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rep.Payload)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(w, r)
	if p == nil {
		return
	}
	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
		writeError(w, http.StatusBadRequest, "stage is required")
		return
	}
	s.startStage(w, p.ID, func() error { return s.mgr.StartStage(p.ID, req.Stage) })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(w, r)
	if p == nil {
		return
	}
	s.startStage(w, p.ID, func() error { return s.mgr.Resume(p.ID) })
}

func (s *Server) startStage(w http.ResponseWriter, id string, start func() error) {
	err := start()
	var ite *research.InvalidTransitionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "started"})
	case errors.Is(err, research.ErrStageInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, research.ErrPipelineDone):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ite):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, research.ErrPipelineNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("start stage", "pipeline", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(w, r)
	if p == nil {
		return
	}
	if err := s.mgr.Cancel(p.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": p.ID, "state": "cancelling"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(w, r)
	if p == nil {
		return
	}
	if s.mgr.Running(p.ID) {
		writeError(w, http.StatusConflict, "a stage is running; cancel it first")
		return
	}
	if err := s.db.DeletePipeline(p.ID); err != nil {
		s.log.Error("delete pipeline", "pipeline", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete pipeline")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
