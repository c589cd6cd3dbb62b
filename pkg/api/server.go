// Package api serves the HTTP interface over the job store: submitting
// videos, polling their status, and reading logs and statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/jobs"
	"lessonforge/pkg/logx"
)

// Request limits.
const (
	DefaultMaxScenes = 5
	MaxScenesLimit   = 20
	maxBodyBytes     = 64 << 10
	defaultListLimit = 50
)

// MemoryStats reports Fix-Memory statistics.
type MemoryStats interface {
	Stats(ctx context.Context) fixmemory.Stats
}

// Options configures a Server.
type Options struct {
	Jobs    jobs.Store
	Gate    *jobs.Gate
	Memory  MemoryStats
	Metrics http.Handler
	// Version is reported by the health endpoint.
	Version string
}

// Server is the HTTP API.
type Server struct {
	opts    Options
	started time.Time
	logger  *logx.Logger
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	return &Server{opts: opts, started: time.Now(), logger: logx.NewLogger("api")}
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Topic     string `json:"topic"`
	Context   string `json:"context"`
	MaxScenes int    `json:"max_scenes"`
}

// GenerateResponse acknowledges a queued job.
type GenerateResponse struct {
	TaskID  string      `json:"task_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// RegisterRoutes adds every endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/tasks", s.handleList)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDelete)
	mux.HandleFunc("DELETE /api/tasks", s.handleClear)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/memory/stats", s.handleMemoryStats)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		s.writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.MaxScenes == 0 {
		req.MaxScenes = DefaultMaxScenes
	}
	if req.MaxScenes < 1 || req.MaxScenes > MaxScenesLimit {
		s.writeError(w, http.StatusBadRequest, "max_scenes must be between 1 and "+strconv.Itoa(MaxScenesLimit))
		return
	}

	job := &jobs.Job{
		ID:          uuid.NewString(),
		Topic:       req.Topic,
		Description: strings.TrimSpace(req.Context),
		MaxScenes:   req.MaxScenes,
		Status:      jobs.StatusQueued,
		Message:     "queued",
	}
	if err := s.opts.Jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("failed to queue job: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	s.logger.Info("queued job %s: %s", job.ID, job.Topic)
	s.writeJSON(w, http.StatusAccepted, GenerateResponse{
		TaskID:  job.ID,
		Status:  jobs.StatusQueued,
		Message: "video generation queued",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.opts.Jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := jobs.Filter{Limit: defaultListLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("status"); v != "" {
		if !jobs.ValidStatus(v) {
			s.writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		f.Status = jobs.Status(v)
	}

	list, err := s.opts.Jobs.List(r.Context(), f)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "count": len(list)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.opts.Jobs.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status == jobs.StatusPlanning || job.Status == jobs.StatusRendering {
		s.writeError(w, http.StatusConflict, "task is running")
		return
	}
	if err := s.opts.Jobs.Delete(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "task deleted", "task_id": id})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.opts.Jobs.ClearFinished(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "finished tasks cleared", "cleared": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Version != "" {
		resp["version"] = s.opts.Version
	}
	if s.opts.Gate != nil {
		resp["running_jobs"] = s.opts.Gate.Running()
		resp["max_jobs"] = s.opts.Gate.Capacity()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.opts.Jobs.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	breakdown := make(map[string]int)
	total := 0
	for _, st := range []jobs.Status{jobs.StatusQueued, jobs.StatusPlanning, jobs.StatusRendering, jobs.StatusCompleted, jobs.StatusFailed} {
		breakdown[string(st)] = counts[st]
		total += counts[st]
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"total_tasks": total, "status_breakdown": breakdown})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Memory == nil {
		s.writeJSON(w, http.StatusOK, fixmemory.Stats{TopSignatures: []fixmemory.SignatureCount{}})
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.Memory.Stats(r.Context()))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since parameter (use RFC3339)")
			return
		}
		since = t
	}
	entries := logx.RecentEntries(q.Get("component"), since)
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
