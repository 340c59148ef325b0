package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/exercisejudge/judge/internal/config"
	"github.com/exercisejudge/judge/internal/domain"
	"github.com/exercisejudge/judge/internal/observability"
)

// JobManager is the capability the HTTP layer dispatches submissions to. It
// is satisfied by *jobmanager.Manager; the handlers depend on this narrow
// interface so they can be exercised against a fake in tests.
type JobManager interface {
	Submit(taskID, code string, mode domain.Mode) (string, error)
	GetJob(jobID string) (domain.JobStatus, bool)
	CancelJob(jobID string) bool
	Health() (workers, queueSize, jobsCount int)
}

// Server aggregates the handlers' dependencies.
type Server struct {
	Cfg  config.Config
	Jobs JobManager
	Repo domain.TaskRepository
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// submitRequest is the validated body of the submit endpoint.
type submitRequest struct {
	TaskID string `json:"task_id" validate:"required"`
	Code   string `json:"code" validate:"required"`
	Mode   string `json:"mode" validate:"required,oneof=run check"`
}

// NewServer constructs an HTTP server with its dependencies wired.
func NewServer(cfg config.Config, jobs JobManager, repo domain.TaskRepository) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Repo: repo}
}

// SubmitHandler implements the submit endpoint (§6). Checks run in the
// order the spec fixes: task_id existence (404), mode validity (400), code
// size (413), then admission (429 on a full queue) — so that a request with
// both an unknown task_id and an invalid mode reports 404, not 400.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: malformed request body", domain.ErrInvalidArgument), nil)
			return
		}

		ctx := r.Context()
		if _, err := s.Repo.LoadMeta(ctx, req.TaskID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := getValidator().Var(req.Mode, "required,oneof=run check"); err != nil {
			writeError(w, r, fmt.Errorf("%w: mode must be one of run, check", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Var(req.Code, "required"); err != nil {
			writeError(w, r, fmt.Errorf("%w: code is required", domain.ErrInvalidArgument), nil)
			return
		}
		if len(req.Code) > s.Cfg.CodeMaxBytes {
			writeError(w, r, fmt.Errorf("%w: code exceeds %d bytes", domain.ErrCodeTooLarge, s.Cfg.CodeMaxBytes), nil)
			return
		}

		jobID, err := s.Jobs.Submit(req.TaskID, req.Code, domain.Mode(req.Mode))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set(jobIDHeader, jobID)
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
	}
}

// StatusHandler implements GET /jobs/{id} (§6).
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		status, ok := s.Jobs.GetJob(id)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: job %q", domain.ErrNotFound, id), nil)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// CancelHandler implements DELETE /jobs/{id} (§6).
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !s.Jobs.CancelJob(id) {
			writeError(w, r, fmt.Errorf("%w: job %q cannot be cancelled", domain.ErrInvalidArgument, id), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
	}
}

// ListTasksHandler implements GET /tasks (§6, SUPPLEMENTED FEATURES).
func (s *Server) ListTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metas, err := s.Repo.ListTasks(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if metas == nil {
			metas = []domain.TaskMeta{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": metas})
	}
}

// GetTaskHandler implements GET /tasks/{id} (§6, SUPPLEMENTED FEATURES).
func (s *Server) GetTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx := r.Context()
		meta, err := s.Repo.LoadMeta(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		statement, err := s.Repo.Statement(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"statement": statement, "meta": meta})
	}
}

// HealthHandler implements the health endpoint (§6).
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workers, queueSize, jobsCount := s.Jobs.Health()
		writeJSON(w, http.StatusOK, map[string]any{
			"workers":    workers,
			"queue_size": queueSize,
			"jobs_count": jobsCount,
		})
	}
}

// Routes wires the router. CORS and rate limiting are applied by the caller
// (cmd/server) so this package stays agnostic of process-wide middleware
// ordering; observability.HTTPMetricsMiddleware instruments every route.
func (s *Server) Routes(r chi.Router) {
	r.Use(observability.HTTPMetricsMiddleware)

	r.Post("/jobs", s.SubmitHandler())
	r.Get("/jobs/{id}", s.StatusHandler())
	r.Delete("/jobs/{id}", s.CancelHandler())
	r.Get("/tasks", s.ListTasksHandler())
	r.Get("/tasks/{id}", s.GetTaskHandler())
	r.Get("/healthz", s.HealthHandler())
}
