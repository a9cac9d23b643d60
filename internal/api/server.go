package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/workflow"
)

const maxBodyBytes = 1 << 20

// StatusProvider reports workflow state for /api/status.
type StatusProvider interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// Server routes HTTP requests to a JobService.
type Server struct {
	jobs     *JobService
	status   StatusProvider
	logger   *slog.Logger
	timeout  time.Duration
}

// NewServer builds the API handler. status may be nil when no workflow runs
// in this process.
func NewServer(jobs *JobService, status StatusProvider, logger *slog.Logger, timeout time.Duration) *Server {
	return &Server{
		jobs:     jobs,
		status:   status,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		timeout:  timeout,
	}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleList)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Post("/cancel", s.handleCancel)
				r.Post("/retry", s.handleRetry)
				r.Post("/render", s.handleRender)
				r.Get("/logs", s.handleLogs)
				r.Get("/timeline", s.handleTimeline)
			})
		})
	})
	return r
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	job, err := s.jobs.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, JobResponse{Job: job})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var statuses []string
	for _, value := range query["status"] {
		statuses = append(statuses, strings.Split(value, ",")...)
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	jobs, err := s.jobs.List(r.Context(), statuses, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.jobs.Describe(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Retry(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, JobResponse{Job: job})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	job, err := s.jobs.Render(r.Context(), chi.URLParam(r, "jobID"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, JobResponse{Job: job})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	resp, err := s.jobs.Logs(r.Context(), chi.URLParam(r, "jobID"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	resp, err := s.jobs.Timeline(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "workflow not running in this process", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, FromStatusSummary(s.status.Status(r.Context())))
}

// decode reads and validates a JSON body. An empty body is accepted when
// optional is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
			return false
		}
	}
	if err := Validate(dst); err != nil {
		s.writeValidationError(w, err)
		return false
	}
	return true
}

func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		s.writeError(w, http.StatusBadRequest, "validation failed", verr.Fields)
		return
	}
	s.writeError(w, http.StatusBadRequest, err.Error(), nil)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, queue.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ErrInvalidRequest):
		s.writeValidationError(w, err)
	default:
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.String("category", string(services.Classify(err))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check daemon logs and queue database access"),
		)
		s.writeError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, fields map[string]string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Fields: fields})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = services.WithRequestID(ctx, id)
			r = r.WithContext(ctx)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("size", ww.BytesWritten()),
			logging.Duration("duration", time.Since(start)),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(ctx)),
		)
	})
}
