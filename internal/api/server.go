// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/metrics"
	"github.com/newslens/newslens/internal/pipeline"
)

// Server wires HTTP handlers to the job store and queue.
type Server struct {
	router   chi.Router
	jobStore pipeline.JobStore
	queue    pipeline.Queue
	ws       http.Handler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The ws handler
// may be nil when realtime delivery is disabled.
func NewServer(
	jobStore pipeline.JobStore,
	queue pipeline.Queue,
	ws http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		queue:    queue,
		ws:       ws,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/{job_id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	URL             string `json:"url"`
	Language        string `json:"language"`
	Author          string `json:"author"`
	SourceName      string `json:"source_name"`
	PreviewImageURL string `json:"preview_image_url"`
	CanonicalURL    string `json:"canonical_url"`
}

type submitJobResponse struct {
	JobID  string             `json:"job_id"`
	Status pipeline.JobStatus `json:"status"`
	Reused bool               `json:"reused,omitempty"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSubmitURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	normalized, err := pipeline.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	// Resubmitting a URL that already has a live or completed job returns
	// that job instead of starting a duplicate analysis.
	existing, err := s.jobStore.FindJobByNormalizedURL(r.Context(), normalized)
	if err == nil && existing.Status != pipeline.JobStatusFailed {
		writeJSON(w, http.StatusOK, submitJobResponse{
			JobID:  existing.ID,
			Status: existing.Status,
			Reused: true,
		})
		return
	}
	if err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		s.logger.Error("dedup lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	language := req.Language
	if language == "" {
		language = "en"
	}
	job := pipeline.Job{
		ID:            uuid.NewString(),
		URL:           req.URL,
		NormalizedURL: normalized,
		Language:      language,
		Status:        pipeline.JobStatusQueued,
	}
	if _, err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	descriptor := pipeline.JobDescriptor{
		JobID:    job.ID,
		URL:      job.URL,
		Language: job.Language,
		Submission: pipeline.SubmissionMeta{
			Author:          req.Author,
			SourceName:      req.SourceName,
			PreviewImageURL: req.PreviewImageURL,
			CanonicalURL:    req.CanonicalURL,
		},
	}
	if err := s.queue.Enqueue(queueCtx, descriptor); err != nil {
		s.logger.Error("enqueue job failed",
			zap.String("job_id", job.ID), zap.Error(err))
		// Leave the job row; it records the submission even though no
		// worker will pick it up. The client can resubmit.
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

// jobView hides results until the job is actually complete; an in-flight
// job must never expose partial analysis output.
func jobView(job pipeline.Job) pipeline.Job {
	if job.Status != pipeline.JobStatusComplete {
		job.AnalysisResults = nil
	}
	if job.Status != pipeline.JobStatusFailed {
		job.ErrorMessage = ""
	}
	return job
}

func validateSubmitURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the websocket upgrade to pass through the
// logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
