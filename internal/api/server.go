// Package api exposes the HTTP interface of the scrape worker: health,
// metrics, and the job submission/status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/metrics"
	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Config controls producer-boundary defaults.
type Config struct {
	// DefaultMaxRetries is applied when a submission omits max_retries.
	DefaultMaxRetries int
}

// Server wires HTTP handlers to the job store.
type Server struct {
	router chi.Router
	store  scraper.JobStore
	idGen  scraper.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store scraper.JobStore, idGen scraper.IDGenerator, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = scraper.DefaultMaxRetries
	}
	s := &Server{
		store:  store,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/status", s.getJobStatus)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; probe it with a lookup that
	// is cheap and expected to miss.
	if _, err := s.store.GetJob(r.Context(), "readyz-probe"); err != nil && !errors.Is(err, scraper.ErrJobNotFound) {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	TargetURL      string `json:"target_url"`
	TargetUsername string `json:"target_username"`
	Platform       string `json:"platform"`
	SearchType     string `json:"search_type"`
	MaxRetries     *int   `json:"max_retries"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.toJob(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) toJob(req submitJobRequest) (scraper.Job, error) {
	if !scraper.ValidTargetURL(req.TargetURL) {
		return scraper.Job{}, errors.New("target_url must be a valid absolute http(s) URL")
	}
	platform := scraper.Platform(req.Platform)
	if platform != scraper.PlatformGeneric && !scraper.KnownPlatform(platform) {
		return scraper.Job{}, fmt.Errorf("unknown platform %q", req.Platform)
	}
	if platform == scraper.PlatformGeneric {
		platform = scraper.DetectPlatform(req.TargetURL)
	}
	searchType := scraper.SearchType(req.SearchType)
	switch searchType {
	case "", scraper.SearchTypeUsername, scraper.SearchTypeEmail, scraper.SearchTypePhone, scraper.SearchTypeDomain:
	default:
		return scraper.Job{}, fmt.Errorf("unknown search_type %q", req.SearchType)
	}
	maxRetries := s.cfg.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return scraper.Job{}, errors.New("max_retries must be >= 0")
		}
		maxRetries = *req.MaxRetries
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	return scraper.Job{
		ID:             id,
		TargetURL:      req.TargetURL,
		TargetUsername: req.TargetUsername,
		Platform:       platform,
		SearchType:     searchType,
		Status:         scraper.JobStatusQueued,
		MaxRetries:     maxRetries,
	}, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "fetch job failed")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "fetch job failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":        job.ID,
		"status":        job.Status,
		"retry_count":   job.RetryCount,
		"max_retries":   job.MaxRetries,
		"error_message": job.ErrorMessage,
	})
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
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
