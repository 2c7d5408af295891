// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blunderlab/blunderlab/internal/analysis"
	"github.com/blunderlab/blunderlab/internal/config"
	"github.com/blunderlab/blunderlab/internal/metrics"
)

// Drainer runs one queue drain pass. Satisfied by *worker.Drainer.
type Drainer interface {
	Drain(ctx context.Context, limit, depth int) (analysis.DrainStats, error)
}

// Pinger reports readiness of a downstream dependency.
type Pinger func(ctx context.Context) error

// Server wires HTTP handlers to the job store and drainer.
type Server struct {
	router  chi.Router
	jobs    analysis.JobStore
	drainer Drainer
	ping    Pinger
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ping may be
// nil, in which case /readyz always reports ready.
func NewServer(
	jobs analysis.JobStore,
	drainer Drainer,
	ping Pinger,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		jobs:    jobs,
		drainer: drainer,
		ping:    ping,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(30 * time.Second))
			r.Post("/queue/enqueue", s.enqueue)
			r.Get("/queue/diagnostics", s.diagnostics)
			r.Get("/coverage", s.coverage)
		})
		// Drains run an engine per job batch; they get a wider deadline.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(10 * time.Minute))
			r.Post("/queue/drain", s.drain)
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
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeError(s.logger, w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	Limit  *int    `json:"limit"`
	Engine *string `json:"engine"`
	Depth  *int    `json:"depth"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	// An empty body means "use the defaults".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	limit := clamp(valueOrDefault(req.Limit, s.cfg.Queue.EnqueueBatch), 1, s.cfg.Queue.MaxEnqueueBatch)
	engine := valueOrDefault(req.Engine, s.cfg.Engine.Name)
	depth := valueOrDefault(req.Depth, s.cfg.Engine.DepthDefault)
	if depth < 1 {
		writeError(s.logger, w, http.StatusBadRequest, "depth must be >= 1")
		return
	}

	stats, err := s.jobs.EnqueueMissing(r.Context(), limit, engine, depth)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "enqueue failed")
		s.logger.Error("enqueue failed", zap.Error(err))
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, stats)
}

type drainRequest struct {
	Limit *int `json:"limit"`
	Depth *int `json:"depth"`
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	limit := clamp(valueOrDefault(req.Limit, s.cfg.Queue.ClaimBatch), 1, s.cfg.Queue.MaxClaimBatch)
	depth := valueOrDefault(req.Depth, s.cfg.Engine.DepthDefault)
	if depth < 1 {
		writeError(s.logger, w, http.StatusBadRequest, "depth must be >= 1")
		return
	}

	stats, err := s.drainer.Drain(r.Context(), limit, depth)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "drain failed")
		s.logger.Error("drain failed", zap.Error(err))
		return
	}
	writeJSON(s.logger, w, http.StatusOK, stats)
}

func (s *Server) coverage(w http.ResponseWriter, r *http.Request) {
	engine := queryOrDefault(r, "engine", s.cfg.Engine.Name)
	depth, err := queryInt(r, "depth", s.cfg.Engine.DepthDefault)
	if err != nil || depth < 1 {
		writeError(s.logger, w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}

	cov, err := s.jobs.Coverage(r.Context(), engine, depth)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "coverage failed")
		s.logger.Error("coverage failed", zap.Error(err))
		return
	}
	writeJSON(s.logger, w, http.StatusOK, cov)
}

type diagnosticsResponse struct {
	analysis.QueueStats
	Stalled  bool `json:"stalled"`
	Requeued int  `json:"requeued"`
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	engine := queryOrDefault(r, "engine", s.cfg.Engine.Name)
	depth, err := queryInt(r, "depth", s.cfg.Engine.DepthDefault)
	if err != nil || depth < 1 {
		writeError(s.logger, w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}

	var requeued int
	if r.URL.Query().Get("requeue") == "true" {
		requeued, err = s.jobs.RequeueStale(r.Context(), engine, depth, s.cfg.StaleAfter())
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, "requeue failed")
			s.logger.Error("requeue failed", zap.Error(err))
			return
		}
	}

	stats, err := s.jobs.Stats(r.Context(), engine, depth, s.cfg.StaleAfter())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "stats failed")
		s.logger.Error("stats failed", zap.Error(err))
		return
	}
	writeJSON(s.logger, w, http.StatusOK, diagnosticsResponse{
		QueueStats: stats,
		Stalled:    stats.StaleProcessing > 0,
		Requeued:   requeued,
	})
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func queryOrDefault(r *http.Request, key, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
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
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
