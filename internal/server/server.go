// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/logsage/logsage/internal/metrics"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/pkg/middleware"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the vector index is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config configures the HTTP server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// APIKey, when set, is required in the X-API-Key header on /v1 routes.
	APIKey string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Deps are the services the server exposes over HTTP.
type Deps struct {
	Answer      AnswerService
	Ingest      IngestService
	Storage     Pinger
	Vectors     HealthChecker
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
}

// Server is the main HTTP server.
type Server struct {
	cfg        Config
	deps       Deps
	log        *logger.Logger
	httpServer *http.Server

	askHandler    *AskHandler
	ingestHandler *IngestHandler

	mu      sync.RWMutex
	started bool
}

// New creates a new server around already-wired services.
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Default()
	}

	return &Server{
		cfg:           cfg,
		deps:          deps,
		log:           log,
		askHandler:    NewAskHandler(deps.Answer, deps.Metrics, log),
		ingestHandler: NewIngestHandler(deps.Ingest, deps.Metrics, log),
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info("starting HTTP server", "addr", addr, "version", s.cfg.Version)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
		return err
	}

	s.started = false
	s.log.Info("server stopped")
	return nil
}

// Routes builds the full HTTP handler with all middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	api := http.NewServeMux()
	s.askHandler.RegisterRoutes(api)
	s.ingestHandler.RegisterRoutes(api)

	var apiHandler http.Handler = api
	if s.cfg.APIKey != "" {
		apiHandler = s.requireAPIKey(apiHandler)
	}
	if s.deps.RateLimiter != nil {
		apiHandler = s.deps.RateLimiter.Middleware(apiHandler)
	}
	mux.Handle("/v1/", apiHandler)

	var handler http.Handler = mux
	if s.deps.Metrics != nil {
		handler = metrics.HTTPMiddleware(s.deps.Metrics, handler)
	}
	return s.logRequests(handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

// handleReady reports ready only when both backing stores answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if s.deps.Storage != nil {
		if err := s.deps.Storage.Ping(ctx); err != nil {
			checks["storage"] = err.Error()
			ready = false
		} else {
			checks["storage"] = "ok"
		}
	}
	if s.deps.Vectors != nil {
		if err := s.deps.Vectors.HealthCheck(ctx); err != nil {
			checks["vectors"] = err.Error()
			ready = false
		} else {
			checks["vectors"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(wrapped, r)

		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Health reports whether the server has been started.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
