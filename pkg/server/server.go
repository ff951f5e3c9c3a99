package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

// Server is the Warden HTTP server.
type Server struct {
	config  *config.ServerConfig
	svc     Service
	health  *health.Checker
	version string

	metricsPath    string
	metricsHandler http.Handler

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	logger       *slog.Logger
}

// Option configures optional server endpoints.
type Option func(*Server)

// WithHealth mounts the health endpoints backed by checker.
func WithHealth(checker *health.Checker, version string) Option {
	return func(s *Server) {
		s.health = checker
		s.version = version
	}
}

// WithMetrics mounts handler at path.
func WithMetrics(path string, handler http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = handler
	}
}

// NewServer creates a server over svc.
func NewServer(cfg *config.ServerConfig, svc Service, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		svc:    svc,
		logger: slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is already running")
	}
	if s.config.TLS.Enabled {
		reloader, err := newCertReloader(&s.config.TLS, s.logger)
		if err != nil {
			s.mu.Unlock()
			ln.Close()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		go reloader.run(ctx)
		ln = tls.NewListener(ln, tlsConfig(&s.config.TLS, reloader))
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String(), "tls", s.config.TLS.Enabled)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown drains in-flight requests for up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		running := s.isRunning
		s.isRunning = false
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			return
		}
		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	h := &handlers{svc: s.svc}

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(RequestIDMiddleware)
	r.Use(tracing.HTTPMiddleware)
	r.Use(LoggingMiddleware(s.logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorBody{Kind: "not_found", Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorBody{Kind: "method_not_allowed", Message: "method not allowed"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(ActorMiddleware(s.config.ActorHeader, s.config.RoleHeader))
		r.Use(BodyLimitMiddleware(s.config.MaxBodyBytes))

		r.Post("/validate", h.handleValidate)
		r.Post("/execute", h.handleExecute)
		r.Get("/audit", h.handleAudit)
		r.Get("/schema", h.handleSchema)
		r.Put("/admin/policy", h.handleReloadPolicy)
	})

	if s.health != nil {
		r.Get("/health", s.health.ReadinessHandler(s.version))
		r.Head("/health", s.health.ReadinessHandler(s.version))
		r.Get("/health/live", s.health.LivenessHandler())
	}
	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler)
	}
	return r
}
