// Package server hosts the in-memory plagiarism backend over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/server/handlers"
	"github.com/3leaps/plagctl/internal/server/middleware"
)

// APIPrefix is the mount point of the REST API.
const APIPrefix = "/api/v1"

// Option configures a Server.
type Option func(*Server)

// WithBackend replaces the default backend.
func WithBackend(b *handlers.Backend) Option {
	return func(s *Server) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithHealthChecker registers an extra check reported by the health
// endpoints.
func WithHealthChecker(name string, c handlers.HealthChecker) Option {
	return func(s *Server) {
		if c != nil {
			s.checkers = append(s.checkers, namedChecker{name: name, checker: c})
		}
	}
}

// WithTimeouts sets the HTTP read, write and idle timeouts. Zero keeps the
// net/http default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout, s.writeTimeout, s.idleTimeout = read, write, idle
	}
}

// WithHealthRoutes toggles the /health endpoints. Default: enabled.
func WithHealthRoutes(enabled bool) Option {
	return func(s *Server) { s.healthRoutes = enabled }
}

type namedChecker struct {
	name    string
	checker handlers.HealthChecker
}

// Server is the HTTP front of a handlers.Backend.
type Server struct {
	host    string
	port    int
	version string
	backend *handlers.Backend
	health  *handlers.HealthManager
	logger  *zap.Logger
	router  chi.Router

	checkers     []namedChecker
	healthRoutes bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	http         *http.Server
}

// New builds a server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:    host,
		port:    port,
		version: "dev",
		logger:  zap.NewNop(),

		healthRoutes: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = handlers.NewBackend()
	}
	s.health = handlers.NewHealthManager(s.version)
	s.health.RegisterChecker("corpus", s.backend)
	for _, c := range s.checkers {
		s.health.RegisterChecker(c.name, c.checker)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	if s.healthRoutes {
		r.Get("/health", s.health.HealthHandler)
		r.Get("/health/live", s.health.LivenessHandler)
		r.Get("/health/ready", s.health.ReadinessHandler)
		r.Get("/health/startup", s.health.StartupHandler)
	}
	r.Get("/version", s.handleVersion)

	r.Route(APIPrefix, func(r chi.Router) {
		if s.healthRoutes {
			r.Get("/health", s.health.HealthHandler)
		}
		s.backend.Routes(r)
	})
	return r
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, "{\"version\":%q}\n", s.version)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Backend returns the served backend.
func (s *Server) Backend() *handlers.Backend {
	return s.backend
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// ListenAndServe serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting stub backend", zap.String("addr", s.Addr()), zap.String("api", APIPrefix))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down stub backend")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
