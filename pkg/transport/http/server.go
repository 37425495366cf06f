package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maia-bench/maia/pkg/auth"
	"github.com/maia-bench/maia/pkg/transport"
)

// Server wraps an http.Server with the adapter and manages startup and
// graceful shutdown.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Addr            string
	MaxBodySize     int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// MetricsPath exposes the Prometheus registry; empty disables it.
	MetricsPath string

	// Auth guards every endpoint except BypassPaths. Nil disables
	// authentication.
	Auth        *auth.Chain
	RateLimiter auth.RateLimiter
	BypassPaths []string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MaxBodySize:     1 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    300 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
		MetricsPath:     "/metrics",
		BypassPaths:     auth.DefaultBypassEndpoints,
	}
}

// ServerOption configures a Server.
type ServerOption func(*ServerConfig)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(c *ServerConfig) { c.Addr = addr }
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(c *ServerConfig) { c.MaxBodySize = n }
}

// WithTimeouts sets the read and write deadlines of one HTTP exchange.
// The write timeout must exceed the run timeout or answers are cut off.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ReadTimeout, c.WriteTimeout = read, write }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ShutdownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = l }
}

// WithMetricsPath sets where Prometheus metrics are served; "" disables.
func WithMetricsPath(path string) ServerOption {
	return func(c *ServerConfig) { c.MetricsPath = path }
}

// WithAuth enables authentication and optional rate limiting.
func WithAuth(chain *auth.Chain, limiter auth.RateLimiter) ServerOption {
	return func(c *ServerConfig) { c.Auth, c.RateLimiter = chain, limiter }
}

// NewServer creates a server around answerer. runs and inflight may be
// nil. Recovery, request ID and logging middleware are applied to the
// answerer.
func NewServer(answerer transport.Answerer, runs transport.RunReader, inflight *transport.InFlightRegistry, opts ...ServerOption) *Server {
	cfg := DefaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{config: cfg, logger: cfg.Logger}
	s.adapter = NewAdapter(answerer, runs, inflight, Config{MaxBodySize: cfg.MaxBodySize},
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(cfg.Logger),
	)
	if cfg.MetricsPath != "" {
		s.adapter.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	var wrap []func(http.Handler) http.Handler
	if cfg.Auth != nil {
		bypass := cfg.BypassPaths
		if cfg.MetricsPath != "" && !contains(bypass, cfg.MetricsPath) {
			bypass = append(append([]string(nil), bypass...), cfg.MetricsPath)
		}
		wrap = append(wrap, auth.Middleware(cfg.Auth, cfg.RateLimiter, bypass))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.adapter.Handler(wrap...),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe listens on the configured address and serves until ctx
// is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
