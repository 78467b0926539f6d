package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/api/handlers"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

// Server is the upload API HTTP server.
//
// The server speaks the resumable upload protocol plus health probes, and
// supports graceful shutdown: in-flight chunk appends are allowed to finish
// within the shutdown context.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates the API server in a stopped state. Call Start to begin
// serving.
//
// Unless dev mode is enabled, a JWT secret of at least 32 characters must be
// configured (config file or REELHAVEN_API_JWT_SECRET).
func NewServer(config Config, svc *upload.Service, checks map[string]handlers.Check) (*Server, error) {
	config.ApplyDefaults()

	if !config.Auth.DevMode && len(config.GetJWTSecret()) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters; set via %s env var or config", EnvJWTSecret)
	}

	router := NewRouter(config, svc, checks)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}, nil
}

// Start starts the server and blocks until the context is cancelled or an
// error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("upload API listening", "addr", s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("upload API shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("upload API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("upload API shutdown error: %w", err)
			logger.Error("upload API shutdown error", logger.Err(err))
		} else {
			logger.Info("upload API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}
