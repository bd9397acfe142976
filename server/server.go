// Package server wires the relay together and runs its HTTP server.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/relay/config"
)

// Drainer is background work that must finish before the process exits.
// *queue.Dispatcher implements it.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	drainer         Drainer
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServer creates a new server instance. drainer may be nil.
func NewServer(cfg config.ServerConfig, handler http.Handler, drainer Drainer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		drainer:         drainer,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Start listens on the configured port and blocks until ctx is canceled or
// the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. Shutdown stops
// accepting requests first, then drains background work, both within the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("Server started", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		s.drain()
		return err
	}
}

func (s *Server) shutdown() error {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down server", zap.Duration("timeout", timeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}

	if s.drainer != nil {
		if err := s.drainer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error draining background work: %w", err)
		}
	}
	s.logger.Info("Server stopped")
	return nil
}

// drain gives queued work a chance to finish after the listener failed.
func (s *Server) drain() {
	if s.drainer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.drainer.Shutdown(ctx); err != nil {
		s.logger.Warn("background work abandoned", zap.Error(err))
	}
}
