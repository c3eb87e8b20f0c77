package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/yungbote/answercache/internal/config"
	"github.com/yungbote/answercache/internal/platform/logger"
)

type Server struct {
	log             *logger.Logger
	srv             *http.Server
	shutdownTimeout time.Duration
}

func NewServer(cfg config.HTTPConfig, router RouterConfig, log *logger.Logger) *Server {
	shutdown := cfg.ShutdownTimeout.Duration
	if shutdown <= 0 {
		shutdown = 15 * time.Second
	}
	readHeader := cfg.ReadHeaderTimeout.Duration
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	return &Server{
		log: log.With("service", "HTTPServer"),
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(router),
			ReadHeaderTimeout: readHeader,
			IdleTimeout:       cfg.IdleTimeout.Duration,
			ErrorLog:          log.StdLog(),
		},
		shutdownTimeout: shutdown,
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests for up to
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
