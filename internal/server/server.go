// Package server runs the refmirror HTTP endpoint: the websocket store
// transport, the Prometheus scrape handler and a health probe.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/refmirror/internal/config"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/remote/ws"
)

// ShutdownTimeout bounds the graceful stop performed by Run.
const ShutdownTimeout = 5 * time.Second

// Server serves a store over websockets
type Server struct {
	config   config.Config
	ws       *ws.Server
	gatherer prometheus.Gatherer
	http     *HTTPServer

	// Server state
	running atomic.Bool
	closed  atomic.Bool

	logger log.Log
}

func NewServer(cfg config.Config, wsServer *ws.Server, gatherer prometheus.Gatherer, logger log.Log) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if wsServer == nil {
		return nil, fmt.Errorf("%w: no websocket server", ErrInvalidConfig)
	}

	s := &Server{
		config:   cfg,
		ws:       wsServer,
		gatherer: gatherer,
		logger:   log.OrNop(logger).With(log.Component("server")),
	}
	s.http = NewHTTPServer(cfg.Server.ListenAddr, s.Handler())

	s.logger.Info("Server created",
		log.String("listen_addr", cfg.Server.ListenAddr),
		log.String("path", cfg.Server.Path),
		log.Bool("metrics", cfg.Metrics.Enabled && gatherer != nil),
		log.Bool("auth", cfg.Server.Token != ""))

	return s, nil
}

// Handler routes the websocket path, the metrics path and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Server.Path, TokenAuth(s.config.Server.Token, s.logger, s.ws))
	if s.config.Metrics.Enabled && s.gatherer != nil {
		mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.closed.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	if err := s.http.Start(); err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return err
	}

	s.logger.Info("Server listening", log.String("addr", s.http.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	return s.http.Addr()
}

// Stop ends every websocket session and shuts the HTTP server down. A stopped
// server cannot be started again.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.closed.Store(true)

	s.logger.Info("Stopping server", log.Int("sessions", s.ws.Sessions()))

	// hijacked connections are not tracked by Shutdown
	s.ws.Close()
	if err := s.http.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Run starts the server and blocks until ctx is done or serving fails, then
// stops gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.http.Wait)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	})
	return g.Wait()
}
