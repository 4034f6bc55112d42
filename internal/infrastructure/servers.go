package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/riverqueue/river"
)

// HTTPServer adapts *http.Server to Server.
type HTTPServer struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewHTTPServer(addr string, h http.Handler, logger *slog.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func (s *HTTPServer) Start(context.Context) error {
	s.logger.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// RiverServer runs a River client's workers.
type RiverServer[TTx any] struct {
	client *river.Client[TTx]
	logger *slog.Logger
}

func NewRiverServer[TTx any](client *river.Client[TTx], logger *slog.Logger) *RiverServer[TTx] {
	return &RiverServer[TTx]{client: client, logger: logger}
}

// Start detaches the client from ctx so that Stop drains running jobs.
func (s *RiverServer[TTx]) Start(ctx context.Context) error {
	if err := s.client.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	s.logger.Info("river workers started")
	<-ctx.Done()
	return nil
}

// Stop waits for running jobs to finish or ctx to end.
func (s *RiverServer[TTx]) Stop(ctx context.Context) error {
	return s.client.Stop(ctx)
}

// LoopServer runs fn until its context is cancelled.
type LoopServer struct {
	fn func(ctx context.Context) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

func NewLoopServer(fn func(ctx context.Context) error) *LoopServer {
	return &LoopServer{fn: fn, done: make(chan struct{})}
}

func (s *LoopServer) Start(ctx context.Context) error {
	defer close(s.done)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	err := s.fn(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *LoopServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
