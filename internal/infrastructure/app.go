// Package infrastructure connects external services and runs the long-lived
// servers of a process until its context ends.
package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is a long-running component. Start blocks until the component
// stops or ctx ends.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers         []Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewApp(logger *slog.Logger, servers ...Server) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{servers: servers, logger: logger, shutdownTimeout: 15 * time.Second}
}

// Run starts every server. When ctx ends or any server fails, all servers
// are stopped and the first error is returned.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	<-gctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	var stopErrs []error
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.logger.Error("server stop failed", "error", err)
			stopErrs = append(stopErrs, err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Join(stopErrs...)
}
