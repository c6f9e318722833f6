package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GridCast/pkg/config"
	xhttp "GridCast/pkg/http"
	applogger "GridCast/pkg/logger"
)

// Worker is a background consumer started with the HTTP server, such as the
// job queue.
type Worker interface {
	Start() error
	Stop(ctx context.Context) error
}

// App encapsulates the server process lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	handler    xhttp.Handler
	workers    []Worker
	httpServer *xhttp.Server
	signals    []os.Signal
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, workers ...Worker) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:     cfg,
		l:       l,
		handler: handler,
		workers: workers,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// Run starts the workers and the HTTP server, then blocks until ctx is done
// or an interrupt arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, a.signals...)
	defer stop()

	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORSOrigins...),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(a.cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	a.httpServer = xhttp.NewServer(a.handler, a.l, opts...)

	started := make([]Worker, 0, len(a.workers))
	for _, w := range a.workers {
		if err := w.Start(); err != nil {
			a.l.Error("worker start error", applogger.Error(err))
			a.stopWorkers(started)
			return err
		}
		started = append(started, w)
	}
	a.l.Info("workers started", applogger.Int("count", len(started)))

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		a.stopWorkers(started)
		return err
	}
	a.l.Info("server started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("env", a.cfg.Environment),
		applogger.String("storage", a.cfg.Storage.Backend),
	)

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then drains the workers.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	errs = append(errs, a.stopWorkers(a.workers)...)

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) stopWorkers(workers []Worker) []error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(ctx); err != nil {
			a.l.Warn("worker stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
