package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/pkg/config"
	xhttp "ChartSync/pkg/http"
	applogger "ChartSync/pkg/logger"
)

// Session is the chart lifecycle the app brackets.
type Session interface {
	Load(ctx context.Context, symbol string, tf domrepo.Timeframe) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Resources are closed in order after the session and HTTP server stop.
type Resources []io.Closer

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	session    Session
	httpServer *xhttp.Server
	resources  Resources
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	session Session,
	httpServer *xhttp.Server,
	resources Resources,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		session:    session,
		httpServer: httpServer,
		resources:  resources,
	}
}

// Run starts the application and blocks until interrupted or the HTTP
// listener fails.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext is Run bounded by ctx instead of process signals.
func (a *App) RunContext(ctx context.Context) error {
	symbol, tf := a.cfg.Chart.Symbol, domrepo.NormalizeTimeframe(a.cfg.Chart.Timeframe)
	if symbol != "" {
		// A dead backend at boot leaves an empty chart; refreshes and
		// manual loads recover it.
		if err := a.session.Load(ctx, symbol, tf); err != nil {
			a.l.Error("initial chart load failed",
				applogger.String("symbol", symbol),
				applogger.String("timeframe", string(tf)),
				applogger.Error(err),
			)
		}
	}

	if err := a.session.Start(ctx); err != nil {
		a.l.Error("chart session start error", applogger.Error(err))
		a.closeResources()
		return fmt.Errorf("start session: %w", err)
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		_ = a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err := <-a.httpServer.Errors():
		runErr = fmt.Errorf("http server: %w", err)
	}

	if err := a.shutdown(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	a.l.Info("shutting down...")

	timeout := a.httpServer.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.session.Stop(ctx); err != nil {
		a.l.Warn("chart session stop error", applogger.Error(err))
		errs = append(errs, err)
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	a.closeResources()

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	for _, r := range a.resources {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			a.l.Warn("resource close error", applogger.String("resource", fmt.Sprintf("%T", r)), applogger.Error(err))
		}
	}
}
