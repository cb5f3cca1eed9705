package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"
	"github.com/sandeepkv93/clinic-survey-relay/internal/health"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relaysync"
)

// ExpiredCleanup periodically removes expired pending sessions. A zero
// Interval disables the loop.
type ExpiredCleanup struct {
	Interval  time.Duration
	Retention time.Duration
	Run       func(ctx context.Context, retention time.Duration) (int64, error)
}

// MirrorRetry periodically re-puts relay snapshots for sessions whose mirror
// failed at creation. A zero Interval disables the loop.
type MirrorRetry struct {
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	// Coordinator is nil when this process has no local store.
	Coordinator *relaysync.Coordinator
	Cleanup     *ExpiredCleanup
	MirrorRetry *MirrorRetry
	Readiness   *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stopBackground func()
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	coordinator *relaysync.Coordinator,
	cleanup *ExpiredCleanup,
	mirrorRetry *MirrorRetry,
	readiness *health.ProbeRunner,
	stopBackground func(),
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Coordinator:                  coordinator,
		Cleanup:                      cleanup,
		MirrorRetry:                  mirrorRetry,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stopBackground:               stopBackground,
	}
}

// StopBackgroundTasks releases resources that are not tied to a request, such
// as database and Redis connections.
func (a *App) StopBackgroundTasks() {
	if a.stopBackground != nil {
		a.stopBackground()
	}
}

// Run serves HTTP and runs the sync coordinator and periodic maintenance
// until ctx ends or one of them fails, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.Coordinator != nil {
		g.Go(func() error {
			if err := a.Coordinator.Run(gctx); err != nil && !errors.Is(err, relaysync.ErrCoordinatorStopped) {
				return err
			}
			return nil
		})
	}
	if a.Cleanup != nil && a.Cleanup.Interval > 0 && a.Cleanup.Run != nil {
		g.Go(func() error {
			a.every(gctx, a.Cleanup.Interval, "expired session cleanup", func(ctx context.Context) (int64, error) {
				return a.Cleanup.Run(ctx, a.Cleanup.Retention)
			})
			return nil
		})
	}
	if a.MirrorRetry != nil && a.MirrorRetry.Interval > 0 && a.MirrorRetry.Run != nil {
		g.Go(func() error {
			a.every(gctx, a.MirrorRetry.Interval, "relay mirror retry", a.MirrorRetry.Run)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

// every runs task on each tick until ctx ends. Failures are logged and the
// next tick tries again.
func (a *App) every(ctx context.Context, interval time.Duration, task string, run func(context.Context) (int64, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := run(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.Logger.Warn(task+" failed", "error", err)
				}
				continue
			}
			if n > 0 {
				a.Logger.Info(task+" done", "affected", n)
			}
		}
	}
}

// shutdown drains HTTP first so no submission is cut off mid-write, then
// stops the coordinator, then flushes telemetry.
func (a *App) shutdown() error {
	total := a.ShutdownTimeout
	if total <= 0 {
		total = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), total)
	defer cancel()

	var errs []error
	httpCtx, httpCancel := boundedContext(ctx, a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(httpCtx); err != nil {
		errs = append(errs, err)
	}
	httpCancel()

	if a.Coordinator != nil {
		if err := a.Coordinator.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.StopBackgroundTasks()

	obsCtx, obsCancel := boundedContext(ctx, a.ShutdownObservabilityTimeout)
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, err)
	}
	obsCancel()

	a.Logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func boundedContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
