package app

import (
	"context"
	"errors"
	"net/http"

	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/scheduler"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// App owns the two long-running loops: the HTTP server and the polling
// scheduler. Everything else is wired behind them by the container.
type App struct {
	log     logger.Logger
	httpSrv HTTPServer
	sched   *scheduler.Scheduler

	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

func New(log logger.Logger, httpSrv HTTPServer, sched *scheduler.Scheduler) *App {
	return &App{log: log, httpSrv: httpSrv, sched: sched}
}

func (a *App) Start() error {
	a.log.Debug("App start begin...")

	go func() {
		if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("Start HTTP server is error=%v", err)
		}
	}()

	schedCtx, cancel := context.WithCancel(context.Background())
	a.schedCancel = cancel
	a.schedDone = make(chan struct{})

	go func() {
		defer close(a.schedDone)
		if err := a.sched.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Errorf("Scheduler stopped with error=%v", err)
		}
	}()

	a.log.Info("App started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stop begin...")

	if a.schedCancel != nil {
		a.schedCancel()
		select {
		case <-a.schedDone:
		case <-ctx.Done():
			a.log.Warn("Scheduler did not stop before the shutdown deadline")
		}
	}

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info("App stopped")
	return nil
}
