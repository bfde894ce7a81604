package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"whalewatch/internal/config"
)

// Run modes: the monitor normally runs forever, but one-shot modes exist for
// cron-style deployments and manual digests.
const (
	ModeContinuous = "continuous"
	ModeOnce       = "once"
	ModeDigest     = "digest"
)

// Run assembles the container, starts it, waits for the signal and stops
func Run(cfg *config.Config, mode string) error {
	ctxBuild, cancelBuild := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBuild()

	container, cleanup, err := Build(ctxBuild, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	switch mode {
	case ModeOnce:
		return container.sched.RunOnce(context.Background())
	case ModeDigest:
		return container.digests.RunAll(context.Background(), time.Now())
	case ModeContinuous, "":
	default:
		return fmt.Errorf("unknown run mode %q", mode)
	}

	if err = container.Start(); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownTimeout := cfg.App.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return container.Stop(shutdownCtx)
}
