package handlers

import (
	"context"
	"errors"

	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/registry"
	"whalewatch/internal/scheduler"
	"whalewatch/internal/service"
)

// SchedulerState is what the status endpoint reads off the running scheduler
type SchedulerState interface {
	Backoff() float64
	Stats() scheduler.RunStats
}

type Handler struct {
	Log      logger.Logger
	Monitor  *service.MonitorService
	Digests  *service.DigestService
	Registry *registry.Registry
	Sched    SchedulerState

	// readiness probes per hard dependency, keyed by name
	Checks map[string]func(context.Context) error
}

func NewHandler(
	log logger.Logger,
	monitor *service.MonitorService,
	digests *service.DigestService,
	reg *registry.Registry,
	sched SchedulerState,
	checks map[string]func(context.Context) error,
) (*Handler, error) {
	if monitor == nil {
		return nil, errors.New("monitor service cannot be nil")
	}
	if digests == nil {
		return nil, errors.New("digest service cannot be nil")
	}
	if reg == nil {
		return nil, errors.New("registry cannot be nil")
	}

	return &Handler{
		Log:      log,
		Monitor:  monitor,
		Digests:  digests,
		Registry: reg,
		Sched:    sched,
		Checks:   checks,
	}, nil
}
