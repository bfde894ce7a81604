// Package scheduler drives the polling loop: it spaces wallet fetches across
// each cycle so the provider budget is never burst, and owns the daily digest
// and retention timers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/registry"
	"whalewatch/internal/service"
)

// WalletRunner is the per-wallet pipeline entry point
type WalletRunner interface {
	ProcessWallet(ctx context.Context, ws *registry.WalletState, now time.Time) (service.WalletResult, error)
}

// DigestRunner builds and dispatches the daily digest for every chain
type DigestRunner interface {
	RunAll(ctx context.Context, now time.Time) error
}

// RetentionRunner folds and prunes raw events past the keep window
type RetentionRunner interface {
	Run(ctx context.Context, now time.Time) error
}

// HourTicker advances the activity tracker's ring on hour boundaries
type HourTicker interface {
	Tick(now time.Time)
}

type Scheduler struct {
	log       logger.Logger
	cfg       *config.Config
	clock     Clock
	registry  *registry.Registry
	monitor   WalletRunner
	digests   DigestRunner
	retention RetentionRunner
	tracker   HourTicker
	mon       *metrics.Monitor

	loc         *time.Location
	digestAt    config.ClockTime
	retentionAt config.ClockTime

	mu      sync.Mutex
	backoff float64 // current interval multiplier, 1 when the provider is healthy

	// lifetime counters, reported on the status endpoint
	cycles        atomic.Int64
	checksTotal   atomic.Int64
	eventsTotal   atomic.Int64
	failuresTotal atomic.Int64
}

// RunStats is the scheduler's lifetime tally since process start
type RunStats struct {
	Cycles         int64 `json:"cycles"`
	WalletChecks   int64 `json:"wallet_checks"`
	NewEvents      int64 `json:"new_events"`
	ProviderErrors int64 `json:"provider_errors"`
}

func New(
	log logger.Logger,
	cfg *config.Config,
	clock Clock,
	reg *registry.Registry,
	monitor WalletRunner,
	digests DigestRunner,
	retention RetentionRunner,
	tracker HourTicker,
	mon *metrics.Monitor,
) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("config is required for the scheduler")
	}
	if clock == nil {
		return nil, errors.New("clock is required for the scheduler")
	}
	if reg == nil {
		return nil, errors.New("registry is required for the scheduler")
	}
	if monitor == nil {
		return nil, errors.New("wallet runner is required for the scheduler")
	}

	if err := ValidateBudget(reg.Count(), cfg.Monitor.PollInterval, cfg.Monitor.BudgetPerHour); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Digest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("digest timezone %q: %w", cfg.Digest.Timezone, err)
	}
	digestAt, err := config.ParseClock(cfg.Digest.Time)
	if err != nil {
		return nil, fmt.Errorf("digest time: %w", err)
	}
	retentionAt, err := config.ParseClock(cfg.Retention.RunTime)
	if err != nil {
		return nil, fmt.Errorf("retention run time: %w", err)
	}

	return &Scheduler{
		log:         log,
		cfg:         cfg,
		clock:       clock,
		registry:    reg,
		monitor:     monitor,
		digests:     digests,
		retention:   retention,
		tracker:     tracker,
		mon:         mon,
		loc:         loc,
		digestAt:    digestAt,
		retentionAt: retentionAt,
		backoff:     1,
	}, nil
}

// ValidateBudget rejects schedules that cannot fit the provider's hourly
// request allowance. This is a startup error on purpose: an infeasible
// interval would otherwise surface as a stream of 429s mid-run.
func ValidateBudget(wallets int, interval time.Duration, budgetPerHour int) error {
	if wallets <= 0 {
		return errors.New("no wallets to schedule")
	}
	if interval <= 0 {
		return fmt.Errorf("poll interval %s must be positive", interval)
	}

	perHour := float64(wallets) * (time.Hour.Seconds() / interval.Seconds())
	if perHour > float64(budgetPerHour) {
		return fmt.Errorf("schedule infeasible: %d wallets every %s needs %.1f requests/hour, budget is %d",
			wallets, interval, perHour, budgetPerHour)
	}
	return nil
}

// Run executes polling cycles until ctx is canceled. Between cycles it fires
// the hourly tracker tick and the daily digest and retention jobs, whichever
// comes due first. Cancellation abandons in-flight wallets; their markers do
// not advance, so the next start re-covers them.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.clock.Now()

	nextCycle := now // first cycle runs immediately
	nextHour := now.Truncate(time.Hour).Add(time.Hour)
	nextDigest := s.digestAt.Next(now, s.loc)
	nextRetention := s.retentionAt.Next(now, s.loc)

	s.log.Infof("Scheduler started: %d wallets, interval=%s, digest at %s, retention at %s",
		s.registry.Count(), s.cfg.Monitor.PollInterval,
		nextDigest.Format(time.RFC3339), nextRetention.Format(time.RFC3339))

	for {
		now = s.clock.Now()

		if !now.Before(nextHour) {
			if s.tracker != nil {
				s.tracker.Tick(now)
			}
			nextHour = now.Truncate(time.Hour).Add(time.Hour)
		}

		if !now.Before(nextDigest) {
			if s.digests != nil {
				if err := s.digests.RunAll(ctx, now); err != nil {
					s.log.Errorf("Digest run failed: %v", err)
				}
			}
			nextDigest = s.digestAt.Next(now, s.loc)
		}

		if !now.Before(nextRetention) {
			if s.retention != nil {
				if err := s.retention.Run(ctx, now); err != nil {
					s.log.Errorf("Retention run failed: %v", err)
				}
			}
			nextRetention = s.retentionAt.Next(now, s.loc)
		}

		if !now.Before(nextCycle) {
			rateLimited := s.runCycle(ctx, now)
			s.adjustBackoff(rateLimited)
			nextCycle = now.Add(s.interval())
		}

		next := earliest(nextCycle, nextHour)
		next = earliest(next, nextDigest)
		next = earliest(next, nextRetention)

		wait := next.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			s.log.Infof("Scheduler stopping: %v", ctx.Err())
			return ctx.Err()
		case <-s.clock.After(wait):
		}
	}
}

// RunOnce executes a single polling cycle and returns. Used by the one-shot
// run mode and by readiness smoke checks.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.runCycle(ctx, s.clock.Now())
	return ctx.Err()
}

// runCycle fetches every wallet once, spacing launches evenly across the
// interval and bounding concurrency. Returns how many fetches hit a 429.
func (s *Scheduler) runCycle(ctx context.Context, start time.Time) int {
	wallets := s.registry.Wallets()
	if len(wallets) == 0 {
		return 0
	}

	gap := s.slotGap(len(wallets))
	sem := make(chan struct{}, s.cfg.Monitor.MaxInflight)

	var (
		wg          sync.WaitGroup
		rateLimited atomic.Int64
		failures    atomic.Int64
		events      atomic.Int64
	)

	for i, ws := range wallets {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && gap > 0 {
			select {
			case <-ctx.Done():
			case <-s.clock.After(gap):
			}
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(ws *registry.WalletState) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.monitor.ProcessWallet(ctx, ws, s.clock.Now())
			if err != nil {
				failures.Add(1)
				if res.RateLimited {
					rateLimited.Add(1)
				}
				s.log.Warnf("Wallet %s %s failed this cycle: %v", ws.Chain, ws.Address, err)
				return
			}
			events.Add(int64(res.NewEvents))
		}(ws)
	}

	wg.Wait()

	s.cycles.Add(1)
	s.checksTotal.Add(int64(len(wallets)))
	s.eventsTotal.Add(events.Load())
	s.failuresTotal.Add(failures.Load())

	elapsed := s.clock.Now().Sub(start)
	if s.mon != nil {
		s.mon.CyclesTotal.Inc()
		s.mon.CycleSeconds.Observe(elapsed.Seconds())
	}
	s.log.Infof("Cycle done: %d wallets, %d new events, %d failures, %d rate-limited, took %s",
		len(wallets), events.Load(), failures.Load(), rateLimited.Load(), elapsed)

	return int(rateLimited.Load())
}

// slotGap spreads wallet launches over 80% of the interval, leaving headroom
// for slow tails before the next cycle is due.
func (s *Scheduler) slotGap(wallets int) time.Duration {
	if wallets <= 1 {
		return 0
	}
	usable := time.Duration(float64(s.cfg.Monitor.PollInterval) * 0.8)
	return usable / time.Duration(wallets)
}

// adjustBackoff widens the effective interval after a rate-limited cycle and
// narrows it again once the provider recovers.
func (s *Scheduler) adjustBackoff(rateLimited int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rateLimited > 0 {
		prev := s.backoff
		s.backoff *= s.cfg.Monitor.BackoffFactor
		if s.backoff > s.cfg.Monitor.BackoffMax {
			s.backoff = s.cfg.Monitor.BackoffMax
		}
		if s.backoff != prev {
			s.log.Warnf("Provider rate limited %d fetches, interval backoff now x%.1f", rateLimited, s.backoff)
		}
		return
	}

	if s.backoff > 1 {
		s.backoff /= s.cfg.Monitor.BackoffFactor
		if s.backoff < 1 {
			s.backoff = 1
		}
		s.log.Infof("Clean cycle, interval backoff relaxed to x%.1f", s.backoff)
	}
}

// interval is the poll interval scaled by the current backoff multiplier
func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(float64(s.cfg.Monitor.PollInterval) * s.backoff)
}

// Backoff reports the current interval multiplier, for the status endpoint
func (s *Scheduler) Backoff() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// Stats reports the lifetime run counters, for the status endpoint
func (s *Scheduler) Stats() RunStats {
	return RunStats{
		Cycles:         s.cycles.Load(),
		WalletChecks:   s.checksTotal.Load(),
		NewEvents:      s.eventsTotal.Load(),
		ProviderErrors: s.failuresTotal.Load(),
	}
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
