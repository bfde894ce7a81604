package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/digest"
	"whalewatch/internal/dispatch"
	"whalewatch/internal/domain"
	"whalewatch/internal/metrics"
	"whalewatch/internal/pubsub"
)

// WindowMarks persists where the last dispatched digest window ended
type WindowMarks interface {
	Get(ctx context.Context, chain domain.Chain) (time.Time, error)
	Set(ctx context.Context, chain domain.Chain, end time.Time) error
}

// Notifier is the outbound digest channel (webhook)
type Notifier interface {
	SendDigest(ctx context.Context, d *domain.DigestWindow) error
}

type DigestService struct {
	log         logger.Logger
	cfg         *config.Config
	aggregator  *digest.Aggregator
	marks       WindowMarks
	notifier    Notifier
	broadcaster pubsub.Broadcaster
	mon         *metrics.Monitor

	subjectPrefix string
}

func NewDigestService(
	log logger.Logger,
	cfg *config.Config,
	aggregator *digest.Aggregator,
	marks WindowMarks,
	notifier Notifier,
	broadcaster pubsub.Broadcaster,
	mon *metrics.Monitor,
) (*DigestService, error) {
	if cfg == nil {
		return nil, errors.New("config is required for the digest service")
	}
	if aggregator == nil {
		return nil, errors.New("aggregator is required for the digest service")
	}
	if marks == nil {
		return nil, errors.New("window marks store is required for the digest service")
	}

	prefix := cfg.PubSub.NATS.SubjectPrefix
	if prefix == "" {
		prefix = "whale"
	}

	return &DigestService{
		log:           log,
		cfg:           cfg,
		aggregator:    aggregator,
		marks:         marks,
		notifier:      notifier,
		broadcaster:   broadcaster,
		mon:           mon,
		subjectPrefix: prefix,
	}, nil
}

// RunAll builds and dispatches the digest for every enabled chain. Windows
// are consecutive per chain: each starts where the previous one ended, so no
// event is summarized twice and none is skipped.
func (s *DigestService) RunAll(ctx context.Context, now time.Time) error {
	var firstErr error
	for _, name := range s.cfg.ChainsEnabled() {
		if err := s.runChain(ctx, domain.Chain(name), now); err != nil {
			s.log.Errorf("Digest for %s failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// BuildWindow aggregates the current open window for a chain without
// dispatching it. Serves the on-demand digest API.
func (s *DigestService) BuildWindow(ctx context.Context, chain domain.Chain, now time.Time) (*domain.DigestWindow, error) {
	start, err := s.windowStart(ctx, chain, now)
	if err != nil {
		return nil, err
	}

	d, err := s.aggregator.Aggregate(ctx, chain, start, now.UTC())
	if err != nil {
		return nil, err
	}
	noteLongWindow(d)
	return d, nil
}

func (s *DigestService) runChain(ctx context.Context, chain domain.Chain, now time.Time) error {
	end := now.UTC()

	start, err := s.windowStart(ctx, chain, end)
	if err != nil {
		return err
	}

	d, err := s.aggregator.Aggregate(ctx, chain, start, end)
	if err != nil {
		s.countDigest(chain, "error")
		return err
	}
	noteLongWindow(d)

	if s.notifier != nil {
		if err = s.notifier.SendDigest(ctx, d); err != nil && !errors.Is(err, dispatch.ErrDisabled) {
			s.countDigest(chain, "error")
			// the window mark does not advance; the next digest re-covers it
			return fmt.Errorf("dispatch digest for %s: %w", chain, err)
		}
	}

	if s.broadcaster != nil {
		subject := s.subjectPrefix + ".digest." + string(chain)
		if err = s.broadcaster.Publish(ctx, subject, d); err != nil {
			s.log.Errorf("Failed to broadcast digest for %s: %v", chain, err)
		}
	}

	if err = s.marks.Set(ctx, chain, end); err != nil {
		return fmt.Errorf("persist digest mark for %s: %w", chain, err)
	}

	s.countDigest(chain, "ok")
	s.log.Infof("Digest dispatched for %s: window %s -> %s, %d tx, %d significant",
		chain, d.WindowStart.Format(time.RFC3339), d.WindowEnd.Format(time.RFC3339), d.TxCount, d.EventCount)
	return nil
}

// noteLongWindow flags windows stretched past the daily cadence, which
// happens when the previous dispatch failed and its window was re-covered
func noteLongWindow(d *domain.DigestWindow) {
	span := d.WindowEnd.Sub(d.WindowStart)
	if span > 25*time.Hour {
		d.StatusNotes = append(d.StatusNotes,
			fmt.Sprintf("window spans %s: the previous digest was not dispatched", span.Round(time.Hour)))
	}
}

// windowStart is the previous window end, or 24h back on the very first run
func (s *DigestService) windowStart(ctx context.Context, chain domain.Chain, end time.Time) (time.Time, error) {
	last, err := s.marks.Get(ctx, chain)
	if err != nil {
		return time.Time{}, fmt.Errorf("read digest mark for %s: %w", chain, err)
	}
	if last.IsZero() {
		return end.Add(-24 * time.Hour), nil
	}
	return last, nil
}

func (s *DigestService) countDigest(chain domain.Chain, result string) {
	if s.mon != nil {
		s.mon.DigestsTotal.WithLabelValues(string(chain), result).Inc()
	}
}
