// Package retention folds aged raw events into permanent monthly rollups and
// prunes them afterwards, so the hot table stays bounded while history keeps
// its aggregate shape.
package retention

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	"whalewatch/internal/stores/clickhouse"
)

// EventStore is the slice of the ClickHouse store retention needs
type EventStore interface {
	OldestEventDay(ctx context.Context, chain domain.Chain) (time.Time, bool, error)
	FoldDay(ctx context.Context, chain domain.Chain, day time.Time) (clickhouse.DayFold, error)
	GetMonthlySummary(ctx context.Context, chain domain.Chain, yearMonth string) (domain.MonthlySummary, bool, error)
	UpsertMonthlySummary(ctx context.Context, sum domain.MonthlySummary) error
	DeleteBefore(ctx context.Context, chain domain.Chain, cutoff time.Time) error
}

// HighWater persists the last folded day per chain
type HighWater interface {
	Get(ctx context.Context, chain domain.Chain) (time.Time, error)
	Set(ctx context.Context, chain domain.Chain, day time.Time) error
}

type Runner struct {
	log    logger.Logger
	cfg    *config.Config
	events EventStore
	hwm    HighWater
}

func NewRunner(log logger.Logger, cfg *config.Config, events EventStore, hwm HighWater) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required for the retention runner")
	}
	if events == nil {
		return nil, fmt.Errorf("event store is required for the retention runner")
	}
	if hwm == nil {
		return nil, fmt.Errorf("high-water store is required for the retention runner")
	}
	return &Runner{log: log, cfg: cfg, events: events, hwm: hwm}, nil
}

// Run folds every not-yet-folded day older than the keep window into its
// monthly summary, advances the per-chain high-water mark after each day, and
// only then prunes the raw rows. A crash mid-run re-folds nothing: days at or
// below the mark are skipped on the next run.
func (r *Runner) Run(ctx context.Context, now time.Time) error {
	cutoff := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -r.cfg.Retention.KeepDays)

	for _, name := range r.cfg.ChainsEnabled() {
		chain := domain.Chain(name)
		if err := r.runChain(ctx, chain, cutoff); err != nil {
			return fmt.Errorf("retention for %s: %w", chain, err)
		}
	}
	return nil
}

func (r *Runner) runChain(ctx context.Context, chain domain.Chain, cutoff time.Time) error {
	oldest, ok, err := r.events.OldestEventDay(ctx, chain)
	if err != nil {
		return err
	}
	if !ok || !oldest.Before(cutoff) {
		// nothing old enough to fold
		return nil
	}

	folded, err := r.hwm.Get(ctx, chain)
	if err != nil {
		return err
	}

	day := oldest
	if !folded.IsZero() && folded.AddDate(0, 0, 1).After(day) {
		day = folded.AddDate(0, 0, 1)
	}

	for ; day.Before(cutoff); day = day.AddDate(0, 0, 1) {
		if err = r.foldDay(ctx, chain, day); err != nil {
			return err
		}
		if err = r.hwm.Set(ctx, chain, day); err != nil {
			return err
		}
	}

	if err = r.events.DeleteBefore(ctx, chain, cutoff); err != nil {
		return err
	}

	r.log.Infof("Retention done for %s: folded through %s, pruned before %s",
		chain, day.AddDate(0, 0, -1).Format("2006-01-02"), cutoff.Format("2006-01-02"))
	return nil
}

func (r *Runner) foldDay(ctx context.Context, chain domain.Chain, day time.Time) error {
	fold, err := r.events.FoldDay(ctx, chain, day)
	if err != nil {
		return err
	}
	if fold.TxCount == 0 {
		return nil
	}

	yearMonth := day.Format("2006-01")
	sum, exists, err := r.events.GetMonthlySummary(ctx, chain, yearMonth)
	if err != nil {
		return err
	}
	if !exists {
		sum = domain.MonthlySummary{Chain: chain, YearMonth: yearMonth}
	}

	sum.TxCount += fold.TxCount
	sum.Volume = sum.Volume.Add(fold.Volume)
	sum.VolumeUSD = sum.VolumeUSD.Add(fold.VolumeUSD)
	sum.ExchangeInflow = sum.ExchangeInflow.Add(fold.ExchangeInflow)
	sum.ExchangeOutflow = sum.ExchangeOutflow.Add(fold.ExchangeOutflow)
	sum.TaggedCount += fold.TaggedCount
	sum.UpdatedAt = time.Now().UTC()

	return r.events.UpsertMonthlySummary(ctx, sum)
}
