// Package digest folds a window of classified events into the per-chain
// summary that gets dispatched on the daily schedule and served over the API.
package digest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
)

// EventSource is the read side the aggregator folds over
type EventSource interface {
	EventsInWindow(ctx context.Context, chain domain.Chain, start, end time.Time) ([]domain.ClassifiedEvent, error)
}

// RankSource breaks most-active ties deterministically
type RankSource interface {
	Rank(chain domain.Chain, address string) int
	DegradedWallets(chain domain.Chain) []string
}

type Aggregator struct {
	log    logger.Logger
	cfg    config.DigestConfig
	events EventSource
	ranks  RankSource
}

func NewAggregator(log logger.Logger, cfg config.DigestConfig, events EventSource, ranks RankSource) (*Aggregator, error) {
	if events == nil {
		return nil, fmt.Errorf("event source is required for the digest aggregator")
	}
	if ranks == nil {
		return nil, fmt.Errorf("rank source is required for the digest aggregator")
	}
	return &Aggregator{log: log, cfg: cfg, events: events, ranks: ranks}, nil
}

// Aggregate folds [start, end) for one chain. A window with zero events is a
// valid digest, not an error: "no whale movement" is a real observation.
func (a *Aggregator) Aggregate(ctx context.Context, chain domain.Chain, start, end time.Time) (*domain.DigestWindow, error) {
	events, err := a.events.EventsInWindow(ctx, chain, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s digest: %w", chain, err)
	}

	d := &domain.DigestWindow{
		Chain:           chain,
		WindowStart:     start.UTC(),
		WindowEnd:       end.UTC(),
		TotalVolume:     decimal.Zero,
		TotalVolumeUSD:  decimal.Zero,
		ExchangeInflow:  decimal.Zero,
		ExchangeOutflow: decimal.Zero,
		NetExchangeFlow: decimal.Zero,
	}

	perWallet := make(map[string]*domain.WalletActivity)

	for i := range events {
		ev := &events[i]

		d.TxCount++
		d.TotalVolume = d.TotalVolume.Add(ev.Amount)
		d.TotalVolumeUSD = d.TotalVolumeUSD.Add(ev.USDValue)

		tags := ev.TagSet()
		if !tags.Empty() {
			d.EventCount++
		}
		if tags.Has(domain.TagExchangeInflow) {
			d.ExchangeInflow = d.ExchangeInflow.Add(ev.Amount)
		}
		if tags.Has(domain.TagExchangeOutflow) {
			d.ExchangeOutflow = d.ExchangeOutflow.Add(ev.Amount)
		}

		wa, ok := perWallet[ev.WalletAddress]
		if !ok {
			wa = &domain.WalletActivity{
				WalletAddress: ev.WalletAddress,
				WalletRank:    a.ranks.Rank(chain, ev.WalletAddress),
				Volume:        decimal.Zero,
			}
			perWallet[ev.WalletAddress] = wa
		}
		wa.TxCount++
		wa.Volume = wa.Volume.Add(ev.Amount)
	}

	d.NetExchangeFlow = d.ExchangeInflow.Sub(d.ExchangeOutflow)
	d.MostActive = mostActive(perWallet, a.cfg.MostActive)
	d.TopEvents = topEvents(events, a.cfg.TopEvents)

	if degraded := a.ranks.DegradedWallets(chain); len(degraded) > 0 {
		d.StatusNotes = append(d.StatusNotes,
			fmt.Sprintf("%d wallet(s) degraded, results may be incomplete", len(degraded)))
	}

	return d, nil
}

// mostActive orders by tx count, then volume, then registry rank. The rank
// tie-break keeps repeated runs over identical data byte-identical.
func mostActive(perWallet map[string]*domain.WalletActivity, limit int) []domain.WalletActivity {
	out := make([]domain.WalletActivity, 0, len(perWallet))
	for _, wa := range perWallet {
		out = append(out, *wa)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TxCount != out[j].TxCount {
			return out[i].TxCount > out[j].TxCount
		}
		if !out[i].Volume.Equal(out[j].Volume) {
			return out[i].Volume.GreaterThan(out[j].Volume)
		}
		return out[i].WalletRank < out[j].WalletRank
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// topEvents orders tagged events by score, then USD value, then event id
func topEvents(events []domain.ClassifiedEvent, limit int) []domain.ClassifiedEvent {
	var tagged []domain.ClassifiedEvent
	for _, ev := range events {
		if len(ev.Tags) > 0 {
			tagged = append(tagged, ev)
		}
	}

	sort.SliceStable(tagged, func(i, j int) bool {
		if tagged[i].Score != tagged[j].Score {
			return tagged[i].Score > tagged[j].Score
		}
		if !tagged[i].USDValue.Equal(tagged[j].USDValue) {
			return tagged[i].USDValue.GreaterThan(tagged[j].USDValue)
		}
		return tagged[i].EventID < tagged[j].EventID
	})

	if limit > 0 && len(tagged) > limit {
		tagged = tagged[:limit]
	}
	return tagged
}
