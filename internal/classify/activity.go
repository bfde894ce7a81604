package classify

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
)

/*
	Rolling per-wallet activity baseline on top of hour buckets.
	Feeds the UNUSUAL_ACTIVITY and ACCUMULATION/DISTRIBUTION rules without
	rescanning history: every observed transaction lands in a ring slot and
	the trailing windows are maintained incrementally.
*/

// one hour of observed activity for a wallet
type hourBucket struct {
	TxCount int64
	Inflow  decimal.Decimal
	Outflow decimal.Decimal
}

func (b *hourBucket) empty() bool {
	return b.TxCount == 0 && b.Inflow.IsZero() && b.Outflow.IsZero()
}

type walletActivity struct {
	Chain   domain.Chain
	Address string

	Slots     []hourBucket
	FirstSeen time.Time // bounds the observed-history length for the average
	LastSeen  time.Time

	// all-time running totals; TotalIn - TotalOut is the balance proxy
	TotalIn  decimal.Decimal
	TotalOut decimal.Decimal

	// trailing aggregates, recomputed from the ring on tick
	recentCount int64           // unusual window (24h)
	trendIn     decimal.Decimal // trend window (7d)
	trendOut    decimal.Decimal
}

// ActivityView is what the rules read for one wallet at classification time
type ActivityView struct {
	RecentCount  int64           // tx count inside the unusual window
	ExpectedRate float64         // expected tx count for the unusual window, from the baseline average
	DaysObserved float64         // how much history backs the average
	TrendIn      decimal.Decimal // inflow inside the trend window
	TrendOut     decimal.Decimal // outflow inside the trend window
	BalanceProxy decimal.Decimal // observed all-time inflow - outflow
}

// Tracker keeps the rolling baseline for every monitored wallet. All methods
// are safe for concurrent use; the scheduler classifies wallets in parallel.
type Tracker struct {
	cfg config.ClassifyConfig

	hoursRing  int // ring length = baseline days * 24
	unusualHrs int
	trendHrs   int

	mu      sync.RWMutex
	wallets map[string]*walletActivity
}

func NewTracker(cfg config.ClassifyConfig) *Tracker {
	return &Tracker{
		cfg:        cfg,
		hoursRing:  cfg.BaselineDays * 24,
		unusualHrs: int(cfg.UnusualWindow / time.Hour),
		trendHrs:   int(cfg.TrendWindow / time.Hour),
		wallets:    make(map[string]*walletActivity, 512),
	}
}

// Record adds one observed transaction to the wallet's baseline. Called for
// every new event, before the unusual/trend rules read the view, so the
// current transaction counts toward its own window.
func (t *Tracker) Record(chain domain.Chain, address string, dir domain.Direction, amount decimal.Decimal, at time.Time) {
	at = at.UTC()
	key := string(chain) + ":" + address

	t.mu.Lock()
	defer t.mu.Unlock()

	wa, ok := t.wallets[key]
	if !ok {
		wa = &walletActivity{
			Chain:     chain,
			Address:   address,
			Slots:     make([]hourBucket, t.hoursRing),
			FirstSeen: at,
			TotalIn:   decimal.Zero,
			TotalOut:  decimal.Zero,
		}
		t.wallets[key] = wa
	}

	slot := &wa.Slots[t.hourIndex(at)]
	slot.TxCount++
	if dir == domain.DirectionIn {
		slot.Inflow = slot.Inflow.Add(amount)
		wa.TotalIn = wa.TotalIn.Add(amount)
	} else {
		slot.Outflow = slot.Outflow.Add(amount)
		wa.TotalOut = wa.TotalOut.Add(amount)
	}
	if at.After(wa.LastSeen) {
		wa.LastSeen = at
	}

	t.recompute(wa, at)
}

// View returns the trailing-window aggregates for a wallet. A wallet with no
// recorded history returns the zero view, which no rule fires on.
func (t *Tracker) View(chain domain.Chain, address string, now time.Time) ActivityView {
	now = now.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	wa, ok := t.wallets[string(chain)+":"+address]
	if !ok {
		return ActivityView{TrendIn: decimal.Zero, TrendOut: decimal.Zero, BalanceProxy: decimal.Zero}
	}

	t.recompute(wa, now)

	days := now.Sub(wa.FirstSeen).Hours() / 24
	maxDays := float64(t.cfg.BaselineDays)
	if days > maxDays {
		days = maxDays
	}

	var expected float64
	if days > 0 {
		var total int64
		for i := range wa.Slots {
			total += wa.Slots[i].TxCount
		}
		avgDaily := float64(total) / days
		expected = avgDaily * t.cfg.UnusualWindow.Hours() / 24
	}

	return ActivityView{
		RecentCount:  wa.recentCount,
		ExpectedRate: expected,
		DaysObserved: days,
		TrendIn:      wa.trendIn,
		TrendOut:     wa.trendOut,
		BalanceProxy: wa.TotalIn.Sub(wa.TotalOut),
	}
}

// Tick clears the slot that just became current and refreshes every wallet's
// trailing aggregates. Driven hourly by the scheduler loop.
func (t *Tracker) Tick(now time.Time) {
	now = now.UTC()
	idx := t.hourIndex(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, wa := range t.wallets {
		// the current index wrapped onto a slot from baselineDays ago
		wa.Slots[idx] = hourBucket{}
		t.recompute(wa, now)
	}
}

// recompute rebuilds the trailing aggregates from the ring. O(ring) per
// wallet, bounded by baselineDays*24 slots.
func (t *Tracker) recompute(wa *walletActivity, now time.Time) {
	nowIdx := t.hourIndex(now)

	wa.recentCount = 0
	wa.trendIn = decimal.Zero
	wa.trendOut = decimal.Zero

	for i := range wa.Slots {
		b := &wa.Slots[i]
		if b.empty() {
			continue
		}

		dist := (nowIdx - i + t.hoursRing) % t.hoursRing
		if dist < t.unusualHrs {
			wa.recentCount += b.TxCount
		}
		if dist < t.trendHrs {
			wa.trendIn = wa.trendIn.Add(b.Inflow)
			wa.trendOut = wa.trendOut.Add(b.Outflow)
		}
	}
}

// absolute hour modulo ring length, so the ring spans the full baseline
// horizon rather than a single day
func (t *Tracker) hourIndex(at time.Time) int {
	return int(at.Unix()/3600) % t.hoursRing
}
