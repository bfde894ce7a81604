package classify

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
)

func trackerConfig() config.ClassifyConfig {
	return config.ClassifyConfig{
		UnusualWindow:     24 * time.Hour,
		UnusualMultiplier: 3.0,
		BaselineDays:      30,
		TrendWindow:       7 * 24 * time.Hour,
		NetFlowFraction:   0.10,
	}
}

func TestTracker_WindowsSeparateRecentFromHistory(t *testing.T) {
	t.Parallel()

	tr := NewTracker(trackerConfig())
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	// outside both windows, still part of the all-time totals
	tr.Record(domain.ChainBTC, "addr", domain.DirectionIn, decimal.NewFromInt(100), now.Add(-10*24*time.Hour))
	// inside the trend window but outside the unusual window
	tr.Record(domain.ChainBTC, "addr", domain.DirectionIn, decimal.NewFromInt(40), now.Add(-3*24*time.Hour))
	// inside both windows
	tr.Record(domain.ChainBTC, "addr", domain.DirectionOut, decimal.NewFromInt(5), now.Add(-2*time.Hour))

	v := tr.View(domain.ChainBTC, "addr", now)
	assert.Equal(t, int64(1), v.RecentCount)
	assert.True(t, v.TrendIn.Equal(decimal.NewFromInt(40)), "trend in = %s", v.TrendIn)
	assert.True(t, v.TrendOut.Equal(decimal.NewFromInt(5)))
	assert.True(t, v.BalanceProxy.Equal(decimal.NewFromInt(135)))
	assert.InDelta(t, 10.0, v.DaysObserved, 0.01)
}

func TestTracker_UnknownWalletZeroView(t *testing.T) {
	t.Parallel()

	tr := NewTracker(trackerConfig())
	v := tr.View(domain.ChainBTC, "never-seen", time.Now())

	assert.Zero(t, v.RecentCount)
	assert.Zero(t, v.ExpectedRate)
	assert.True(t, v.BalanceProxy.IsZero())
}

// When the ring wraps onto an hour from baselineDays ago, Tick must clear it
// before new activity lands there
func TestTracker_TickEvictsWrappedSlot(t *testing.T) {
	t.Parallel()

	cfg := trackerConfig()
	tr := NewTracker(cfg)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr.Record(domain.ChainBTC, "addr", domain.DirectionIn, decimal.NewFromInt(7), base)
	require.Equal(t, int64(1), tr.View(domain.ChainBTC, "addr", base).RecentCount)

	wrapped := base.Add(time.Duration(cfg.BaselineDays*24) * time.Hour)
	tr.Tick(wrapped)

	v := tr.View(domain.ChainBTC, "addr", wrapped)
	assert.Zero(t, v.RecentCount)
	assert.True(t, v.TrendIn.IsZero())
	// all-time totals survive eviction
	assert.True(t, v.BalanceProxy.Equal(decimal.NewFromInt(7)))
}

func TestTracker_SnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := trackerConfig()
	src := NewTracker(cfg)
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	src.Record(domain.ChainBTC, "addr_a", domain.DirectionIn, decimal.NewFromInt(10), now.Add(-time.Hour))
	src.Record(domain.ChainBTC, "addr_a", domain.DirectionOut, decimal.NewFromInt(3), now.Add(-30*time.Minute))
	src.Record(domain.ChainLTC, "addr_b", domain.DirectionIn, decimal.NewFromInt(500), now.Add(-5*24*time.Hour))

	data, err := src.Snapshot()
	require.NoError(t, err)

	dst := NewTracker(cfg)
	require.NoError(t, dst.Restore(data, now))

	for _, tc := range []struct {
		chain domain.Chain
		addr  string
	}{
		{domain.ChainBTC, "addr_a"},
		{domain.ChainLTC, "addr_b"},
	} {
		want := src.View(tc.chain, tc.addr, now)
		got := dst.View(tc.chain, tc.addr, now)
		assert.Equal(t, want.RecentCount, got.RecentCount, tc.addr)
		assert.True(t, want.TrendIn.Equal(got.TrendIn), tc.addr)
		assert.True(t, want.TrendOut.Equal(got.TrendOut), tc.addr)
		assert.True(t, want.BalanceProxy.Equal(got.BalanceProxy), tc.addr)
	}
}

func TestTracker_RestoreRejectsGarbage(t *testing.T) {
	t.Parallel()

	tr := NewTracker(trackerConfig())
	assert.Error(t, tr.Restore(nil, time.Now()))
	assert.Error(t, tr.Restore([]byte("not a gob stream"), time.Now()))
}
