package retention

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	"whalewatch/internal/stores/clickhouse"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

type fakeStore struct {
	oldest    time.Time
	folds     map[string]clickhouse.DayFold // "2006-01-02" -> fold
	summaries map[string]domain.MonthlySummary

	foldedDays  []string
	deletedUpTo time.Time
}

func newFakeStore(oldest time.Time) *fakeStore {
	return &fakeStore{
		oldest:    oldest,
		folds:     make(map[string]clickhouse.DayFold),
		summaries: make(map[string]domain.MonthlySummary),
	}
}

func (f *fakeStore) OldestEventDay(_ context.Context, _ domain.Chain) (time.Time, bool, error) {
	if f.oldest.IsZero() {
		return time.Time{}, false, nil
	}
	return f.oldest, true, nil
}

func (f *fakeStore) FoldDay(_ context.Context, _ domain.Chain, day time.Time) (clickhouse.DayFold, error) {
	key := day.Format("2006-01-02")
	f.foldedDays = append(f.foldedDays, key)
	return f.folds[key], nil
}

func (f *fakeStore) GetMonthlySummary(_ context.Context, chain domain.Chain, ym string) (domain.MonthlySummary, bool, error) {
	s, ok := f.summaries[string(chain)+":"+ym]
	return s, ok, nil
}

func (f *fakeStore) UpsertMonthlySummary(_ context.Context, sum domain.MonthlySummary) error {
	f.summaries[string(sum.Chain)+":"+sum.YearMonth] = sum
	return nil
}

func (f *fakeStore) DeleteBefore(_ context.Context, _ domain.Chain, cutoff time.Time) error {
	f.deletedUpTo = cutoff
	return nil
}

type fakeHighWater struct {
	marks map[domain.Chain]time.Time
}

func (f *fakeHighWater) Get(_ context.Context, chain domain.Chain) (time.Time, error) {
	return f.marks[chain], nil
}

func (f *fakeHighWater) Set(_ context.Context, chain domain.Chain, day time.Time) error {
	f.marks[chain] = day
	return nil
}

func retentionConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Chains.BTC = config.ChainConfig{Enabled: true}
	cfg.Retention.KeepDays = 30
	return cfg
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func fold(txs int64, vol int64) clickhouse.DayFold {
	return clickhouse.DayFold{
		TxCount:     txs,
		Volume:      decimal.NewFromInt(vol),
		VolumeUSD:   decimal.NewFromInt(vol * 65_000),
		TaggedCount: txs / 2,
	}
}

func TestRun_FoldsAndPrunes(t *testing.T) {
	t.Parallel()

	now := day("2026-03-15")
	// three days sit beyond the 30-day keep window (Feb 11/12/13 vs cutoff Feb 13)
	store := newFakeStore(day("2026-02-11"))
	store.folds["2026-02-11"] = fold(4, 100)
	store.folds["2026-02-12"] = fold(2, 50)

	hwm := &fakeHighWater{marks: make(map[domain.Chain]time.Time)}

	r, err := NewRunner(newTestLogger(), retentionConfig(), store, hwm)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), now))

	assert.Equal(t, []string{"2026-02-11", "2026-02-12"}, store.foldedDays)
	assert.Equal(t, day("2026-02-13"), store.deletedUpTo)
	assert.Equal(t, day("2026-02-12"), hwm.marks[domain.ChainBTC])

	sum := store.summaries["BTC:2026-02"]
	assert.Equal(t, int64(6), sum.TxCount)
	assert.True(t, sum.Volume.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(3), sum.TaggedCount)
}

// A second run over the same data must not fold any day twice
func TestRun_IdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	now := day("2026-03-15")
	store := newFakeStore(day("2026-02-11"))
	store.folds["2026-02-11"] = fold(4, 100)
	store.folds["2026-02-12"] = fold(2, 50)

	hwm := &fakeHighWater{marks: make(map[domain.Chain]time.Time)}

	r, err := NewRunner(newTestLogger(), retentionConfig(), store, hwm)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background(), now))
	firstFolds := len(store.foldedDays)

	require.NoError(t, r.Run(context.Background(), now))

	assert.Equal(t, firstFolds, len(store.foldedDays), "no day may be folded twice")
	sum := store.summaries["BTC:2026-02"]
	assert.Equal(t, int64(6), sum.TxCount, "summary must not double-count")
}

// A run interrupted after some days resumes from the high-water mark
func TestRun_ResumesFromHighWater(t *testing.T) {
	t.Parallel()

	now := day("2026-03-15")
	store := newFakeStore(day("2026-02-11"))
	store.folds["2026-02-12"] = fold(2, 50)

	hwm := &fakeHighWater{marks: map[domain.Chain]time.Time{
		domain.ChainBTC: day("2026-02-11"), // 02-11 already folded before the crash
	}}

	r, err := NewRunner(newTestLogger(), retentionConfig(), store, hwm)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), now))

	assert.Equal(t, []string{"2026-02-12"}, store.foldedDays)
}

func TestRun_NothingOldEnough(t *testing.T) {
	t.Parallel()

	now := day("2026-03-15")
	store := newFakeStore(day("2026-03-10")) // inside the keep window
	hwm := &fakeHighWater{marks: make(map[domain.Chain]time.Time)}

	r, err := NewRunner(newTestLogger(), retentionConfig(), store, hwm)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), now))

	assert.Empty(t, store.foldedDays)
	assert.True(t, store.deletedUpTo.IsZero(), "no prune when nothing was folded")
}

func TestRun_EmptyChain(t *testing.T) {
	t.Parallel()

	store := newFakeStore(time.Time{})
	hwm := &fakeHighWater{marks: make(map[domain.Chain]time.Time)}

	r, err := NewRunner(newTestLogger(), retentionConfig(), store, hwm)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), day("2026-03-15")))

	assert.Empty(t, store.foldedDays)
}

// Days straddling a month boundary land in separate summaries
func TestRun_MonthBoundary(t *testing.T) {
	t.Parallel()

	now := day("2026-03-15")
	store := newFakeStore(day("2026-01-31"))
	store.folds["2026-01-31"] = fold(1, 10)
	store.folds["2026-02-01"] = fold(1, 20)

	hwm := &fakeHighWater{marks: make(map[domain.Chain]time.Time)}

	r, err := NewRunner(newTestLogger(), retentionConfig(), store, hwm)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), now))

	assert.Equal(t, int64(1), store.summaries["BTC:2026-01"].TxCount)
	assert.Equal(t, int64(1), store.summaries["BTC:2026-02"].TxCount)
}
