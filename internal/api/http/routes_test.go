package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/api/http/handlers"
	"whalewatch/internal/classify"
	"whalewatch/internal/config"
	"whalewatch/internal/dedupe"
	"whalewatch/internal/digest"
	"whalewatch/internal/domain"
	"whalewatch/internal/registry"
	"whalewatch/internal/scheduler"
	"whalewatch/internal/service"
	"whalewatch/internal/stores/clickhouse"
)

// NoopLogger is a logger that does nothing (for testing)
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string)                          {}
func (n *NoopLogger) Debugf(format string, args ...interface{}) {}
func (n *NoopLogger) Info(msg string)                           {}
func (n *NoopLogger) Infof(format string, args ...interface{})  {}
func (n *NoopLogger) Warn(msg string)                           {}
func (n *NoopLogger) Warnf(format string, args ...interface{})  {}
func (n *NoopLogger) Error(msg string)                          {}
func (n *NoopLogger) Errorf(format string, args ...interface{}) {}
func (n *NoopLogger) Fatal(msg string)                          {}
func (n *NoopLogger) Fatalf(format string, args ...interface{}) {}
func (n *NoopLogger) Panic(msg string)                          {}
func (n *NoopLogger) Panicf(format string, args ...interface{}) {}
func (n *NoopLogger) WithField(key string, value interface{}) logger.Logger {
	return n
}
func (n *NoopLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return n
}

type stubFetcher struct{}

func (stubFetcher) GetTransactions(ctx context.Context, chain domain.Chain, address string) ([]domain.RawTransaction, error) {
	return nil, nil
}

func (stubFetcher) GetPrice(ctx context.Context, chain domain.Chain) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type memMarkers struct {
	mu sync.Mutex
	m  map[string]registry.Marker
}

func (s *memMarkers) GetMarker(ctx context.Context, chain domain.Chain, address string) (registry.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[string(chain)+":"+address], nil
}

func (s *memMarkers) SetMarker(ctx context.Context, chain domain.Chain, address string, m registry.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[string(chain)+":"+address] = m
	return nil
}

type stubEvents struct {
	events []domain.ClassifiedEvent
	err    error
}

func (s *stubEvents) EventsInWindow(ctx context.Context, chain domain.Chain, start, end time.Time) ([]domain.ClassifiedEvent, error) {
	return s.events, s.err
}

type stubMarks struct{}

func (stubMarks) Get(ctx context.Context, chain domain.Chain) (time.Time, error) { return time.Time{}, nil }
func (stubMarks) Set(ctx context.Context, chain domain.Chain, end time.Time) error {
	return nil
}

type stubSink struct{}

func (stubSink) Enqueue(row clickhouse.EventRow) error { return nil }

type stubSched struct {
	stats scheduler.RunStats
}

func (s *stubSched) Backoff() float64          { return 1.5 }
func (s *stubSched) Stats() scheduler.RunStats { return s.stats }

func testRouter(t *testing.T, checks map[string]func(context.Context) error, sched handlers.SchedulerState) http.Handler {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.DataDir = t.TempDir()
	cfg.Monitor.FetchTimeout = time.Second
	cfg.Monitor.MaxLookback = 25
	cfg.Classify.UnusualWindow = 24 * time.Hour
	cfg.Classify.UnusualMultiplier = 3.0
	cfg.Classify.BaselineDays = 30
	cfg.Classify.TrendWindow = 7 * 24 * time.Hour
	cfg.Classify.NetFlowFraction = 0.10
	cfg.Chains.BTC.Enabled = true
	cfg.Chains.BTC.WalletsFile = "wallets_btc.txt"
	cfg.Chains.BTC.LargeTx = decimal.RequireFromString("50")
	cfg.Chains.BTC.LargeUSD = decimal.RequireFromString("1000000")
	cfg.Digest.TopEvents = 5
	cfg.Digest.MostActive = 5

	lines := "1. bc1qwhale0001 | 1,000 BTC | 0.5%\n2. bc1qwhale0002 | 900 BTC | 0.4%\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.App.DataDir, "wallets_btc.txt"), []byte(lines), 0o644))

	log := &NoopLogger{}

	reg, err := registry.New(log, cfg, &memMarkers{m: map[string]registry.Marker{}})
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background()))

	tracker := classify.NewTracker(cfg.Classify)
	classifier, err := classify.New(log, cfg, reg.ExchangeTable(), tracker)
	require.NoError(t, err)

	deduper := dedupe.NewInMemoryDedupe(log, time.Hour, time.Minute)
	t.Cleanup(deduper.Close)

	monitor, err := service.NewMonitorService(log, cfg, stubFetcher{}, reg, deduper, classifier, stubSink{}, nil, nil)
	require.NoError(t, err)

	agg, err := digest.NewAggregator(log, cfg.Digest, &stubEvents{}, reg)
	require.NoError(t, err)

	digests, err := service.NewDigestService(log, cfg, agg, stubMarks{}, nil, nil, nil)
	require.NoError(t, err)

	h, err := handlers.NewHandler(log, monitor, digests, reg, sched, checks)
	require.NoError(t, err)

	return BuildRouter(h, nil, nil, nil)
}

func TestHealthz(t *testing.T) {
	router := testRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness_HealthyAndUnhealthy(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		router := testRouter(t, map[string]func(context.Context) error{
			"redis": func(ctx context.Context) error { return nil },
		}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("dependency down", func(t *testing.T) {
		router := testRouter(t, map[string]func(context.Context) error{
			"clickhouse": func(ctx context.Context) error { return errors.New("connection refused") },
		}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "clickhouse")
	})
}

func TestStatus_ReportsWalletCounts(t *testing.T) {
	router := testRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			WalletsTotal int `json:"wallets_total"`
			Chains       map[string]struct {
				Wallets int `json:"wallets"`
			} `json:"chains"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.WalletsTotal)
	assert.Equal(t, 2, resp.Data.Chains["BTC"].Wallets)
}

func TestStatus_ReportsRunStats(t *testing.T) {
	sched := &stubSched{stats: scheduler.RunStats{
		Cycles:         12,
		WalletChecks:   900,
		NewEvents:      34,
		ProviderErrors: 2,
	}}
	router := testRouter(t, nil, sched)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			IntervalBackoff float64            `json:"interval_backoff"`
			RunStats        scheduler.RunStats `json:"run_stats"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 1.5, resp.Data.IntervalBackoff)
	assert.Equal(t, int64(12), resp.Data.RunStats.Cycles)
	assert.Equal(t, int64(900), resp.Data.RunStats.WalletChecks)
	assert.Equal(t, int64(34), resp.Data.RunStats.NewEvents)
	assert.Equal(t, int64(2), resp.Data.RunStats.ProviderErrors)
}

func TestDigestEndpoint(t *testing.T) {
	router := testRouter(t, nil, nil)

	t.Run("known chain returns a window", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/digest/btc", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data domain.DigestWindow `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.ChainBTC, resp.Data.Chain)
	})

	t.Run("unknown chain is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/digest/solana", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
