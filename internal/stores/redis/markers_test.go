package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/domain"
	"whalewatch/internal/registry"
)

func setupClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	return &Client{
		Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
		prefix: "test:",
	}
}

func TestMarkerStore_RoundTrip(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m, err := store.GetMarker(ctx, domain.ChainBTC, "bc1qwhale")
	require.NoError(t, err)
	assert.True(t, m.Zero(), "unseen wallet must return the zero marker")

	want := registry.Marker{TxID: "tx_103", BlockHeight: 900_103, TxTime: checked.Add(-time.Minute), CheckedAt: checked}
	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale", want))

	m, err = store.GetMarker(ctx, domain.ChainBTC, "bc1qwhale")
	require.NoError(t, err)
	assert.Equal(t, "tx_103", m.TxID)
	assert.Equal(t, int64(900_103), m.BlockHeight)
	assert.Equal(t, checked.Add(-time.Minute), m.TxTime)
	assert.Equal(t, checked, m.CheckedAt)
}

// A write with a lower block height must not rewind the stored baseline
func TestMarkerStore_RejectsRewind(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_103", BlockHeight: 900_103}))

	// stale write from a slow goroutine
	err = store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_100", BlockHeight: 900_100})
	assert.ErrorIs(t, err, registry.ErrStaleMarker)

	m, err := store.GetMarker(ctx, domain.ChainBTC, "bc1qwhale")
	require.NoError(t, err)
	assert.Equal(t, "tx_103", m.TxID, "marker must stay at the newer baseline")
	assert.Equal(t, int64(900_103), m.BlockHeight)
}

// Two transactions in the same block cannot be ordered by height alone, so a
// same-height write for a different tx must still advance the baseline.
func TestMarkerStore_AdvancesWithinOneBlock(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_a", BlockHeight: 900_100}))
	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_b", BlockHeight: 900_100}))

	m, err := store.GetMarker(ctx, domain.ChainBTC, "bc1qwhale")
	require.NoError(t, err)
	assert.Equal(t, "tx_b", m.TxID)
}

// Unconfirmed transactions all report height -1; the tx time must order them
func TestMarkerStore_AdvancesUnconfirmedByTxTime(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()
	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_mempool_a", BlockHeight: -1, TxTime: noon}))
	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_mempool_b", BlockHeight: -1, TxTime: noon.Add(5 * time.Minute)}))

	m, err := store.GetMarker(ctx, domain.ChainBTC, "bc1qwhale")
	require.NoError(t, err)
	assert.Equal(t, "tx_mempool_b", m.TxID)
	assert.Equal(t, noon.Add(5*time.Minute), m.TxTime)
}

// The tx time dominates the height: a write carrying an older tx time loses
// even if its block height is larger
func TestMarkerStore_RejectsOlderTxTime(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()
	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_new", BlockHeight: -1, TxTime: noon.Add(10 * time.Minute)}))

	err = store.SetMarker(ctx, domain.ChainBTC, "bc1qwhale",
		registry.Marker{TxID: "tx_old", BlockHeight: 900_200, TxTime: noon})
	assert.ErrorIs(t, err, registry.ErrStaleMarker)

	m, err := store.GetMarker(ctx, domain.ChainBTC, "bc1qwhale")
	require.NoError(t, err)
	assert.Equal(t, "tx_new", m.TxID)
}

func TestMarkerStore_AdvancesForward(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.SetMarker(ctx, domain.ChainLTC, "ltc1qbig",
		registry.Marker{TxID: "tx_a", BlockHeight: 100}))
	require.NoError(t, store.SetMarker(ctx, domain.ChainLTC, "ltc1qbig",
		registry.Marker{TxID: "tx_b", BlockHeight: 200}))

	m, err := store.GetMarker(ctx, domain.ChainLTC, "ltc1qbig")
	require.NoError(t, err)
	assert.Equal(t, "tx_b", m.TxID)
}

func TestMarkerStore_PerWalletIsolation(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.SetMarker(ctx, domain.ChainBTC, "addr_a",
		registry.Marker{TxID: "tx_1", BlockHeight: 1}))
	require.NoError(t, store.SetMarker(ctx, domain.ChainDOGE, "addr_a",
		registry.Marker{TxID: "tx_2", BlockHeight: 2}))

	m, err := store.GetMarker(ctx, domain.ChainBTC, "addr_a")
	require.NoError(t, err)
	assert.Equal(t, "tx_1", m.TxID)

	m, err = store.GetMarker(ctx, domain.ChainDOGE, "addr_a")
	require.NoError(t, err)
	assert.Equal(t, "tx_2", m.TxID)
}

func TestMarkerStore_RejectsEmptyTxID(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewMarkerStore(rdb)
	require.NoError(t, err)

	err = store.SetMarker(context.Background(), domain.ChainBTC, "bc1qwhale", registry.Marker{})
	assert.Error(t, err)
}

func TestHighWaterStore_RoundTrip(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewHighWaterStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()

	day, err := store.Get(ctx, domain.ChainBTC)
	require.NoError(t, err)
	assert.True(t, day.IsZero(), "never-run chain must return zero time")

	want := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, domain.ChainBTC, want))

	day, err = store.Get(ctx, domain.ChainBTC)
	require.NoError(t, err)
	assert.Equal(t, want, day)
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	rdb := setupClient(t)
	defer rdb.Close()

	store, err := NewSnapshotStore(rdb)
	require.NoError(t, err)

	ctx := context.Background()

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data, "cold start must return nil data")

	require.NoError(t, store.Save(ctx, []byte("gob-bytes")))

	data, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("gob-bytes"), data)
}
