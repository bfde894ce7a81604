package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/config"
	rdb "whalewatch/internal/stores/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *rdb.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := &rdb.Client{
		Client: goredis.NewClient(&goredis.Options{
			Addr: mr.Addr(),
		}),
	}

	return mr, client
}

func dedupeConfig(prefix string, ttl time.Duration) *config.DedupeConfig {
	return &config.DedupeConfig{
		Prefix: prefix,
		TTL:    ttl,
	}
}

func TestNewRedisDeduper_Validation(t *testing.T) {
	_, rdb := setupTestRedis(t)
	defer rdb.Close()

	log := newTestLogger()

	d, err := NewRedisDeduper(log, nil, rdb, nil)
	assert.Error(t, err)
	assert.Nil(t, d)

	d, err = NewRedisDeduper(log, dedupeConfig("x:", time.Hour), nil, nil)
	assert.Error(t, err)
	assert.Nil(t, d)

	d, err = NewRedisDeduper(log, dedupeConfig("", time.Hour), rdb, nil)
	require.NoError(t, err)
	assert.Equal(t, "whale:seen:", d.prefix)
}

func TestRedisDedupe_FirstSeenThenDuplicate(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	d, err := NewRedisDeduper(newTestLogger(), dedupeConfig("test:seen:", time.Hour), rdb, nil)
	require.NoError(t, err)

	ctx := context.Background()
	const id = "BTC:tx_a1b2c3:bc1qwhale"

	seen, err := d.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen, "first Seen must be false")

	seen, err = d.Seen(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen, "second Seen must be true")

	// key carries the configured TTL
	ttl, err := rdb.TTL(ctx, "test:seen:"+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

// Same transaction touching two tracked wallets is two distinct events
func TestRedisDedupe_PerWalletIdentity(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	d, err := NewRedisDeduper(newTestLogger(), dedupeConfig("test:seen:", time.Hour), rdb, nil)
	require.NoError(t, err)

	ctx := context.Background()

	seen, err := d.Seen(ctx, "BTC:tx_shared:bc1qwhale_a")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "BTC:tx_shared:bc1qwhale_b")
	require.NoError(t, err)
	assert.False(t, seen, "same tx against another wallet is a separate event")

	seen, err = d.Seen(ctx, "BTC:tx_shared:bc1qwhale_a")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisDedupe_PrefixIsolation(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	log := newTestLogger()

	d1, err := NewRedisDeduper(log, dedupeConfig("seen:one:", time.Hour), rdb, nil)
	require.NoError(t, err)
	d2, err := NewRedisDeduper(log, dedupeConfig("seen:two:", time.Hour), rdb, nil)
	require.NoError(t, err)

	ctx := context.Background()
	const id = "DOGE:tx_x:dwallet"

	seen, err := d1.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d2.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen, "different prefixes must not share state")
}

func TestRedisDedupe_RedisFailure(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer rdb.Close()

	d, err := NewRedisDeduper(newTestLogger(), dedupeConfig("test:seen:", time.Hour), rdb, nil)
	require.NoError(t, err)

	mr.Close()

	seen, err := d.Seen(context.Background(), "BTC:tx_down:bc1qwhale")
	assert.Error(t, err)
	assert.False(t, seen)
}

func TestRedisDedupe_ContextCancellation(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	d, err := NewRedisDeduper(newTestLogger(), dedupeConfig("test:seen:", time.Hour), rdb, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seen, err := d.Seen(ctx, "BTC:tx_cancelled:bc1qwhale")
	assert.Error(t, err)
	assert.False(t, seen)
}

// miniredis has no RedisBloom module, so the prefilter errors and Seen must
// fall through to SETNX instead of failing the call
func TestRedisDedupe_BloomUnavailableFallsThrough(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	bloom, err := NewBloom(&config.BloomConfig{Key: "test:bf", Capacity: 1000, ErrRate: 0.01}, rdb)
	require.NoError(t, err)

	d, err := NewRedisDeduper(newTestLogger(), dedupeConfig("test:seen:", time.Hour), rdb, bloom)
	require.NoError(t, err)

	ctx := context.Background()

	seen, err := d.Seen(ctx, "BTC:tx_bf:bc1qwhale")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "BTC:tx_bf:bc1qwhale")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestBloom_EnsureIdempotentWhenFilterExists(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	bloom, err := NewBloom(&config.BloomConfig{Key: "test:bf:exists"}, rdb)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rdb.Set(ctx, bloom.Key, "exists", 0).Err())

	assert.NoError(t, bloom.Ensure(ctx))
}

func TestBloom_Defaults(t *testing.T) {
	_, rdb := setupTestRedis(t)
	defer rdb.Close()

	bloom, err := NewBloom(&config.BloomConfig{}, rdb)
	require.NoError(t, err)

	assert.Equal(t, "whale:bf:events", bloom.Key)
	assert.Equal(t, int64(1_000_000), bloom.Capacity)
	assert.Equal(t, 0.001, bloom.ErrRate)
}
