package redis

import (
	"context"
	"errors"
	"fmt"

	"whalewatch/internal/config"
	rdb "whalewatch/internal/stores/redis"
)

/*
	Optional RedisBloom prefilter in front of the SETNX dedupe key space.
	With hundreds of wallets re-fetched every cycle most transactions are
	already-seen; the filter answers "probably seen" without a SETNX write:
		- "definitely not seen" -> fall through to SETNX;
		- "probably seen" -> treat as duplicate (false-positive rate is
		  bounded by err_rate)
*/

type Bloom struct {
	rdb      *rdb.Client
	Key      string
	Capacity int64
	ErrRate  float64
}

func NewBloom(cfg *config.BloomConfig, rdb *rdb.Client) (*Bloom, error) {
	if cfg == nil {
		return nil, errors.New("bloom config is required to the bloom")
	}
	if rdb == nil {
		return nil, errors.New("redis client is required to the bloom")
	}

	key := cfg.Key
	if key == "" {
		key = "whale:bf:events"
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	errRate := cfg.ErrRate
	if errRate <= 0 {
		errRate = 0.001
	}

	return &Bloom{
		rdb:      rdb,
		Key:      key,
		Capacity: capacity,
		ErrRate:  errRate,
	}, nil
}

// Ensure creates the filter if it does not exist. Repeated calls are safe.
func (b *Bloom) Ensure(ctx context.Context) error {
	exists, err := b.rdb.Exists(ctx, b.Key).Result()
	if err != nil {
		return fmt.Errorf("failed to check if bloom filter exists, error=%w", err)
	}
	if exists > 0 {
		return nil
	}

	res := b.rdb.Do(ctx, "BF.RESERVE", b.Key, b.ErrRate, b.Capacity)
	if res.Err() != nil {
		// errors as "unknown command" when the RedisBloom module is not loaded
		return fmt.Errorf("BF.RESERVE failed: %w", res.Err())
	}

	return nil
}

// Add inserts an event id. Returns true when the id was definitely new.
func (b *Bloom) Add(ctx context.Context, item string) (bool, error) {
	res := b.rdb.Do(ctx, "BF.ADD", b.Key, item)
	if err := res.Err(); err != nil {
		return false, fmt.Errorf("failed to add item to bloom: %w", err)
	}

	v, err := res.Int()
	return v == 1, err
}

// Exists reports whether the id is "probably" in the filter
func (b *Bloom) Exists(ctx context.Context, item string) (bool, error) {
	res := b.rdb.Do(ctx, "BF.EXISTS", b.Key, item)
	if err := res.Err(); err != nil {
		return false, fmt.Errorf("failed to check if item exists in bloom: %w", err)
	}
	v, err := res.Int()
	return v == 1, err
}
