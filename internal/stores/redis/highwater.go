package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"whalewatch/internal/domain"
)

// HighWaterStore records, per chain, the last day already folded into the
// monthly summaries. Retention re-runs compare against it and skip days that
// were folded before, which keeps the fold idempotent across crashes.
type HighWaterStore struct {
	rdb *Client
}

func NewHighWaterStore(rdb *Client) (*HighWaterStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the high-water store")
	}
	return &HighWaterStore{rdb: rdb}, nil
}

func (s *HighWaterStore) key(chain domain.Chain) string {
	return s.rdb.Key("retention:hwm:" + string(chain))
}

// Get returns the day (UTC midnight) up to and including which events were
// folded. Zero time when retention has never run for the chain.
func (s *HighWaterStore) Get(ctx context.Context, chain domain.Chain) (time.Time, error) {
	v, err := s.rdb.Get(ctx, s.key(chain)).Result()
	if err == goredis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read retention high-water for %s, error=%w", chain, err)
	}

	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt retention high-water %q for %s, error=%w", v, chain, err)
	}
	return t.UTC(), nil
}

func (s *HighWaterStore) Set(ctx context.Context, chain domain.Chain, day time.Time) error {
	if err := s.rdb.Set(ctx, s.key(chain), day.UTC().Format("2006-01-02"), 0).Err(); err != nil {
		return fmt.Errorf("failed to write retention high-water for %s, error=%w", chain, err)
	}
	return nil
}
