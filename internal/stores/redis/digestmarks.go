package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"whalewatch/internal/domain"
)

// DigestMarkStore remembers, per chain, where the last dispatched digest
// window ended. The next digest starts exactly there, so windows never
// overlap and never leave gaps across restarts.
type DigestMarkStore struct {
	rdb *Client
}

func NewDigestMarkStore(rdb *Client) (*DigestMarkStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the digest mark store")
	}
	return &DigestMarkStore{rdb: rdb}, nil
}

func (s *DigestMarkStore) key(chain domain.Chain) string {
	return s.rdb.Key("digest:last_end:" + string(chain))
}

// Get returns the end of the last dispatched window, zero when none yet
func (s *DigestMarkStore) Get(ctx context.Context, chain domain.Chain) (time.Time, error) {
	v, err := s.rdb.Get(ctx, s.key(chain)).Result()
	if err == goredis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read digest mark for %s, error=%w", chain, err)
	}

	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt digest mark %q for %s, error=%w", v, chain, err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

func (s *DigestMarkStore) Set(ctx context.Context, chain domain.Chain, end time.Time) error {
	if err := s.rdb.Set(ctx, s.key(chain), end.UTC().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("failed to write digest mark for %s, error=%w", chain, err)
	}
	return nil
}
