package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// SnapshotStore persists the gob-encoded activity-tracker state so a restart
// warm-starts the baselines instead of rebuilding them over days.
type SnapshotStore struct {
	rdb *Client
}

func NewSnapshotStore(rdb *Client) (*SnapshotStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the snapshot store")
	}
	return &SnapshotStore{rdb: rdb}, nil
}

func (s *SnapshotStore) key() string {
	return s.rdb.Key("tracker:snapshot")
}

// Load returns nil data when no snapshot exists (cold start)
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key()).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker snapshot, error=%w", err)
	}
	return data, nil
}

func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := s.rdb.Set(ctx, s.key(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save tracker snapshot, error=%w", err)
	}
	return nil
}
