package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"whalewatch/internal/domain"
	"whalewatch/internal/registry"
)

// Guard script: a write loses when the stored marker is more recent, so a
// stale write from a slow goroutine can never rewind the baseline. Recency is
// the provider-reported tx time first, block height as the tie-break: height
// alone cannot order two txs in the same block, and unconfirmed txs all sit
// at height -1. Re-writing the same tx id refreshes checked_at.
var markerAdvance = goredis.NewScript(`
local curTx = redis.call('HGET', KEYS[1], 'txid')
if curTx and curTx ~= ARGV[1] then
  local curTime = tonumber(redis.call('HGET', KEYS[1], 'txtime') or 0)
  local curH    = tonumber(redis.call('HGET', KEYS[1], 'height') or 0)
  local newTime = tonumber(ARGV[3])
  local newH    = tonumber(ARGV[2])
  if curTime > newTime or (curTime == newTime and curH > newH) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'txid', ARGV[1], 'height', ARGV[2], 'txtime', ARGV[3], 'checked_at', ARGV[4])
return 1
`)

// MarkerStore keeps per-wallet baselines in Redis hashes, one key per wallet
type MarkerStore struct {
	rdb *Client
}

var _ registry.MarkerStore = (*MarkerStore)(nil)

func NewMarkerStore(rdb *Client) (*MarkerStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the marker store")
	}
	return &MarkerStore{rdb: rdb}, nil
}

func (s *MarkerStore) key(chain domain.Chain, address string) string {
	return s.rdb.Key("markers:" + string(chain) + ":" + address)
}

func (s *MarkerStore) GetMarker(ctx context.Context, chain domain.Chain, address string) (registry.Marker, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(chain, address)).Result()
	if err != nil {
		return registry.Marker{}, fmt.Errorf("failed to read marker for %s %s, error=%w", chain, address, err)
	}
	if len(vals) == 0 {
		return registry.Marker{}, nil
	}

	var m registry.Marker
	m.TxID = vals["txid"]
	if h, ok := vals["height"]; ok {
		m.BlockHeight, _ = strconv.ParseInt(h, 10, 64)
	}
	if ts, ok := vals["txtime"]; ok {
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil && unix > 0 {
			m.TxTime = time.Unix(unix, 0).UTC()
		}
	}
	if ts, ok := vals["checked_at"]; ok {
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil && unix > 0 {
			m.CheckedAt = time.Unix(unix, 0).UTC()
		}
	}
	return m, nil
}

func (s *MarkerStore) SetMarker(ctx context.Context, chain domain.Chain, address string, m registry.Marker) error {
	if m.TxID == "" {
		return fmt.Errorf("refusing to store empty marker for %s %s", chain, address)
	}

	checkedAt := m.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	var txTime int64
	if !m.TxTime.IsZero() {
		txTime = m.TxTime.Unix()
	}

	res, err := markerAdvance.Run(ctx, s.rdb,
		[]string{s.key(chain, address)},
		m.TxID, m.BlockHeight, txTime, checkedAt.Unix(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to advance marker for %s %s, error=%w", chain, address, err)
	}
	if res == 0 {
		return fmt.Errorf("marker %s for %s %s: %w", m.TxID, chain, address, registry.ErrStaleMarker)
	}
	return nil
}
