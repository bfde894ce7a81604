package classify

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"whalewatch/internal/domain"
)

// Serializable form of the tracker state, kept in Redis so a restart does not
// lose the activity baselines (a cold tracker would mute UNUSUAL_ACTIVITY for
// days while history rebuilds).
type trackerSnapshot struct {
	Version int
	TakenAt time.Time
	Ring    int
	Wallets map[string]snapshotWallet
}

type snapshotWallet struct {
	Chain     domain.Chain
	Address   string
	FirstSeen time.Time
	LastSeen  time.Time
	TotalIn   decimal.Decimal
	TotalOut  decimal.Decimal
	Slots     []snapshotSlot // non-empty slots only
}

type snapshotSlot struct {
	Hour    int
	TxCount int64
	Inflow  decimal.Decimal
	Outflow decimal.Decimal
}

// Snapshot serializes the whole tracker with gob
func (t *Tracker) Snapshot() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := trackerSnapshot{
		Version: 1,
		TakenAt: time.Now().UTC(),
		Ring:    t.hoursRing,
		Wallets: make(map[string]snapshotWallet, len(t.wallets)),
	}

	for key, wa := range t.wallets {
		sw := snapshotWallet{
			Chain:     wa.Chain,
			Address:   wa.Address,
			FirstSeen: wa.FirstSeen,
			LastSeen:  wa.LastSeen,
			TotalIn:   wa.TotalIn,
			TotalOut:  wa.TotalOut,
		}
		for i := range wa.Slots {
			if wa.Slots[i].empty() {
				continue
			}
			sw.Slots = append(sw.Slots, snapshotSlot{
				Hour:    i,
				TxCount: wa.Slots[i].TxCount,
				Inflow:  wa.Slots[i].Inflow,
				Outflow: wa.Slots[i].Outflow,
			})
		}
		snap.Wallets[key] = sw
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode tracker snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the tracker state from a snapshot. Slot indexes outside
// the current ring (config changed between runs) are dropped.
func (t *Tracker) Restore(data []byte, now time.Time) error {
	if len(data) == 0 {
		return errors.New("empty tracker snapshot")
	}

	var snap trackerSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decode tracker snapshot: %w", err)
	}
	if snap.Version != 1 {
		return fmt.Errorf("unsupported tracker snapshot version: %d", snap.Version)
	}

	wallets := make(map[string]*walletActivity, len(snap.Wallets))
	for key, sw := range snap.Wallets {
		wa := &walletActivity{
			Chain:     sw.Chain,
			Address:   sw.Address,
			Slots:     make([]hourBucket, t.hoursRing),
			FirstSeen: sw.FirstSeen,
			LastSeen:  sw.LastSeen,
			TotalIn:   sw.TotalIn,
			TotalOut:  sw.TotalOut,
		}
		for _, s := range sw.Slots {
			if s.Hour < 0 || s.Hour >= t.hoursRing {
				continue
			}
			wa.Slots[s.Hour] = hourBucket{TxCount: s.TxCount, Inflow: s.Inflow, Outflow: s.Outflow}
		}
		t.recompute(wa, now.UTC())
		wallets[key] = wa
	}

	t.mu.Lock()
	t.wallets = wallets
	t.mu.Unlock()

	return nil
}
