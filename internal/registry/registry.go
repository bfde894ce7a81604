package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
)

// ErrStaleMarker is reported by marker stores when a write loses to a newer
// stored baseline. The stored marker already covers the write, so callers
// treat it as a no-op rather than a failure.
var ErrStaleMarker = errors.New("stale marker write rejected")

// MarkerStore persists per-wallet baselines. SetMarker must only ever advance
// (provider-reported tx time, block height as the tie-break) and returns
// ErrStaleMarker when the stored baseline is newer.
type MarkerStore interface {
	GetMarker(ctx context.Context, chain domain.Chain, address string) (Marker, error)
	SetMarker(ctx context.Context, chain domain.Chain, address string, m Marker) error
}

// Marker is the baseline for one wallet: the newest transaction already seen.
// TxTime is the provider-reported transaction time, the primary order key:
// block height cannot separate two txs in the same block, and unconfirmed txs
// all report height -1.
type Marker struct {
	TxID        string
	BlockHeight int64
	TxTime      time.Time
	CheckedAt   time.Time
}

func (m Marker) Zero() bool { return m.TxID == "" }

// WalletState is one monitored wallet plus its scheduler-facing health state.
// Mutated only through Registry methods; the diff state (marker) is owned by
// the single cycle goroutine that fetched the wallet.
type WalletState struct {
	domain.Wallet

	Degraded            bool
	ConsecutiveFailures int
}

// Registry owns the monitored address set. It is an explicitly constructed,
// passed-by-reference object with a Load/Reload lifecycle, nothing global.
type Registry struct {
	log     logger.Logger
	cfg     *config.Config
	markers MarkerStore

	mu        sync.RWMutex
	wallets   []*WalletState
	byKey     map[string]*WalletState // "chain:address"
	exchanges domain.ExchangeTable
	loadedAt  time.Time
}

func New(log logger.Logger, cfg *config.Config, markers MarkerStore) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is required for the registry")
	}
	if markers == nil {
		return nil, errors.New("marker store is required for the registry")
	}
	return &Registry{
		log:     log,
		cfg:     cfg,
		markers: markers,
		byKey:   make(map[string]*WalletState),
	}, nil
}

// Load parses the wallet list files and the exchange table, then hydrates each
// wallet's marker from the store. Safe to call again to reload between runs.
func (r *Registry) Load(ctx context.Context) error {
	var wallets []*WalletState

	for _, name := range r.cfg.ChainsEnabled() {
		chain := domain.Chain(name)
		cc, _ := r.cfg.ForChain(name)

		parsed, err := ParseWalletFile(r.cfg.App.DataDir, cc.WalletsFile, chain)
		if err != nil {
			return fmt.Errorf("load %s wallets: %w", chain, err)
		}
		if len(parsed) == 0 {
			return fmt.Errorf("wallet list %s is empty for %s", cc.WalletsFile, chain)
		}
		r.log.Infof("Parsed %d %s whale wallets from %s", len(parsed), chain, cc.WalletsFile)

		for _, w := range parsed {
			ws := &WalletState{Wallet: w}

			m, err := r.markers.GetMarker(ctx, w.Chain, w.Address)
			if err != nil {
				return fmt.Errorf("hydrate marker for %s %s: %w", w.Chain, w.Address, err)
			}
			ws.Marker = m.TxID
			ws.LastCheckedAt = m.CheckedAt

			wallets = append(wallets, ws)
		}
	}

	// stable order: chain enumeration order, then rank
	sort.SliceStable(wallets, func(i, j int) bool {
		if wallets[i].Chain != wallets[j].Chain {
			return chainIndex(wallets[i].Chain) < chainIndex(wallets[j].Chain)
		}
		return wallets[i].Rank < wallets[j].Rank
	})

	exchanges, err := LoadExchangeTable(r.cfg.App.DataDir)
	if err != nil {
		return fmt.Errorf("load exchange table: %w", err)
	}
	for _, chain := range domain.AllChains {
		r.log.Infof("Exchange table: %d %s addresses", len(exchanges[chain]), chain)
	}

	byKey := make(map[string]*WalletState, len(wallets))
	for _, ws := range wallets {
		byKey[walletKey(ws.Chain, ws.Address)] = ws
	}

	r.mu.Lock()
	r.wallets = wallets
	r.byKey = byKey
	r.exchanges = exchanges
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()

	r.log.Infof("Registry loaded: %d wallets to monitor", len(wallets))
	return nil
}

func (r *Registry) Reload(ctx context.Context) error { return r.Load(ctx) }

// Wallets returns the monitored set in registry order. The slice is shared;
// callers must not reorder it.
func (r *Registry) Wallets() []*WalletState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wallets
}

func (r *Registry) WalletsFor(chain domain.Chain) []*WalletState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*WalletState
	for _, ws := range r.wallets {
		if ws.Chain == chain {
			out = append(out, ws)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

// Rank returns the registry index for a wallet address, used as the
// deterministic tie-break in digest aggregation. Unknown addresses sort last.
func (r *Registry) Rank(chain domain.Chain, address string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ws, ok := r.byKey[walletKey(chain, address)]; ok {
		return ws.Rank
	}
	return int(^uint(0) >> 1)
}

func (r *Registry) ExchangeTable() domain.ExchangeTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchanges
}

// MarkerFor reads the full persisted marker for a wallet. The in-memory copy
// only mirrors the tx id; the diff engine needs the block height too.
func (r *Registry) MarkerFor(ctx context.Context, ws *WalletState) (Marker, error) {
	return r.markers.GetMarker(ctx, ws.Chain, ws.Address)
}

// AdvanceMarker persists the new baseline and mirrors it in memory. The store
// guard keeps the marker monotonic even if a stale write slips through; a
// rejected write leaves memory untouched so it keeps matching the store.
func (r *Registry) AdvanceMarker(ctx context.Context, ws *WalletState, m Marker) error {
	if err := r.markers.SetMarker(ctx, ws.Chain, ws.Address, m); err != nil {
		if errors.Is(err, ErrStaleMarker) {
			r.log.Warnf("Marker write for %s %s lost to a newer stored baseline: %v", ws.Chain, ws.Address, err)
			return nil
		}
		return err
	}

	r.mu.Lock()
	ws.Marker = m.TxID
	r.mu.Unlock()
	return nil
}

// TouchChecked advances last_checked_at regardless of fetch outcome so cycle
// timing stays stable.
func (r *Registry) TouchChecked(ws *WalletState, t time.Time) {
	r.mu.Lock()
	ws.LastCheckedAt = t
	r.mu.Unlock()
}

// RecordFailure increments the consecutive-failure count and reports whether
// the wallet just crossed the degraded threshold.
func (r *Registry) RecordFailure(ws *WalletState, degradedAfter int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws.ConsecutiveFailures++
	if !ws.Degraded && ws.ConsecutiveFailures >= degradedAfter {
		ws.Degraded = true
		return true
	}
	return false
}

func (r *Registry) RecordSuccess(ws *WalletState) {
	r.mu.Lock()
	ws.ConsecutiveFailures = 0
	ws.Degraded = false
	r.mu.Unlock()
}

// DegradedWallets lists degraded addresses for a chain, for digest status notes
func (r *Registry) DegradedWallets(chain domain.Chain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, ws := range r.wallets {
		if ws.Chain == chain && ws.Degraded {
			out = append(out, ws.Address)
		}
	}
	return out
}

func walletKey(chain domain.Chain, address string) string {
	return string(chain) + ":" + address
}

func chainIndex(c domain.Chain) int {
	for i, ch := range domain.AllChains {
		if ch == c {
			return i
		}
	}
	return len(domain.AllChains)
}
