package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supported chain. Enumerated at compile time, no runtime string-keyed lookups
type Chain string

const (
	ChainBTC  Chain = "BTC"
	ChainDOGE Chain = "DOGE"
	ChainLTC  Chain = "LTC"
)

// AllChains in stable order; also the digest rendering order
var AllChains = []Chain{ChainBTC, ChainDOGE, ChainLTC}

func (c Chain) Valid() bool {
	switch c {
	case ChainBTC, ChainDOGE, ChainLTC:
		return true
	}
	return false
}

// Direction of a transaction relative to the monitored wallet
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Monitored whale wallet. Loaded by the registry from the top-holder list;
// Marker is mutated only by the diff engine after a successful fetch
type Wallet struct {
	Chain   Chain
	Address string
	Rank    int // position in the top-holder list, used as deterministic tie-break

	Marker        string    // tx id of the newest transaction already observed ("" = never checked)
	LastCheckedAt time.Time // advanced every cycle regardless of fetch outcome
}

// Raw provider-sourced transaction for one monitored wallet. Immutable once fetched
type RawTransaction struct {
	Chain          Chain           `json:"chain"`
	TxID           string          `json:"tx_id"`
	WalletAddress  string          `json:"wallet_address"`
	Direction      Direction       `json:"direction"`
	Counterparties []string        `json:"counterparties"`
	Amount         decimal.Decimal `json:"amount"` // native units, fixed-point
	BlockHeight    int64           `json:"block_height"`
	Confirmed      bool            `json:"confirmed"`
	Timestamp      time.Time       `json:"timestamp"` // provider-reported receive time
}

// Significance tag. An event carries a set of these, not a single enum
type Tag string

const (
	TagLargeTx         Tag = "LARGE_TX"
	TagExchangeInflow  Tag = "EXCHANGE_INFLOW"
	TagExchangeOutflow Tag = "EXCHANGE_OUTFLOW"
	TagUnusualActivity Tag = "UNUSUAL_ACTIVITY"
	TagAccumulation    Tag = "ACCUMULATION"
	TagDistribution    Tag = "DISTRIBUTION"
)

type TagSet map[Tag]struct{}

func NewTagSet(tags ...Tag) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func (s TagSet) Add(t Tag)      { s[t] = struct{}{} }
func (s TagSet) Has(t Tag) bool { _, ok := s[t]; return ok }
func (s TagSet) Empty() bool    { return len(s) == 0 }

// Slice returns tags in a stable order for persistence and rendering
func (s TagSet) Slice() []Tag {
	order := []Tag{TagLargeTx, TagExchangeInflow, TagExchangeOutflow, TagUnusualActivity, TagAccumulation, TagDistribution}
	out := make([]Tag, 0, len(s))
	for _, t := range order {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Classified transaction. Derived, immutable, exactly one per (tx_id, wallet_address)
type ClassifiedEvent struct {
	EventID       string          `json:"event_id"` // chain:tx_id:wallet (canon)
	Chain         Chain           `json:"chain"`
	TxID          string          `json:"tx_id"`
	WalletAddress string          `json:"wallet_address"`
	WalletRank    int             `json:"wallet_rank"`
	Direction     Direction       `json:"direction"`
	Tags          []Tag           `json:"tags"`
	Score         int             `json:"score"` // 0..10 significance score
	Amount        decimal.Decimal `json:"amount"`
	USDValue      decimal.Decimal `json:"usd_value"` // valued at detection time
	ExchangeName  string          `json:"exchange_name,omitempty"`
	BlockHeight   int64           `json:"block_height"`
	TxTime        time.Time       `json:"tx_time"`
	DetectedAt    time.Time       `json:"detected_at"`
}

func (e *ClassifiedEvent) TagSet() TagSet { return NewTagSet(e.Tags...) }

// Known exchange-operated address
type ExchangeAddress struct {
	Address    string `json:"address"`
	Exchange   string `json:"exchange"`
	WalletType string `json:"wallet_type"`
}

// Per-chain exchange lookup table. Static within a run, reloadable between runs
type ExchangeTable map[Chain]map[string]ExchangeAddress

// Name returns the exchange operating the address, if any
func (t ExchangeTable) Name(chain Chain, address string) (string, bool) {
	m, ok := t[chain]
	if !ok {
		return "", false
	}
	ex, ok := m[address]
	if !ok {
		return "", false
	}
	return ex.Exchange, true
}

// Most-active-wallet entry inside a digest window
type WalletActivity struct {
	WalletAddress string          `json:"wallet_address"`
	WalletRank    int             `json:"wallet_rank"`
	TxCount       int             `json:"tx_count"`
	Volume        decimal.Decimal `json:"volume"`
}

// DigestWindow is a read-only summary of one chain over one time window
type DigestWindow struct {
	Chain       Chain     `json:"chain"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	EventCount      int             `json:"event_count"` // events carrying >= 1 tag
	TxCount         int             `json:"tx_count"`    // all new events in window
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TotalVolumeUSD  decimal.Decimal `json:"total_volume_usd"`
	ExchangeInflow  decimal.Decimal `json:"exchange_inflow"`
	ExchangeOutflow decimal.Decimal `json:"exchange_outflow"`
	NetExchangeFlow decimal.Decimal `json:"net_exchange_flow"` // inflow - outflow

	MostActive []WalletActivity  `json:"most_active,omitempty"`
	TopEvents  []ClassifiedEvent `json:"top_events,omitempty"`

	// Reduced-confidence notes: degraded wallets, previous dispatch failures
	StatusNotes []string `json:"status_notes,omitempty"`
}

// MonthlySummary is the permanent rollup kept after raw events are pruned
type MonthlySummary struct {
	Chain     Chain           `json:"chain"`
	YearMonth string          `json:"year_month"` // "2006-01"
	TxCount   int64           `json:"tx_count"`
	Volume    decimal.Decimal `json:"volume"`
	VolumeUSD decimal.Decimal `json:"volume_usd"`

	ExchangeInflow  decimal.Decimal `json:"exchange_inflow"`
	ExchangeOutflow decimal.Decimal `json:"exchange_outflow"`
	TaggedCount     int64           `json:"tagged_count"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
