// Package classify scores new transactions against the significance rules and
// attaches classification tags. Rules are independent and composable: one
// transaction may carry several tags at once.
package classify

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
)

// score weights recovered from the original rule set; capped at maxScore
const (
	scoreLarge    = 4
	scoreExchange = 3
	scoreUnusual  = 2
	scoreTrend    = 1
	maxScore      = 10
)

// ErrMalformed marks a data-integrity problem in a provider transaction.
// Should not happen for well-formed input; callers log and skip the event.
var ErrMalformed = errors.New("malformed transaction")

// ExchangeLookup resolves a counterparty address to an exchange name.
// Backed by the registry's reloadable table.
type ExchangeLookup interface {
	Name(chain domain.Chain, address string) (string, bool)
}

type Classifier struct {
	log       logger.Logger
	cfg       *config.Config
	exchanges ExchangeLookup
	tracker   *Tracker
}

func New(log logger.Logger, cfg *config.Config, exchanges ExchangeLookup, tracker *Tracker) (*Classifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required for the classifier")
	}
	if exchanges == nil {
		return nil, errors.New("exchange lookup is required for the classifier")
	}
	if tracker == nil {
		return nil, errors.New("activity tracker is required for the classifier")
	}
	return &Classifier{log: log, cfg: cfg, exchanges: exchanges, tracker: tracker}, nil
}

// Classify evaluates every rule for one new transaction and produces the
// immutable event. price is the reference-currency quote at detection time;
// zero means valuation was unavailable this cycle (USD rules then stay quiet).
func (c *Classifier) Classify(tx *domain.RawTransaction, walletRank int, price decimal.Decimal, now time.Time) (*domain.ClassifiedEvent, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}

	cc, ok := c.cfg.ForChain(string(tx.Chain))
	if !ok {
		return nil, fmt.Errorf("%w: chain %s not enabled", ErrMalformed, tx.Chain)
	}

	usd := decimal.Zero
	if price.IsPositive() {
		usd = tx.Amount.Mul(price)
	}

	tags := domain.NewTagSet()

	// LARGE_TX: inclusive boundary, native amount OR USD value
	if tx.Amount.GreaterThanOrEqual(cc.LargeTx) {
		tags.Add(domain.TagLargeTx)
	} else if usd.IsPositive() && usd.GreaterThanOrEqual(cc.LargeUSD) {
		tags.Add(domain.TagLargeTx)
	}

	// EXCHANGE_INFLOW / EXCHANGE_OUTFLOW: only on a known counterparty,
	// never guessed. Whale sending to an exchange = inflow to the exchange.
	exchangeName := ""
	for _, cp := range tx.Counterparties {
		if name, found := c.exchanges.Name(tx.Chain, cp); found {
			exchangeName = name
			break
		}
	}
	if exchangeName != "" {
		if tx.Direction == domain.DirectionOut {
			tags.Add(domain.TagExchangeInflow)
		} else {
			tags.Add(domain.TagExchangeOutflow)
		}
	}

	// the current transaction counts toward its own trailing windows
	c.tracker.Record(tx.Chain, tx.WalletAddress, tx.Direction, tx.Amount, now)
	view := c.tracker.View(tx.Chain, tx.WalletAddress, now)

	// UNUSUAL_ACTIVITY: strictly above multiplier x the baseline expectation,
	// and only once there is any history to compare against
	if view.DaysObserved > 0 && view.ExpectedRate > 0 {
		if float64(view.RecentCount) > view.ExpectedRate*c.cfg.Classify.UnusualMultiplier {
			tags.Add(domain.TagUnusualActivity)
		}
	}

	// ACCUMULATION / DISTRIBUTION: sustained directional flow over the trend
	// window, measured against the wallet's observed balance proxy
	if view.BalanceProxy.IsPositive() {
		net := view.TrendIn.Sub(view.TrendOut)
		threshold := view.BalanceProxy.Mul(decimal.NewFromFloat(c.cfg.Classify.NetFlowFraction))
		switch {
		case net.GreaterThanOrEqual(threshold) && net.IsPositive():
			tags.Add(domain.TagAccumulation)
		case net.Neg().GreaterThanOrEqual(threshold) && net.IsNegative():
			tags.Add(domain.TagDistribution)
		}
	}

	return &domain.ClassifiedEvent{
		EventID:       domain.MakeEventID(tx.Chain, tx.TxID, tx.WalletAddress),
		Chain:         tx.Chain,
		TxID:          tx.TxID,
		WalletAddress: tx.WalletAddress,
		WalletRank:    walletRank,
		Direction:     tx.Direction,
		Tags:          tags.Slice(),
		Score:         score(tags),
		Amount:        tx.Amount,
		USDValue:      usd,
		ExchangeName:  exchangeName,
		BlockHeight:   tx.BlockHeight,
		TxTime:        tx.Timestamp,
		DetectedAt:    now.UTC(),
	}, nil
}

func score(tags domain.TagSet) int {
	s := 0
	if tags.Has(domain.TagLargeTx) {
		s += scoreLarge
	}
	if tags.Has(domain.TagExchangeInflow) || tags.Has(domain.TagExchangeOutflow) {
		s += scoreExchange
	}
	if tags.Has(domain.TagUnusualActivity) {
		s += scoreUnusual
	}
	if tags.Has(domain.TagAccumulation) || tags.Has(domain.TagDistribution) {
		s += scoreTrend
	}
	if s > maxScore {
		s = maxScore
	}
	return s
}

func validate(tx *domain.RawTransaction) error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: nil transaction", ErrMalformed)
	case tx.TxID == "":
		return fmt.Errorf("%w: empty tx id", ErrMalformed)
	case tx.WalletAddress == "":
		return fmt.Errorf("%w: empty wallet address", ErrMalformed)
	case !tx.Chain.Valid():
		return fmt.Errorf("%w: unknown chain %q", ErrMalformed, tx.Chain)
	case tx.Amount.IsNegative() || tx.Amount.IsZero():
		return fmt.Errorf("%w: non-positive amount %s", ErrMalformed, tx.Amount)
	case tx.Direction != domain.DirectionIn && tx.Direction != domain.DirectionOut:
		return fmt.Errorf("%w: invalid direction %q", ErrMalformed, tx.Direction)
	}
	return nil
}
