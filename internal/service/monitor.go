// Package service is the orchestration layer: it owns the per-wallet
// fetch -> diff -> dedupe -> classify -> persist pipeline and the digest
// build-and-dispatch flow. Transport (scheduler, HTTP) calls in here.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/classify"
	"whalewatch/internal/config"
	"whalewatch/internal/dedupe"
	"whalewatch/internal/diff"
	"whalewatch/internal/domain"
	"whalewatch/internal/fetch"
	"whalewatch/internal/metrics"
	"whalewatch/internal/pubsub"
	"whalewatch/internal/registry"
	"whalewatch/internal/stores/clickhouse"
)

// EventSink receives classified events for durable storage
type EventSink interface {
	Enqueue(row clickhouse.EventRow) error
}

// WalletResult summarizes one wallet's pass through the pipeline
type WalletResult struct {
	NewEvents   int
	Duplicates  int
	Baselined   bool
	Truncated   bool
	RateLimited bool
}

type MonitorService struct {
	log         logger.Logger
	cfg         *config.Config
	fetcher     fetch.Fetcher
	registry    *registry.Registry
	deduper     dedupe.Deduper
	classifier  *classify.Classifier
	sink        EventSink
	broadcaster pubsub.Broadcaster
	mon         *metrics.Monitor

	subjectPrefix string
}

func NewMonitorService(
	log logger.Logger,
	cfg *config.Config,
	fetcher fetch.Fetcher,
	reg *registry.Registry,
	deduper dedupe.Deduper,
	classifier *classify.Classifier,
	sink EventSink,
	broadcaster pubsub.Broadcaster,
	mon *metrics.Monitor,
) (*MonitorService, error) {
	if cfg == nil {
		return nil, errors.New("config is required for the monitor service")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required for the monitor service")
	}
	if reg == nil {
		return nil, errors.New("registry is required for the monitor service")
	}
	if deduper == nil {
		return nil, errors.New("deduper is required for the monitor service")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required for the monitor service")
	}
	if sink == nil {
		return nil, errors.New("event sink is required for the monitor service")
	}

	prefix := cfg.PubSub.NATS.SubjectPrefix
	if prefix == "" {
		prefix = "whale"
	}

	return &MonitorService{
		log:           log,
		cfg:           cfg,
		fetcher:       fetcher,
		registry:      reg,
		deduper:       deduper,
		classifier:    classifier,
		sink:          sink,
		broadcaster:   broadcaster,
		mon:           mon,
		subjectPrefix: prefix,
	}, nil
}

// ProcessWallet runs the full pipeline for one wallet. The marker only
// advances after every new transaction was handed to the sink, so a crash
// mid-wallet re-delivers into the deduper rather than losing events.
func (s *MonitorService) ProcessWallet(ctx context.Context, ws *registry.WalletState, now time.Time) (WalletResult, error) {
	var res WalletResult

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Monitor.FetchTimeout)
	defer cancel()

	fetched, err := s.fetcher.GetTransactions(fetchCtx, ws.Chain, ws.Address)
	s.registry.TouchChecked(ws, now)
	if err != nil {
		res.RateLimited = fetch.IsRateLimited(err)
		s.countFetch(ws.Chain, fetchResult(err))
		if s.registry.RecordFailure(ws, s.cfg.Monitor.DegradedAfter) {
			s.log.Warnf("Wallet %s %s degraded after %d consecutive failures", ws.Chain, ws.Address, ws.ConsecutiveFailures)
		}
		s.gaugeDegraded()
		return res, fmt.Errorf("fetch %s %s: %w", ws.Chain, ws.Address, err)
	}
	s.countFetch(ws.Chain, "ok")
	s.registry.RecordSuccess(ws)
	s.gaugeDegraded()

	marker, err := s.registry.MarkerFor(ctx, ws)
	if err != nil {
		return res, fmt.Errorf("read marker %s %s: %w", ws.Chain, ws.Address, err)
	}

	d, err := diff.Diff(marker, fetched, s.cfg.Monitor.MaxLookback)
	if err != nil {
		return res, fmt.Errorf("diff %s %s: %w", ws.Chain, ws.Address, err)
	}
	res.Baselined = d.Baselined
	res.Truncated = d.Truncated
	if d.Truncated {
		s.log.Warnf("Marker for %s %s fell out of the provider window, emitting newest %d only",
			ws.Chain, ws.Address, len(d.New))
	}

	price := s.price(ctx, ws.Chain)

	for i := range d.New {
		tx := &d.New[i]

		err = s.processTx(ctx, tx, ws.Rank, price, now)
		switch {
		case errors.Is(err, errDuplicate):
			res.Duplicates++
		case errors.Is(err, errSkipped):
		case err != nil:
			// marker stays behind the failed tx; the next cycle retries from here
			return res, err
		default:
			res.NewEvents++
		}
	}

	if d.Marker != marker && !d.Marker.Zero() {
		d.Marker.CheckedAt = now
		if err = s.registry.AdvanceMarker(ctx, ws, d.Marker); err != nil {
			return res, fmt.Errorf("advance marker %s %s: %w", ws.Chain, ws.Address, err)
		}
	}

	return res, nil
}

var (
	errDuplicate = errors.New("duplicate event")
	errSkipped   = errors.New("transaction skipped")
)

func (s *MonitorService) processTx(ctx context.Context, tx *domain.RawTransaction, rank int, price decimal.Decimal, now time.Time) error {
	id := domain.MakeEventID(tx.Chain, tx.TxID, tx.WalletAddress)

	seen, err := s.deduper.Seen(ctx, id)
	if err != nil {
		return fmt.Errorf("dedup check failed for %s: %w", id, err)
	}
	if seen {
		s.log.Debugf("Duplicate event ignored: %s", id)
		if s.mon != nil {
			s.mon.DuplicatesTotal.WithLabelValues(string(tx.Chain)).Inc()
		}
		return errDuplicate
	}

	ev, err := s.classifier.Classify(tx, rank, price, now)
	if err != nil {
		if errors.Is(err, classify.ErrMalformed) {
			// provider sent garbage for this one tx; skip it, keep the wallet
			s.log.Errorf("Skipping malformed transaction %s: %v", id, err)
			return errSkipped
		}
		return fmt.Errorf("classify %s: %w", id, err)
	}

	if err = s.sink.Enqueue(clickhouse.RowFromEvent(ev)); err != nil {
		return fmt.Errorf("persist %s: %w", id, err)
	}

	if s.mon != nil {
		s.mon.EventsTotal.WithLabelValues(string(ev.Chain)).Inc()
		for _, tag := range ev.Tags {
			s.mon.TagsTotal.WithLabelValues(string(ev.Chain), string(tag)).Inc()
		}
	}

	s.publishAlert(ctx, ev)
	return nil
}

// publishAlert pushes high-score events to the alert subject. Broadcast
// failures are logged, not propagated: the event is already persisted.
func (s *MonitorService) publishAlert(ctx context.Context, ev *domain.ClassifiedEvent) {
	minScore := s.cfg.Classify.AlertMinScore
	if s.broadcaster == nil || minScore <= 0 || ev.Score < minScore {
		return
	}

	subject := s.subjectPrefix + ".alert." + string(ev.Chain)
	if err := s.broadcaster.Publish(ctx, subject, ev); err != nil {
		s.log.Errorf("Failed to broadcast alert for %s: %v", ev.EventID, err)
	}
}

// price returns the current quote, or zero when valuation is unavailable.
// A zero price silences the USD rules for this wallet's batch only.
func (s *MonitorService) price(ctx context.Context, chain domain.Chain) decimal.Decimal {
	price, err := s.fetcher.GetPrice(ctx, chain)
	if err != nil {
		s.log.Warnf("Price unavailable for %s, USD valuation disabled this batch: %v", chain, err)
		return decimal.Zero
	}
	return price
}

func (s *MonitorService) countFetch(chain domain.Chain, result string) {
	if s.mon != nil {
		s.mon.FetchesTotal.WithLabelValues(string(chain), result).Inc()
	}
}

func (s *MonitorService) gaugeDegraded() {
	if s.mon == nil {
		return
	}
	for _, chain := range domain.AllChains {
		s.mon.DegradedWallets.WithLabelValues(string(chain)).Set(float64(len(s.registry.DegradedWallets(chain))))
	}
}

func fetchResult(err error) string {
	if fetch.IsRateLimited(err) {
		return "rate_limited"
	}
	return "error"
}

// CheckDependency reports the health of every hard dependency in one error
func (s *MonitorService) CheckDependency(ctx context.Context, checks map[string]func(context.Context) error) error {
	var failures []string

	for name, check := range checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("dependency check failed: %v", strings.Join(failures, "; "))
	}
	return nil
}
