package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"whalewatch/internal/domain"
)

// EventStore is the read/maintenance side of the events table. Writes go
// through the batching Writer; digest aggregation and retention read here.
type EventStore struct {
	conn *Conn
}

func NewEventStore(conn *Conn) (*EventStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("clickhouse conn is required to the event store")
	}
	return &EventStore{conn: conn}, nil
}

// EventsInWindow returns classified events for one chain with
// start <= detected_at < end, oldest first.
func (s *EventStore) EventsInWindow(ctx context.Context, chain domain.Chain, start, end time.Time) ([]domain.ClassifiedEvent, error) {
	rows, err := s.conn.Native.Query(ctx, `
		SELECT
			chain, tx_id, wallet_address, wallet_rank, direction, tags,
			score, toString(amount), toString(usd_value), exchange_name,
			block_height, tx_time, detected_at
		FROM whale_events FINAL
		WHERE chain = ? AND detected_at >= ? AND detected_at < ?
		ORDER BY detected_at
	`, string(chain), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events window for %s, error=%w", chain, err)
	}
	defer rows.Close()

	var out []domain.ClassifiedEvent
	for rows.Next() {
		var (
			ev         domain.ClassifiedEvent
			chainS     string
			directionS string
			tags       []string
			rank       uint16
			score      uint8
			amountS    string
			usdS       string
		)
		if err = rows.Scan(
			&chainS, &ev.TxID, &ev.WalletAddress, &rank, &directionS, &tags,
			&score, &amountS, &usdS, &ev.ExchangeName,
			&ev.BlockHeight, &ev.TxTime, &ev.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row, error=%w", err)
		}

		ev.Chain = domain.Chain(chainS)
		ev.Direction = domain.Direction(directionS)
		ev.WalletRank = int(rank)
		ev.Score = int(score)
		ev.Tags = make([]domain.Tag, len(tags))
		for i, t := range tags {
			ev.Tags[i] = domain.Tag(t)
		}
		if ev.Amount, err = decimal.NewFromString(amountS); err != nil {
			return nil, fmt.Errorf("corrupt amount %q for %s, error=%w", amountS, ev.TxID, err)
		}
		if ev.USDValue, err = decimal.NewFromString(usdS); err != nil {
			return nil, fmt.Errorf("corrupt usd_value %q for %s, error=%w", usdS, ev.TxID, err)
		}
		ev.EventID = domain.MakeEventID(ev.Chain, ev.TxID, ev.WalletAddress)

		out = append(out, ev)
	}
	return out, rows.Err()
}

// DayFold is the per-day aggregate folded into a monthly summary
type DayFold struct {
	TxCount         int64
	Volume          decimal.Decimal
	VolumeUSD       decimal.Decimal
	ExchangeInflow  decimal.Decimal
	ExchangeOutflow decimal.Decimal
	TaggedCount     int64
}

// FoldDay aggregates one UTC day of events for a chain in a single pass
func (s *EventStore) FoldDay(ctx context.Context, chain domain.Chain, day time.Time) (DayFold, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	row := s.conn.Native.QueryRow(ctx, `
		SELECT
			count(),
			toString(sum(amount)),
			toString(sum(usd_value)),
			toString(sumIf(amount, has(tags, 'EXCHANGE_INFLOW'))),
			toString(sumIf(amount, has(tags, 'EXCHANGE_OUTFLOW'))),
			countIf(notEmpty(tags))
		FROM whale_events FINAL
		WHERE chain = ? AND detected_at >= ? AND detected_at < ?
	`, string(chain), start, end)

	var (
		fold                  DayFold
		volS, usdS, inS, outS string
	)
	if err := row.Scan(&fold.TxCount, &volS, &usdS, &inS, &outS, &fold.TaggedCount); err != nil {
		return DayFold{}, fmt.Errorf("failed to fold day %s for %s, error=%w", start.Format("2006-01-02"), chain, err)
	}

	var err error
	if fold.Volume, err = decimal.NewFromString(volS); err != nil {
		return DayFold{}, fmt.Errorf("corrupt fold volume %q, error=%w", volS, err)
	}
	if fold.VolumeUSD, err = decimal.NewFromString(usdS); err != nil {
		return DayFold{}, fmt.Errorf("corrupt fold usd volume %q, error=%w", usdS, err)
	}
	if fold.ExchangeInflow, err = decimal.NewFromString(inS); err != nil {
		return DayFold{}, fmt.Errorf("corrupt fold inflow %q, error=%w", inS, err)
	}
	if fold.ExchangeOutflow, err = decimal.NewFromString(outS); err != nil {
		return DayFold{}, fmt.Errorf("corrupt fold outflow %q, error=%w", outS, err)
	}
	return fold, nil
}

// OldestEventDay returns the UTC day of the oldest stored event for a chain.
// ok=false when the chain has no events at all.
func (s *EventStore) OldestEventDay(ctx context.Context, chain domain.Chain) (time.Time, bool, error) {
	row := s.conn.Native.QueryRow(ctx, `
		SELECT count(), min(detected_at)
		FROM whale_events
		WHERE chain = ?
	`, string(chain))

	var (
		count  uint64
		oldest time.Time
	)
	if err := row.Scan(&count, &oldest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read oldest event day for %s, error=%w", chain, err)
	}
	if count == 0 {
		return time.Time{}, false, nil
	}
	return oldest.UTC().Truncate(24 * time.Hour), true, nil
}

// GetMonthlySummary returns the stored rollup for a chain and "2006-01" month.
// ok=false when the month has never been folded.
func (s *EventStore) GetMonthlySummary(ctx context.Context, chain domain.Chain, yearMonth string) (domain.MonthlySummary, bool, error) {
	row := s.conn.Native.QueryRow(ctx, `
		SELECT
			tx_count, toString(volume), toString(volume_usd),
			toString(exchange_inflow), toString(exchange_outflow),
			tagged_count, updated_at
		FROM whale_monthly_summaries FINAL
		WHERE chain = ? AND year_month = ?
	`, string(chain), yearMonth)

	sum := domain.MonthlySummary{Chain: chain, YearMonth: yearMonth}
	var (
		txCount, taggedCount  uint64
		volS, usdS, inS, outS string
	)
	err := row.Scan(&txCount, &volS, &usdS, &inS, &outS, &taggedCount, &sum.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.MonthlySummary{}, false, nil
		}
		return domain.MonthlySummary{}, false, fmt.Errorf("failed to read monthly summary %s %s, error=%w", chain, yearMonth, err)
	}

	sum.TxCount = int64(txCount)
	sum.TaggedCount = int64(taggedCount)
	if sum.Volume, err = decimal.NewFromString(volS); err != nil {
		return domain.MonthlySummary{}, false, err
	}
	if sum.VolumeUSD, err = decimal.NewFromString(usdS); err != nil {
		return domain.MonthlySummary{}, false, err
	}
	if sum.ExchangeInflow, err = decimal.NewFromString(inS); err != nil {
		return domain.MonthlySummary{}, false, err
	}
	if sum.ExchangeOutflow, err = decimal.NewFromString(outS); err != nil {
		return domain.MonthlySummary{}, false, err
	}
	return sum, true, nil
}

// UpsertMonthlySummary writes a rollup row; ReplacingMergeTree keeps the
// newest updated_at version per (chain, year_month).
func (s *EventStore) UpsertMonthlySummary(ctx context.Context, sum domain.MonthlySummary) error {
	err := s.conn.Native.Exec(ctx, `
		INSERT INTO whale_monthly_summaries (
			chain, year_month, tx_count, volume, volume_usd,
			exchange_inflow, exchange_outflow, tagged_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(sum.Chain), sum.YearMonth, uint64(sum.TxCount),
		sum.Volume.String(), sum.VolumeUSD.StringFixed(2),
		sum.ExchangeInflow.String(), sum.ExchangeOutflow.String(),
		uint64(sum.TaggedCount), sum.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert monthly summary %s %s, error=%w", sum.Chain, sum.YearMonth, err)
	}
	return nil
}

// DeleteBefore drops raw events older than the cutoff for a chain
func (s *EventStore) DeleteBefore(ctx context.Context, chain domain.Chain, cutoff time.Time) error {
	err := s.conn.Native.Exec(ctx, `
		DELETE FROM whale_events WHERE chain = ? AND detected_at < ?
	`, string(chain), cutoff.UTC())
	if err != nil {
		return fmt.Errorf("failed to prune events before %s for %s, error=%w", cutoff.Format(time.RFC3339), chain, err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
