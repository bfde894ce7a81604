package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
)

const schemaVersion = 1

type EventRow struct {
	DetectedAt    time.Time
	Chain         string
	TxID          string
	WalletAddress string
	WalletRank    uint16
	Direction     string
	Tags          []string
	Score         uint8
	Amount        string // Decimal(38,8), sent as string
	USDValue      string // Decimal(20,2), sent as string
	ExchangeName  string
	BlockHeight   int64
	TxTime        time.Time
	SchemaVersion uint16
}

// RowFromEvent flattens a classified event into its insert shape
func RowFromEvent(ev *domain.ClassifiedEvent) EventRow {
	tags := make([]string, len(ev.Tags))
	for i, t := range ev.Tags {
		tags[i] = string(t)
	}

	rank := ev.WalletRank
	if rank < 0 || rank > int(^uint16(0)) {
		rank = 0 // unknown
	}

	return EventRow{
		DetectedAt:    ev.DetectedAt,
		Chain:         string(ev.Chain),
		TxID:          ev.TxID,
		WalletAddress: ev.WalletAddress,
		WalletRank:    uint16(rank),
		Direction:     string(ev.Direction),
		Tags:          tags,
		Score:         uint8(ev.Score),
		Amount:        ev.Amount.String(),
		USDValue:      ev.USDValue.StringFixed(2),
		ExchangeName:  ev.ExchangeName,
		BlockHeight:   ev.BlockHeight,
		TxTime:        ev.TxTime,
		SchemaVersion: schemaVersion,
	}
}

// Writer batches event rows into ClickHouse off the hot path: classification
// enqueues and moves on, the background loop flushes by size or interval.
type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh chan EventRow
	wg   sync.WaitGroup

	// mu orders Enqueue against Close: Close takes the write lock before
	// closing inCh, so no send can race the close.
	mu     sync.RWMutex
	closed bool
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseConfig) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 500
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = time.Second
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:  log,
		conn: conn,
		cfg:  cfg,
		inCh: make(chan EventRow, 4096),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

func (w *Writer) Enqueue(row EventRow) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return errors.New("clickhouse writer closed")
	}
	// the loop keeps draining inCh until Close closes it, and Close waits
	// for this read lock, so the send cannot block forever or hit a closed
	// channel
	w.inCh <- row
	return nil
}

// Close stops intake, flushes whatever is batched and waits for the loop up
// to the context deadline. Safe to call more than once.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.inCh)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]EventRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	if w.conn == nil {
		return errors.New("clickhouse connection is not initialized")
	}

	backoff := w.cfg.Writer.RetryBackoff

	var lastErr error

	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO whale_events (
				detected_at,
				chain,
				tx_id,
				wallet_address,
				wallet_rank,
				direction,
				tags,
				score,
				amount,
				usd_value,
				exchange_name,
				block_height,
				tx_time,
				schema_version
			)
		`)
		if err != nil {
			lastErr = err
			goto retry
		}

		for i := range rows {
			r := &rows[i]
			if err = batch.Append(
				r.DetectedAt,
				r.Chain,
				r.TxID,
				r.WalletAddress,
				r.WalletRank,
				r.Direction,
				r.Tags,
				r.Score,
				r.Amount,
				r.USDValue,
				r.ExchangeName,
				r.BlockHeight,
				r.TxTime,
				r.SchemaVersion,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				goto retry
			}
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			goto retry
		}
		return nil

	retry:
		if attempt == w.cfg.Writer.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}
