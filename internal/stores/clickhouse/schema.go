package clickhouse

import (
	"context"
	"fmt"
)

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS whale_events (
		detected_at    DateTime64(3, 'UTC'),
		chain          LowCardinality(String),
		tx_id          String,
		wallet_address String,
		wallet_rank    UInt16,
		direction      LowCardinality(String),
		tags           Array(LowCardinality(String)),
		score          UInt8,
		amount         Decimal(38, 8),
		usd_value      Decimal(20, 2),
		exchange_name  LowCardinality(String),
		block_height   Int64,
		tx_time        DateTime64(3, 'UTC'),
		schema_version UInt16
	)
	ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMM(detected_at)
	ORDER BY (chain, wallet_address, tx_id)`,

	`CREATE TABLE IF NOT EXISTS whale_monthly_summaries (
		chain            LowCardinality(String),
		year_month       LowCardinality(String),
		tx_count         UInt64,
		volume           Decimal(38, 8),
		volume_usd       Decimal(24, 2),
		exchange_inflow  Decimal(38, 8),
		exchange_outflow Decimal(38, 8),
		tagged_count     UInt64,
		updated_at       DateTime('UTC')
	)
	ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (chain, year_month)`,
}

// EnsureSchema creates the tables on startup. Idempotent.
func (c *Conn) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if err := c.Native.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema DDL, error=%w", err)
		}
	}
	return nil
}
