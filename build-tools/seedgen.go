//go:build ignore

// Seeds whale_events with synthetic history so the digest and retention
// paths can be exercised without waiting days for real data.
//
// Run: go run ./build-tools/seedgen.go -dsn clickhouse://localhost:9000/whalewatch -chains BTC,LTC -days 45 -per-day 40

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

var tagPool = [][]string{
	{},
	{},
	{"LARGE_TX"},
	{"LARGE_TX", "EXCHANGE_INFLOW"},
	{"EXCHANGE_OUTFLOW"},
	{"UNUSUAL_ACTIVITY"},
	{"LARGE_TX", "ACCUMULATION"},
	{"DISTRIBUTION"},
}

var exchanges = []string{"", "", "Binance", "Coinbase", "Kraken"}

func main() {
	var (
		dsn    = flag.String("dsn", "clickhouse://localhost:9000/whalewatch", "clickhouse DSN")
		chains = flag.String("chains", "BTC,DOGE,LTC", "comma-separated chains")
		days   = flag.Int("days", 45, "how many days back to seed")
		perDay = flag.Int("per-day", 40, "events per chain per day")
		seed   = flag.Int64("seed", 1, "rng seed")
	)
	flag.Parse()

	chainList := splitTrim(*chains)
	if len(chainList) == 0 {
		fmt.Println("no chains provided")
		os.Exit(1)
	}

	opts, err := ch.ParseDSN(*dsn)
	if err != nil {
		fmt.Printf("bad dsn: %v\n", err)
		os.Exit(1)
	}

	conn, err := ch.Open(opts)
	if err != nil {
		fmt.Printf("open failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx := context.Background()
	rng := mrand.New(mrand.NewSource(*seed))
	now := time.Now().UTC()

	total := 0
	for _, chain := range chainList {
		batch, err := conn.PrepareBatch(ctx, `INSERT INTO whale_events (
			detected_at, chain, tx_id, wallet_address, wallet_rank, direction,
			tags, score, amount, usd_value, exchange_name, block_height, tx_time, schema_version
		)`)
		if err != nil {
			fmt.Printf("prepare failed: %v\n", err)
			os.Exit(1)
		}

		for d := *days; d >= 1; d-- {
			day := now.AddDate(0, 0, -d)
			for i := 0; i < *perDay; i++ {
				at := day.Add(time.Duration(rng.Intn(24*3600)) * time.Second)
				tags := tagPool[rng.Intn(len(tagPool))]
				direction := "in"
				if rng.Intn(2) == 1 {
					direction = "out"
				}
				amount := fmt.Sprintf("%d.%08d", rng.Intn(500), rng.Intn(100000000))

				err = batch.Append(
					at,
					chain,
					randomTxID(),
					fmt.Sprintf("%s_whale_%03d", strings.ToLower(chain), rng.Intn(100)+1),
					uint16(rng.Intn(100)+1),
					direction,
					tags,
					uint8(len(tags)*3),
					amount,
					fmt.Sprintf("%d.%02d", rng.Intn(5_000_000), rng.Intn(100)),
					exchanges[rng.Intn(len(exchanges))],
					int64(900_000+d*144+i),
					at.Add(-time.Minute),
					uint16(1),
				)
				if err != nil {
					fmt.Printf("append failed: %v\n", err)
					os.Exit(1)
				}
				total++
			}
		}

		if err = batch.Send(); err != nil {
			fmt.Printf("send failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("seeded %s: %d days x %d events\n", chain, *days, *perDay)
	}

	fmt.Printf("done: %d rows\n", total)
}

func randomTxID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func splitTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
