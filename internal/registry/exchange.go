package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"whalewatch/internal/domain"
)

const exchangeFile = "exchange_addresses.json"

// LoadExchangeTable reads the per-chain exchange address table:
//
//	{"BTC": [{"address": "...", "exchange": "Binance", "wallet_type": "cold"}], ...}
//
// A missing file is not an error; the classifier then simply never emits
// exchange tags (it must never guess).
func LoadExchangeTable(dataDir string) (domain.ExchangeTable, error) {
	table := make(domain.ExchangeTable, len(domain.AllChains))
	for _, chain := range domain.AllChains {
		table[chain] = make(map[string]domain.ExchangeAddress)
	}

	b, err := os.ReadFile(filepath.Join(dataDir, exchangeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, err
	}

	var raw map[string][]domain.ExchangeAddress
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", exchangeFile, err)
	}

	for name, entries := range raw {
		chain := domain.Chain(name)
		if !chain.Valid() {
			continue
		}
		for _, e := range entries {
			table[chain][e.Address] = e
		}
	}

	return table, nil
}
