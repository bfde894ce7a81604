package registry

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"whalewatch/internal/domain"
)

// Line shape of the scraped top-holder lists:
//
//	1. 34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo | 248,598 BTC | 1.25%
//
// Some exports carry an editor line-number prefix like "8→1. ..." which is
// stripped before matching.
var walletLine = regexp.MustCompile(`(\d+)\.?\s+([A-Za-z0-9]+)\s+\|\s+([\d,]+(?:\.\d+)?)\s+(?:BTC|DOGE|LTC)\s+\|\s+([\d.]+)%`)

var linePrefix = regexp.MustCompile(`^\s*\d+→`)

// ParseWalletFile reads one chain's top-holder list into registry wallets.
// Lines that do not match the expected shape are skipped silently: the
// scraped files carry headers and separators between entries.
func ParseWalletFile(dataDir, filename string, chain domain.Chain) ([]domain.Wallet, error) {
	f, err := os.Open(filepath.Join(dataDir, filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var wallets []domain.Wallet
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := linePrefix.ReplaceAllString(sc.Text(), "")

		m := walletLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		rank, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		address := m[2]
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}

		wallets = append(wallets, domain.Wallet{
			Chain:   chain,
			Address: strings.TrimSpace(address),
			Rank:    rank,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return wallets, nil
}
