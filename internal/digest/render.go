package digest

import (
	"fmt"
	"strings"

	"whalewatch/internal/domain"
)

// Render formats a digest as the plain-text message posted to the webhook
func Render(d *domain.DigestWindow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🐋 Whale digest %s | %s -> %s\n",
		d.Chain,
		d.WindowStart.Format("2006-01-02 15:04"),
		d.WindowEnd.Format("2006-01-02 15:04"))

	if d.TxCount == 0 {
		b.WriteString("No whale movement observed in this window.\n")
	} else {
		fmt.Fprintf(&b, "Transactions: %d (%d significant)\n", d.TxCount, d.EventCount)
		fmt.Fprintf(&b, "Volume: %s %s ($%s)\n", d.TotalVolume, d.Chain, d.TotalVolumeUSD.StringFixed(2))
		fmt.Fprintf(&b, "Exchange flow: in %s / out %s (net %s)\n",
			d.ExchangeInflow, d.ExchangeOutflow, d.NetExchangeFlow)
	}

	if len(d.TopEvents) > 0 {
		b.WriteString("Top events:\n")
		for i, ev := range d.TopEvents {
			fmt.Fprintf(&b, "  %d. [%s] %s %s ($%s) %s %s score=%d\n",
				i+1, joinTags(ev.Tags), ev.Amount, ev.Chain, ev.USDValue.StringFixed(2),
				shorten(ev.TxID), shorten(ev.WalletAddress), ev.Score)
		}
	}

	if len(d.MostActive) > 0 {
		b.WriteString("Most active wallets:\n")
		for i, wa := range d.MostActive {
			fmt.Fprintf(&b, "  %d. %s: %d txs, %s %s\n",
				i+1, shorten(wa.WalletAddress), wa.TxCount, wa.Volume, d.Chain)
		}
	}

	for _, note := range d.StatusNotes {
		fmt.Fprintf(&b, "⚠ %s\n", note)
	}

	return b.String()
}

func joinTags(tags []domain.Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func shorten(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "…" + s[len(s)-4:]
}
