// Package diff turns a fetched transaction list into the subset not yet seen
// for one wallet, and computes the advanced baseline marker.
package diff

import (
	"errors"

	"whalewatch/internal/domain"
	"whalewatch/internal/registry"
)

var ErrUnordered = errors.New("fetched transactions are not newest-first")

// Result of one diff: the unseen transactions in chronological (oldest-first)
// order, and the marker to persist after they are processed.
type Result struct {
	New    []domain.RawTransaction
	Marker registry.Marker

	// Baselined is set on the first-ever check: the newest tx becomes the
	// baseline and nothing is emitted, so pre-existing history is never
	// reported as new.
	Baselined bool

	// Truncated is set when the stored marker was absent from the fetched
	// list (provider window too short, or a reorg) and the lookback bound
	// capped the emitted set.
	Truncated bool
}

// Diff scans fetched newest-first until the marker is found or the list is
// exhausted. maxLookback bounds the emitted set when the marker is missing
// from the list entirely; callers get Truncated=true and should log it.
func Diff(marker registry.Marker, fetched []domain.RawTransaction, maxLookback int) (Result, error) {
	var res Result

	if len(fetched) == 0 {
		res.Marker = marker
		return res, nil
	}

	for i := 1; i < len(fetched); i++ {
		if fetched[i].BlockHeight > fetched[i-1].BlockHeight && fetched[i-1].BlockHeight > 0 {
			return res, ErrUnordered
		}
	}

	newest := fetched[0]
	res.Marker = registry.Marker{TxID: newest.TxID, BlockHeight: newest.BlockHeight, TxTime: newest.Timestamp}

	// first check for this wallet: record the baseline, emit nothing
	if marker.Zero() {
		res.Baselined = true
		return res, nil
	}

	cut := -1
	for i := range fetched {
		if fetched[i].TxID == marker.TxID {
			cut = i
			break
		}
	}

	var newer []domain.RawTransaction
	switch {
	case cut == 0:
		// nothing new; keep the existing marker untouched
		res.Marker = marker
		return res, nil
	case cut > 0:
		newer = fetched[:cut]
	default:
		// marker fell out of the provider window: bound the flood
		newer = fetched
		if maxLookback > 0 && len(newer) > maxLookback {
			newer = newer[:maxLookback]
			res.Truncated = true
		}
	}

	// reverse to oldest-first so downstream classification sees chronological
	// order within the wallet
	res.New = make([]domain.RawTransaction, len(newer))
	for i := range newer {
		res.New[len(newer)-1-i] = newer[i]
	}

	return res, nil
}
