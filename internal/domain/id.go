package domain

import (
	"fmt"
	"strings"
)

// EventID = "<chain>:<tx_id>:<wallet_address>"
// A transaction touching two monitored wallets yields two distinct event IDs.
func MakeEventID(chain Chain, txID, wallet string) string {
	return fmt.Sprintf("%s:%s:%s", chain, strings.ToLower(txID), wallet)
}

type ParsedEventID struct {
	Chain         Chain
	TxID          string
	WalletAddress string
}

func ParseEventID(id string) (ParsedEventID, error) {
	var out ParsedEventID
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return out, fmt.Errorf("invalid event_id format: %s", id)
	}

	chain := Chain(parts[0])
	if !chain.Valid() {
		return out, fmt.Errorf("invalid chain in event_id: %s", parts[0])
	}

	out.Chain = chain
	out.TxID = strings.ToLower(parts[1])
	out.WalletAddress = parts[2]

	return out, nil
}
