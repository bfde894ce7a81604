package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"whalewatch/internal/domain"
)

// Fetcher is the upstream data-provider contract consumed by the scheduler.
// Implementations must return transactions newest-first.
type Fetcher interface {
	// GetTransactions lists recent transactions touching address, newest first
	GetTransactions(ctx context.Context, chain domain.Chain, address string) ([]domain.RawTransaction, error)
	// GetPrice returns the current reference-currency price for the chain's coin
	GetPrice(ctx context.Context, chain domain.Chain) (decimal.Decimal, error)
}

// ProviderError classifies an upstream failure so the scheduler can decide
// between next-cycle retry and cycle-wide backoff.
type ProviderError struct {
	Chain       domain.Chain
	Address     string
	StatusCode  int
	RateLimited bool // 429: triggers the cycle backoff multiplier
	Err         error
}

func (e *ProviderError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("provider rate limited (%s %s): %v", e.Chain, e.Address, e.Err)
	}
	return fmt.Sprintf("provider error (%s %s, status=%d): %v", e.Chain, e.Address, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a provider 429
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited
}
