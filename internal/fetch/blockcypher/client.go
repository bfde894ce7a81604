package blockcypher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/time/rate"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	"whalewatch/internal/fetch"
)

const (
	defaultBaseURL  = "https://api.blockcypher.com/v1"
	defaultPriceURL = "https://api.coingecko.com/api/v3/simple/price"
	maxPageSize     = 50 // BlockCypher hard cap per request
)

// coin path segment / CoinGecko id per chain
var coinIDs = map[domain.Chain]struct{ path, gecko string }{
	domain.ChainBTC:  {"btc", "bitcoin"},
	domain.ChainDOGE: {"doge", "dogecoin"},
	domain.ChainLTC:  {"ltc", "litecoin"},
}

type cachedPrice struct {
	price   decimal.Decimal
	fetched time.Time
}

// Client fetches address activity from BlockCypher and spot prices from
// CoinGecko. Outbound requests are paced with a token bucket so bursts inside
// a polling cycle stay under the provider's per-second courtesy limit; the
// hourly budget is the scheduler's concern.
type Client struct {
	log      logger.Logger
	http     *http.Client
	limiter  *rate.Limiter
	baseURL  string
	priceURL string
	apiKey   string

	priceTTL time.Duration
	mu       sync.Mutex
	prices   map[domain.Chain]cachedPrice
}

func New(log logger.Logger, cfg *config.ProviderConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("provider config is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	priceURL := cfg.PriceURL
	if priceURL == "" {
		priceURL = defaultPriceURL
	}

	return &Client{
		log:      log,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.PerSecond), 1),
		baseURL:  strings.TrimRight(baseURL, "/"),
		priceURL: priceURL,
		apiKey:   cfg.APIKey,
		priceTTL: cfg.PriceTTL,
		prices:   make(map[domain.Chain]cachedPrice, 3),
	}, nil
}

// wire shapes of the BlockCypher "full address" endpoint
type addrFullResponse struct {
	Txs []wireTx `json:"txs"`
}

type wireTx struct {
	Hash        string     `json:"hash"`
	BlockHeight int64      `json:"block_height"`
	Confirmed   *time.Time `json:"confirmed"`
	Received    time.Time  `json:"received"`
	Inputs      []wireIO   `json:"inputs"`
	Outputs     []wireIO   `json:"outputs"`
}

type wireIO struct {
	Addresses   []string `json:"addresses"`
	Value       int64    `json:"value"`        // outputs, satoshi
	OutputValue int64    `json:"output_value"` // inputs, satoshi
}

func (c *Client) GetTransactions(ctx context.Context, chain domain.Chain, address string) ([]domain.RawTransaction, error) {
	ids, ok := coinIDs[chain]
	if !ok {
		return nil, fmt.Errorf("unsupported chain: %s", chain)
	}

	q := url.Values{"limit": {fmt.Sprint(maxPageSize)}}
	if c.apiKey != "" {
		q.Set("token", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/%s/main/addrs/%s/full?%s", c.baseURL, ids.path, address, q.Encode())

	var resp addrFullResponse
	if err := c.getJSON(ctx, chain, address, endpoint, &resp); err != nil {
		return nil, err
	}

	txs := make([]domain.RawTransaction, 0, len(resp.Txs))
	for i := range resp.Txs {
		raw, ok := convertTx(&resp.Txs[i], chain, address)
		if !ok {
			continue // tx does not move funds for this wallet (e.g. pure change)
		}
		txs = append(txs, raw)
	}
	return txs, nil
}

// convertTx folds a provider tx into the wallet-relative form. Direction is
// "out" when the wallet appears among the inputs; amounts are summed in
// satoshi and shifted to whole coins to keep fixed-point precision.
func convertTx(tx *wireTx, chain domain.Chain, wallet string) (domain.RawTransaction, bool) {
	var sat int64
	outgoing := false

	for _, in := range tx.Inputs {
		for _, a := range in.Addresses {
			if a == wallet {
				outgoing = true
				sat += in.OutputValue
			}
		}
	}
	if !outgoing {
		for _, out := range tx.Outputs {
			for _, a := range out.Addresses {
				if a == wallet {
					sat += out.Value
				}
			}
		}
	}
	if sat == 0 {
		return domain.RawTransaction{}, false
	}

	seen := make(map[string]struct{})
	var counterparties []string
	for _, io := range append(append([]wireIO{}, tx.Inputs...), tx.Outputs...) {
		for _, a := range io.Addresses {
			if a == wallet {
				continue
			}
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			counterparties = append(counterparties, a)
		}
	}

	dir := domain.DirectionIn
	if outgoing {
		dir = domain.DirectionOut
	}

	return domain.RawTransaction{
		Chain:          chain,
		TxID:           tx.Hash,
		WalletAddress:  wallet,
		Direction:      dir,
		Counterparties: counterparties,
		Amount:         decimal.New(sat, -8),
		BlockHeight:    tx.BlockHeight,
		Confirmed:      tx.Confirmed != nil,
		Timestamp:      tx.Received,
	}, true
}

func (c *Client) GetPrice(ctx context.Context, chain domain.Chain) (decimal.Decimal, error) {
	ids, ok := coinIDs[chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported chain: %s", chain)
	}

	c.mu.Lock()
	cached, has := c.prices[chain]
	c.mu.Unlock()
	if has && time.Since(cached.fetched) < c.priceTTL {
		return cached.price, nil
	}

	endpoint := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", c.priceURL, ids.gecko)

	var resp map[string]map[string]json.Number
	if err := c.getJSON(ctx, chain, "", endpoint, &resp); err != nil {
		// serve the last known price rather than dropping valuation for the cycle
		if has {
			c.log.Warnf("Price fetch failed for %s, using stale price from %s: %v", chain, cached.fetched.Format(time.RFC3339), err)
			return cached.price, nil
		}
		return decimal.Zero, err
	}

	num, ok := resp[ids.gecko]["usd"]
	if !ok {
		return decimal.Zero, &fetch.ProviderError{Chain: chain, Err: fmt.Errorf("price response missing %s.usd", ids.gecko)}
	}
	price, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Zero, &fetch.ProviderError{Chain: chain, Err: fmt.Errorf("malformed price %q: %w", num.String(), err)}
	}

	c.mu.Lock()
	c.prices[chain] = cachedPrice{price: price, fetched: time.Now()}
	c.mu.Unlock()

	return price, nil
}

func (c *Client) getJSON(ctx context.Context, chain domain.Chain, address, endpoint string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &fetch.ProviderError{Chain: chain, Address: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &fetch.ProviderError{Chain: chain, Address: address, StatusCode: resp.StatusCode, RateLimited: true, Err: errors.New("429 too many requests")}
	}
	if resp.StatusCode != http.StatusOK {
		return &fetch.ProviderError{Chain: chain, Address: address, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &fetch.ProviderError{Chain: chain, Address: address, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
