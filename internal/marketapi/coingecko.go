// Package marketapi holds the REST collaborators of the dashboard: CoinGecko for seed
// prices and fiat rates, and the wallet service for positions.
package marketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricedash/internal/models"
)

// ErrRateUnavailable is returned when CoinGecko has no positive rate for a currency.
var ErrRateUnavailable = errors.New("marketapi: rate unavailable")

// quoteCoinID is the CoinGecko id of the quote stablecoin.
const quoteCoinID = "tether"

// coinIDs maps base assets to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC": "bitcoin", "ETH": "ethereum", "BNB": "binancecoin",
	"SOL": "solana", "XRP": "ripple", "ADA": "cardano",
	"DOGE": "dogecoin", "AVAX": "avalanche-2", "LINK": "chainlink",
	"DOT": "polkadot", "MATIC": "matic-network", "LTC": "litecoin",
	"ATOM": "cosmos", "UNI": "uniswap", "APT": "aptos",
	"ARB": "arbitrum", "OP": "optimism", "TRX": "tron",
	"SHIB": "shiba-inu", "PEPE": "pepe", "NEAR": "near",
	"SUI": "sui", "SEI": "sei-network", "TIA": "celestia",
	"INJ": "injective-protocol", "FIL": "filecoin", "ICP": "internet-computer",
	"XLM": "stellar", "AAVE": "aave", "MKR": "maker",
	"SAND": "the-sandbox", "MANA": "decentraland", "VET": "vechain",
	"ETC": "ethereum-classic", "STX": "stacks", "IMX": "immutable-x",
	"RNDR": "render-token", "FET": "artificial-superintelligence-alliance",
}

// CoinID returns the CoinGecko id of a base asset.
func CoinID(asset string) (string, bool) {
	id, ok := coinIDs[strings.ToUpper(asset)]
	return id, ok
}

// CoinGecko is a client for the public CoinGecko v3 API.
type CoinGecko struct {
	baseURL    string
	apiKey     string
	quote      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCoinGecko creates a client. Keys starting with "CG-" are demo keys and travel as a
// query parameter; any other key is sent as the pro API header.
func NewCoinGecko(baseURL, apiKey, quote string, timeout time.Duration, logger *slog.Logger) *CoinGecko {
	return &CoinGecko{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		quote:      strings.ToUpper(quote),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "coingecko"),
	}
}

// marketEntry is one element of /coins/markets. Pointer fields are absent or null upstream.
type marketEntry struct {
	Symbol             string           `json:"symbol"`
	CurrentPrice       *decimal.Decimal `json:"current_price"`
	PriceChangePercent *decimal.Decimal `json:"price_change_percentage_24h"`
	High24h            *decimal.Decimal `json:"high_24h"`
	Low24h             *decimal.Decimal `json:"low_24h"`
	TotalVolume        *decimal.Decimal `json:"total_volume"`
	LastUpdated        string           `json:"last_updated"`
}

// Markets fetches current prices for symbols such as "BTCUSDT" and returns them as ticks.
// Symbols without a known coin id are skipped.
func (c *CoinGecko) Markets(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		base := strings.TrimSuffix(strings.ToUpper(s), c.quote)
		if id, ok := CoinID(base); ok {
			ids = append(ids, id)
		} else {
			c.logger.Debug("coingecko_symbol_unmapped", "symbol", s)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	q.Set("price_change_percentage", "24h")

	var entries []marketEntry
	if err := c.get(ctx, "/api/v3/coins/markets", q, &entries); err != nil {
		return nil, err
	}

	ticks := make([]models.PriceTick, 0, len(entries))
	for _, e := range entries {
		if e.Symbol == "" {
			continue
		}
		ticks = append(ticks, models.PriceTick{
			Symbol:             strings.ToUpper(e.Symbol) + c.quote,
			LastPrice:          nullable(e.CurrentPrice),
			PriceChangePercent: nullable(e.PriceChangePercent),
			High24h:            nullable(e.High24h),
			Low24h:             nullable(e.Low24h),
			Volume24h:          nullable(e.TotalVolume),
			EventTime:          epochMillis(e.LastUpdated),
		})
	}

	c.logger.Info("coingecko_markets_loaded", "requested", len(ids), "received", len(ticks))
	return ticks, nil
}

// QuoteRate returns how many units of fiat one unit of the quote stablecoin is worth.
func (c *CoinGecko) QuoteRate(ctx context.Context, fiat string) (decimal.Decimal, error) {
	fiat = strings.ToLower(fiat)

	q := url.Values{}
	q.Set("ids", quoteCoinID)
	q.Set("vs_currencies", fiat)

	var prices map[string]map[string]decimal.Decimal
	if err := c.get(ctx, "/api/v3/simple/price", q, &prices); err != nil {
		return decimal.Zero, err
	}

	rate, ok := prices[quoteCoinID][fiat]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, strings.ToUpper(fiat))
	}
	return rate, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, q url.Values, out any) error {
	if strings.HasPrefix(c.apiKey, "CG-") {
		q.Set("x_cg_demo_api_key", c.apiKey)
	}
	endpoint := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" && !strings.HasPrefix(c.apiKey, "CG-") {
		req.Header.Set("X-Cg-Pro-Api-Key", c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	c.logger.Debug("coingecko_request_completed",
		"path", path,
		"latency_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func epochMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
