package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// coingeckoIDs maps bare asset codes to CoinGecko coin identifiers.
var coingeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
}

// CoinGecko fetches spot prices from the CoinGecko simple-price endpoint.
type CoinGecko struct {
	base
	apiKey string
}

// NewCoinGecko creates a CoinGecko adapter. apiKey may be empty for the free
// tier.
func NewCoinGecko(baseURL, apiKey string, priority int, weight float64) *CoinGecko {
	return &CoinGecko{
		base:   newBase("coingecko", baseURL, priority, weight),
		apiKey: apiKey,
	}
}

// GetCurrent implements domain.OracleProvider.
func (c *CoinGecko) GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error) {
	id, ok := coingeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		return domain.OracleData{}, fmt.Errorf("coingecko: no coin id for symbol %q: %w", symbol, domain.ErrDataUnavailable)
	}

	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd&precision=full", c.baseURL, id)
	if c.apiKey != "" {
		url += "&x_cg_demo_api_key=" + c.apiKey
	}
	body, err := c.getJSON(ctx, url)
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("coingecko: get %s: %w", symbol, err)
	}

	// {"bitcoin":{"usd":64123.55}} — decode usd as json.Number so precision
	// survives the trip into decimal.
	var resp map[string]map[string]json.Number
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return domain.OracleData{}, fmt.Errorf("coingecko: decode price for %s: %w", symbol, domain.ErrParsing)
	}

	coin, ok := resp[id]
	if !ok {
		return domain.OracleData{}, fmt.Errorf("coingecko: missing coin %q in response: %w", id, domain.ErrDataUnavailable)
	}
	raw, ok := coin["usd"]
	if !ok || raw.String() == "" {
		return domain.OracleData{}, fmt.Errorf("coingecko: missing usd quote for %q: %w", id, domain.ErrDataUnavailable)
	}

	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("coingecko: usd %q for %s: %w", raw.String(), symbol, domain.ErrParsing)
	}

	return domain.OracleData{
		Source:    c.name,
		Symbol:    strings.ToUpper(symbol),
		Value:     value,
		Timestamp: time.Now().UTC(),
	}, nil
}

var _ domain.OracleProvider = (*CoinGecko)(nil)
