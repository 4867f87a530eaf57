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

// Binance fetches spot prices from the Binance public ticker endpoint.
type Binance struct {
	base
}

// NewBinance creates a Binance adapter.
func NewBinance(baseURL string, priority int, weight float64) *Binance {
	return &Binance{base: newBase("binance", baseURL, priority, weight)}
}

// binanceSymbol maps a bare asset code to the Binance spot pair.
func binanceSymbol(symbol string) string {
	return strings.ToUpper(symbol) + "USDT"
}

// GetCurrent implements domain.OracleProvider.
func (b *Binance) GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.baseURL, binanceSymbol(symbol))
	body, err := b.getJSON(ctx, url)
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("binance: get %s: %w", symbol, err)
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OracleData{}, fmt.Errorf("binance: decode ticker for %s: %w", symbol, domain.ErrParsing)
	}
	if resp.Price == "" {
		// Absent price is absent data, not zero.
		return domain.OracleData{}, fmt.Errorf("binance: empty price field for %s: %w", symbol, domain.ErrDataUnavailable)
	}

	value, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("binance: price %q for %s: %w", resp.Price, symbol, domain.ErrParsing)
	}

	return domain.OracleData{
		Source:    b.name,
		Symbol:    strings.ToUpper(symbol),
		Value:     value,
		Timestamp: time.Now().UTC(),
	}, nil
}

var _ domain.OracleProvider = (*Binance)(nil)
