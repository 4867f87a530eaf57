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

// NWS fetches the latest station observation from the National Weather
// Service API. The symbol is a station id (e.g. "KNYC"); the value is the
// temperature in degrees Celsius.
type NWS struct {
	base
}

// NewNWS creates an NWS adapter. The API is unauthenticated but requires a
// descriptive User-Agent.
func NewNWS(baseURL string, priority int, weight float64) *NWS {
	return &NWS{base: newBase("nws", baseURL, priority, weight)}
}

// GetCurrent implements domain.OracleProvider.
func (n *NWS) GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error) {
	url := fmt.Sprintf("%s/stations/%s/observations/latest", n.baseURL, strings.ToUpper(symbol))
	body, err := n.getJSON(ctx, url)
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("nws: get %s: %w", symbol, err)
	}

	var resp struct {
		Properties struct {
			Timestamp   string `json:"timestamp"`
			Temperature struct {
				Value *json.Number `json:"value"`
			} `json:"temperature"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OracleData{}, fmt.Errorf("nws: decode observation for %s: %w", symbol, domain.ErrParsing)
	}

	// The NWS feed publishes null temperatures when a sensor is offline.
	raw := resp.Properties.Temperature.Value
	if raw == nil || raw.String() == "" {
		return domain.OracleData{}, fmt.Errorf("nws: null temperature for %s: %w", symbol, domain.ErrDataUnavailable)
	}

	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("nws: temperature %q for %s: %w", raw.String(), symbol, domain.ErrParsing)
	}

	ts := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, resp.Properties.Timestamp); err == nil {
		ts = t.UTC()
	}

	return domain.OracleData{
		Source:    n.name,
		Symbol:    strings.ToUpper(symbol),
		Value:     value,
		Timestamp: ts,
	}, nil
}

var _ domain.OracleProvider = (*NWS)(nil)
