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

// FRED fetches economic series observations from the St. Louis Fed API. The
// symbol is the FRED series id (e.g. "CPIAUCSL", "FEDFUNDS").
type FRED struct {
	base
	apiKey string
}

// NewFRED creates a FRED adapter. An API key is required; config validation
// enforces it at startup.
func NewFRED(baseURL, apiKey string, priority int, weight float64) *FRED {
	return &FRED{
		base:   newBase("fred", baseURL, priority, weight),
		apiKey: apiKey,
	}
}

// GetCurrent implements domain.OracleProvider. It returns the most recent
// observation of the series.
func (f *FRED) GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error) {
	url := fmt.Sprintf(
		"%s/fred/series/observations?series_id=%s&api_key=%s&file_type=json&sort_order=desc&limit=1",
		f.baseURL, strings.ToUpper(symbol), f.apiKey,
	)
	body, err := f.getJSON(ctx, url)
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("fred: get %s: %w", symbol, err)
	}

	var resp struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OracleData{}, fmt.Errorf("fred: decode observations for %s: %w", symbol, domain.ErrParsing)
	}
	if len(resp.Observations) == 0 {
		return domain.OracleData{}, fmt.Errorf("fred: no observations for %s: %w", symbol, domain.ErrDataUnavailable)
	}

	obs := resp.Observations[0]
	// FRED publishes "." for missing data points.
	if obs.Value == "" || obs.Value == "." {
		return domain.OracleData{}, fmt.Errorf("fred: missing observation value for %s on %s: %w", symbol, obs.Date, domain.ErrDataUnavailable)
	}

	value, err := decimal.NewFromString(obs.Value)
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("fred: observation %q for %s: %w", obs.Value, symbol, domain.ErrParsing)
	}

	ts := time.Now().UTC()
	if t, err := time.Parse("2006-01-02", obs.Date); err == nil {
		ts = t.UTC()
	}

	return domain.OracleData{
		Source:    f.name,
		Symbol:    strings.ToUpper(symbol),
		Value:     value,
		Timestamp: ts,
	}, nil
}

var _ domain.OracleProvider = (*FRED)(nil)
