package venue

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

var cents = decimal.NewFromInt(100)

// KalshiClient is the REST client for the Kalshi exchange API. Market data
// endpoints work unauthenticated; portfolio endpoints require the RSA key.
type KalshiClient struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewKalshiClient creates a Kalshi REST client.
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
func NewKalshiClient(baseURL, apiKeyID string) *KalshiClient {
	return &KalshiClient{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for signed portfolio requests.
func (c *KalshiClient) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("venue: kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("venue: kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("venue: kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// kalshiMarket is the subset of a Kalshi market record the pilot consumes.
// Prices arrive in cents.
type kalshiMarket struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
	YesBid int64  `json:"yes_bid"`
	YesAsk int64  `json:"yes_ask"`
	Status string `json:"status"`
}

// GetMarket returns a single market by its ticker.
func (c *KalshiClient) GetMarket(ctx context.Context, ticker string) (domain.Market, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(ticker))

	body, err := c.doRequest(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return domain.Market{}, fmt.Errorf("venue: kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market kalshiMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("venue: kalshi: decode market %s: %w", ticker, domain.ErrParsing)
	}
	if resp.Market.YesBid == 0 && resp.Market.YesAsk == 0 {
		return domain.Market{}, fmt.Errorf("venue: kalshi: market %s has no quotes: %w", ticker, domain.ErrDataUnavailable)
	}

	return domain.Market{
		ID:        resp.Market.Ticker,
		Venue:     "kalshi",
		Title:     resp.Market.Title,
		BestBid:   decimal.NewFromInt(resp.Market.YesBid).Div(cents),
		BestAsk:   decimal.NewFromInt(resp.Market.YesAsk).Div(cents),
		Timestamp: time.Now().UTC(),
	}, nil
}

// ── Order endpoints (live mode) ──

type kalshiOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" | "sell"
	Side          string `json:"side"`   // "yes" | "no"
	Type          string `json:"type"`   // "limit"
	Count         int64  `json:"count"`
	YesPrice      int64  `json:"yes_price,omitempty"`
}

type kalshiOrderRecord struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"`
	YesPrice       int64  `json:"yes_price"`
	FillCount      int64  `json:"fill_count"`
	RemainingCount int64  `json:"remaining_count"`
}

// PlaceOrder submits a limit order identified by clientOrderID. Kalshi
// deduplicates resubmissions carrying the same client order id.
func (c *KalshiClient) PlaceOrder(ctx context.Context, req kalshiOrderRequest) (kalshiOrderRecord, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/portfolio/orders", req, true)
	if err != nil {
		return kalshiOrderRecord{}, fmt.Errorf("venue: kalshi: place order: %w", err)
	}

	var resp struct {
		Order kalshiOrderRecord `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return kalshiOrderRecord{}, fmt.Errorf("venue: kalshi: decode order response: %w", domain.ErrParsing)
	}
	return resp.Order, nil
}

// GetOrders lists portfolio orders for a ticker.
func (c *KalshiClient) GetOrders(ctx context.Context, ticker string) ([]kalshiOrderRecord, error) {
	path := "/portfolio/orders"
	if ticker != "" {
		path += "?ticker=" + url.QueryEscape(ticker)
	}
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, fmt.Errorf("venue: kalshi: get orders: %w", err)
	}

	var resp struct {
		Orders []kalshiOrderRecord `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue: kalshi: decode orders: %w", domain.ErrParsing)
	}
	return resp.Orders, nil
}

// doRequest builds, optionally signs, sends, and reads an HTTP request.
func (c *KalshiClient) doRequest(ctx context.Context, method, path string, reqBody any, signed bool) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		if err := c.signRequest(req, method, path); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkKalshiStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA-PSS-SHA256 authentication headers. The signed message
// is timestamp + method + path (without query).
func (c *KalshiClient) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("venue: kalshi: RSA private key not configured")
	}

	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("venue: kalshi: RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkKalshiStatus maps non-2xx HTTP status codes to domain errors.
func checkKalshiStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	default:
		return fmt.Errorf("kalshi HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// ── Price source ──

// KalshiSource polls market quotes over REST and normalizes them into
// domain.Market records.
type KalshiSource struct {
	client   *KalshiClient
	tickers  []string
	interval time.Duration
	logger   *slog.Logger
}

// NewKalshiSource creates a polling source for the given tickers.
func NewKalshiSource(client *KalshiClient, tickers []string, interval time.Duration, logger *slog.Logger) *KalshiSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &KalshiSource{
		client:   client,
		tickers:  tickers,
		interval: interval,
		logger:   logger.With(slog.String("component", "kalshi_source")),
	}
}

var _ PriceSource = (*KalshiSource)(nil)

// Venue implements PriceSource.
func (s *KalshiSource) Venue() string { return "kalshi" }

// Stream polls each ticker on the configured interval. Individual fetch
// failures are logged and retried on the next tick.
func (s *KalshiSource) Stream(ctx context.Context, out chan<- domain.Market) error {
	if len(s.tickers) == 0 {
		s.logger.Info("no kalshi tickers configured")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		for _, t := range s.tickers {
			m, err := s.client.GetMarket(ctx, t)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("kalshi poll failed",
					slog.String("ticker", t),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- m:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ── Trader ──

// KalshiTrader places live orders on Kalshi. It satisfies the executor's
// VenueTrader contract; the order's RequestID travels as the client order id
// so the venue deduplicates on its side too.
type KalshiTrader struct {
	client *KalshiClient
	logger *slog.Logger
}

// NewKalshiTrader wraps an authenticated client for order placement.
func NewKalshiTrader(client *KalshiClient, logger *slog.Logger) *KalshiTrader {
	return &KalshiTrader{
		client: client,
		logger: logger.With(slog.String("component", "kalshi_trader")),
	}
}

// Venue implements the trader contract.
func (t *KalshiTrader) Venue() string { return "kalshi" }

// PlaceOrder submits a limit order capped at the order's MaxPrice.
func (t *KalshiTrader) PlaceOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	req := kalshiOrderRequest{
		Ticker:        o.MarketID,
		ClientOrderID: o.RequestID,
		Action:        string(o.Side),
		Side:          "yes",
		Type:          "limit",
		Count:         o.RequestedAmount.IntPart(),
		YesPrice:      o.MaxPrice.Mul(cents).IntPart(),
	}

	rec, err := t.client.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	return mergeKalshiOrder(o, rec), nil
}

// LookupOrder resolves the venue-side state of a previously submitted
// request_id by scanning the ticker's portfolio orders.
func (t *KalshiTrader) LookupOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	records, err := t.client.GetOrders(ctx, o.MarketID)
	if err != nil {
		return domain.Order{}, err
	}
	for _, rec := range records {
		if rec.ClientOrderID == o.RequestID {
			return mergeKalshiOrder(o, rec), nil
		}
	}
	return domain.Order{}, fmt.Errorf("venue: kalshi: order %s: %w", o.RequestID, domain.ErrNotFound)
}

// mergeKalshiOrder folds a venue order record into the domain order.
func mergeKalshiOrder(o domain.Order, rec kalshiOrderRecord) domain.Order {
	o.VenueOrderID = rec.OrderID
	o.FilledAmount = decimal.NewFromInt(rec.FillCount)
	o.FillPrice = decimal.NewFromInt(rec.YesPrice).Div(cents)

	switch rec.Status {
	case "executed":
		o.Status = domain.OrderStatusFilled
	case "canceled", "cancelled":
		if rec.FillCount > 0 {
			o.Status = domain.OrderStatusPartial
		} else {
			o.Status = domain.OrderStatusCancelled
		}
	case "resting", "pending":
		if rec.FillCount > 0 {
			o.Status = domain.OrderStatusPartial
		} else {
			o.Status = domain.OrderStatusPending
		}
	default:
		o.Status = domain.OrderStatusRejected
		o.ErrorMessage = "kalshi status " + rec.Status
	}
	return o
}
