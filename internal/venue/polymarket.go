package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

const (
	polymarketWriteWait = 10 * time.Second
	polymarketPongWait  = 60 * time.Second
	polymarketPingEvery = (polymarketPongWait * 9) / 10

	polymarketReconnectBase = 2 * time.Second
	polymarketReconnectMax  = 60 * time.Second
)

// PolymarketSource streams book snapshots from the Polymarket CLOB
// websocket and normalizes them into domain.Market records.
type PolymarketSource struct {
	wsURL    string
	assetIDs []string
	logger   *slog.Logger
}

// NewPolymarketSource creates a websocket source for the given asset IDs.
// wsURL is the CLOB market endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewPolymarketSource(wsURL string, assetIDs []string, logger *slog.Logger) *PolymarketSource {
	return &PolymarketSource{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		logger:   logger.With(slog.String("component", "polymarket_source")),
	}
}

var _ PriceSource = (*PolymarketSource)(nil)

// Venue implements PriceSource.
func (s *PolymarketSource) Venue() string { return "polymarket" }

// Stream connects, subscribes, and forwards book updates until ctx is
// cancelled. Disconnects reconnect with exponential backoff; the
// subscription is re-sent on every new connection.
func (s *PolymarketSource) Stream(ctx context.Context, out chan<- domain.Market) error {
	if len(s.assetIDs) == 0 {
		s.logger.Info("no polymarket assets configured")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := polymarketReconnectBase
	for {
		err := s.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("polymarket ws disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > polymarketReconnectMax {
			delay = polymarketReconnectMax
		}
	}
}

func (s *PolymarketSource) runConnection(ctx context.Context, out chan<- domain.Market) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue: polymarket dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(polymarketPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(polymarketPongWait))
		return nil
	})

	sub := map[string]any{
		"type":       "subscribe",
		"channel":    "book",
		"assets_ids": s.assetIDs,
	}
	conn.SetWriteDeadline(time.Now().Add(polymarketWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("venue: polymarket subscribe: %w", err)
	}
	s.logger.Info("polymarket ws subscribed", slog.Int("assets", len(s.assetIDs)))

	// Close the connection when ctx ends so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(polymarketPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(polymarketWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("venue: polymarket read: %w", err)
		}
		m, ok := s.parseBook(raw)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- m:
		}
	}
}

// polymarketBook is the subset of the CLOB book message the feed consumes.
type polymarketBook struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Bids      []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
	Timestamp string `json:"timestamp"`
}

// parseBook extracts the top of book. Malformed payloads are dropped with a
// log line, never defaulted to a price.
func (s *PolymarketSource) parseBook(raw []byte) (domain.Market, bool) {
	var book polymarketBook
	if err := json.Unmarshal(raw, &book); err != nil || book.EventType != "book" {
		return domain.Market{}, false
	}
	if book.AssetID == "" || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.Market{}, false
	}

	// Polymarket sorts bids ascending and asks descending; the best level
	// sits at the end of each list.
	bestBid, err1 := decimal.NewFromString(book.Bids[len(book.Bids)-1].Price)
	bestAsk, err2 := decimal.NewFromString(book.Asks[len(book.Asks)-1].Price)
	if err1 != nil || err2 != nil {
		s.logger.Warn("malformed book levels",
			slog.String("asset_id", book.AssetID),
		)
		return domain.Market{}, false
	}

	return domain.Market{
		ID:        book.AssetID,
		Venue:     "polymarket",
		Tokens:    []string{book.AssetID},
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Timestamp: time.Now().UTC(),
	}, true
}
