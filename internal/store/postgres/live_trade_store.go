package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// LiveTradeStore implements domain.LiveTradeStore using PostgreSQL.
type LiveTradeStore struct {
	pool *pgxpool.Pool
}

// NewLiveTradeStore creates a LiveTradeStore backed by the given pool.
func NewLiveTradeStore(pool *pgxpool.Pool) *LiveTradeStore {
	return &LiveTradeStore{pool: pool}
}

var _ domain.LiveTradeStore = (*LiveTradeStore)(nil)

const liveTradeSelectCols = `request_id, COALESCE(venue_order_id, ''), opportunity_id,
	market_id, venue, COALESCE(token_id, ''), side, requested_amount, max_price,
	status, filled_amount, fill_price, fees, COALESCE(error_message, ''),
	created_at, updated_at`

func scanLiveTradeRow(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.RequestID, &o.VenueOrderID, &o.OpportunityID,
		&o.MarketID, &o.Venue, &o.TokenID, &o.Side,
		&o.RequestedAmount, &o.MaxPrice, &o.Status,
		&o.FilledAmount, &o.FillPrice, &o.Fees, &o.ErrorMessage,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = o.RequestID
	return o, nil
}

// InsertPending is the write-ahead step. The insert and the
// duplicate-detection read happen in one statement so two concurrent callers
// with the same request_id cannot both observe inserted=true.
func (s *LiveTradeStore) InsertPending(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	const query = `
		INSERT INTO live_trades (
			request_id, opportunity_id, market_id, venue, token_id, side,
			requested_amount, max_price, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''), $6,
			$7, $8, $9, $10, $10
		) ON CONFLICT (request_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		o.RequestID, o.OpportunityID, o.MarketID, o.Venue, o.TokenID, o.Side,
		o.RequestedAmount, o.MaxPrice, o.Status, o.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("postgres: insert pending order: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return o, true, nil
	}

	existing, err := s.GetByRequestID(ctx, o.RequestID)
	if err != nil {
		return domain.Order{}, false, err
	}
	return existing, false, nil
}

// UpdateOutcome records the final (or refreshed) venue-side state of an order.
func (s *LiveTradeStore) UpdateOutcome(ctx context.Context, o domain.Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE live_trades
		SET venue_order_id = NULLIF($2, ''),
		    status = $3,
		    filled_amount = $4,
		    fill_price = $5,
		    fees = $6,
		    error_message = NULLIF($7, ''),
		    updated_at = $8
		WHERE request_id = $1`,
		o.RequestID, o.VenueOrderID, o.Status,
		o.FilledAmount, o.FillPrice, o.Fees, o.ErrorMessage, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order outcome %s: %w", o.RequestID, domain.ErrNotFound)
	}
	return nil
}

// GetByRequestID fetches the recorded order for a request_id.
func (s *LiveTradeStore) GetByRequestID(ctx context.Context, requestID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+liveTradeSelectCols+` FROM live_trades WHERE request_id = $1`,
		requestID,
	)
	o, err := scanLiveTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", requestID, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by request id: %w", err)
	}
	return o, nil
}

// ListSince returns live orders created at or after the given time.
func (s *LiveTradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+liveTradeSelectCols+` FROM live_trades
		 WHERE created_at >= $1 ORDER BY created_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders since: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanLiveTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
