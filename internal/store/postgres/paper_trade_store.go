package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// PaperTradeStore implements domain.PaperTradeStore using PostgreSQL.
type PaperTradeStore struct {
	pool *pgxpool.Pool
}

// NewPaperTradeStore creates a PaperTradeStore backed by the given pool.
func NewPaperTradeStore(pool *pgxpool.Pool) *PaperTradeStore {
	return &PaperTradeStore{pool: pool}
}

var _ domain.PaperTradeStore = (*PaperTradeStore)(nil)

const paperTradeSelectCols = `id, opportunity_id, market_id, venue, side, outcome,
	quantity, price, fees, expected_edge, risk_approved, status,
	COALESCE(exit_price, 0), COALESCE(realized_pnl, 0), created_at`

func scanPaperTradeRows(rows pgx.Rows) ([]domain.PaperTrade, error) {
	var trades []domain.PaperTrade
	for rows.Next() {
		var t domain.PaperTrade
		if err := rows.Scan(
			&t.ID, &t.OpportunityID, &t.MarketID, &t.Venue, &t.Side,
			&t.Outcome, &t.Quantity, &t.Price, &t.Fees, &t.ExpectedEdge,
			&t.RiskApproved, &t.Status, &t.ExitPrice, &t.RealizedPnL,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert writes the trade, silently skipping duplicates on
// (opportunity_id, market_id, side) via ON CONFLICT DO NOTHING.
func (s *PaperTradeStore) Insert(ctx context.Context, t domain.PaperTrade) (bool, error) {
	const query = `
		INSERT INTO paper_trades (
			opportunity_id, market_id, venue, side, outcome,
			quantity, price, fees, expected_edge, risk_approved,
			status, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		) ON CONFLICT (opportunity_id, market_id, side) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.OpportunityID, t.MarketID, t.Venue, t.Side, t.Outcome,
		t.Quantity, t.Price, t.Fees, t.ExpectedEdge, t.RiskApproved,
		t.Status, t.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert paper trade: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByOpportunity returns all simulated fills recorded for an opportunity.
func (s *PaperTradeStore) GetByOpportunity(ctx context.Context, opportunityID string) ([]domain.PaperTrade, error) {
	query := `SELECT ` + paperTradeSelectCols + ` FROM paper_trades
		WHERE opportunity_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get paper trades by opportunity: %w", err)
	}
	defer rows.Close()

	trades, err := scanPaperTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan paper trades: %w", err)
	}
	return trades, nil
}

// ListSince returns all simulated fills created at or after the given time.
func (s *PaperTradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.PaperTrade, error) {
	query := `SELECT ` + paperTradeSelectCols + ` FROM paper_trades
		WHERE created_at >= $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paper trades since: %w", err)
	}
	defer rows.Close()

	trades, err := scanPaperTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan paper trades: %w", err)
	}
	return trades, nil
}

// UpdateExit records the close of a simulated position.
func (s *PaperTradeStore) UpdateExit(ctx context.Context, id int64, exitPrice, realizedPnL decimal.Decimal, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE paper_trades
		SET exit_price = $2, realized_pnl = $3, status = $4
		WHERE id = $1`,
		id, exitPrice, realizedPnL, status,
	)
	if err != nil {
		return fmt.Errorf("postgres: update paper trade exit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update paper trade exit %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
