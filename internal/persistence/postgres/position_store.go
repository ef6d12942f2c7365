package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradeloop/riskgate/internal/schema"
)

type positionStore Store

const (
	positionUpsertSQL = `
INSERT INTO positions (
    account,
    symbol,
    net_quantity,
    avg_entry,
    realized_pnl,
    mark_price,
    updated_at
)
VALUES (
    @account,
    @symbol,
    @net_quantity,
    @avg_entry,
    @realized_pnl,
    @mark_price,
    @updated_at
)
ON CONFLICT (account, symbol) DO UPDATE SET
    net_quantity = EXCLUDED.net_quantity,
    avg_entry = EXCLUDED.avg_entry,
    realized_pnl = EXCLUDED.realized_pnl,
    mark_price = EXCLUDED.mark_price,
    updated_at = EXCLUDED.updated_at;
`

	positionSelectSQL = `
SELECT
    p.account,
    p.symbol,
    p.net_quantity,
    p.avg_entry::text,
    p.realized_pnl::text,
    p.mark_price::text,
    p.updated_at
FROM positions p
`
)

func (s *positionStore) UpsertPosition(ctx context.Context, position schema.Position) error {
	_, err := s.pool.Exec(ctx, positionUpsertSQL, pgx.NamedArgs{
		"account":      position.Account,
		"symbol":       position.Symbol,
		"net_quantity": position.NetQuantity,
		"avg_entry":    position.AvgEntry.String(),
		"realized_pnl": position.RealizedPnL.String(),
		"mark_price":   position.MarkPrice.String(),
		"updated_at":   position.UpdatedAt,
	})
	if err != nil {
		return wrapErr("store/positions", err)
	}
	return nil
}

func (s *positionStore) GetPosition(ctx context.Context, account, symbol string) (schema.Position, error) {
	row := s.pool.QueryRow(ctx, positionSelectSQL+"WHERE p.account = @account AND p.symbol = @symbol;",
		pgx.NamedArgs{"account": account, "symbol": symbol})
	position, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Position{Account: account, Symbol: symbol}, nil
		}
		return schema.Position{}, err
	}
	return position, nil
}

func (s *positionStore) ListPositions(ctx context.Context, account string) ([]schema.Position, error) {
	rows, err := s.pool.Query(ctx, positionSelectSQL+"WHERE p.account = @account ORDER BY p.symbol;",
		pgx.NamedArgs{"account": account})
	if err != nil {
		return nil, wrapErr("store/positions", err)
	}
	defer rows.Close()

	var out []schema.Position
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, position)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("store/positions", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (schema.Position, error) {
	var position schema.Position
	var avgEntry, realized, markPrice string
	var updatedAt time.Time
	if err := row.Scan(&position.Account, &position.Symbol, &position.NetQuantity,
		&avgEntry, &realized, &markPrice, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Position{}, err
		}
		return schema.Position{}, wrapErr("store/positions", err)
	}
	position.UpdatedAt = updatedAt

	var err error
	if position.AvgEntry, err = parseDecimal("store/positions", avgEntry); err != nil {
		return schema.Position{}, err
	}
	if position.RealizedPnL, err = parseDecimal("store/positions", realized); err != nil {
		return schema.Position{}, err
	}
	if position.MarkPrice, err = parseDecimal("store/positions", markPrice); err != nil {
		return schema.Position{}, err
	}
	return position, nil
}
