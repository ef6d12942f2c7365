package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/schema"
)

type orderStore Store

const (
	orderInsertSQL = `
INSERT INTO orders (
    id,
    account,
    symbol,
    side,
    quantity,
    order_type,
    entry_price,
    status,
    legs,
    entered_at,
    is_backfill,
    source,
    rejected_for,
    created_at,
    updated_at,
    closed_at
)
VALUES (
    @id,
    @account,
    @symbol,
    @side,
    @quantity,
    @order_type,
    @entry_price,
    @status,
    @legs::jsonb,
    @entered_at,
    @is_backfill,
    @source,
    @rejected_for,
    @created_at,
    @updated_at,
    @closed_at
);
`

	orderUpdateSQL = `
UPDATE orders
SET status = @status,
    legs = @legs::jsonb,
    updated_at = @updated_at,
    closed_at = @closed_at
WHERE id = @id;
`

	orderSelectBase = `
SELECT
    o.id::text,
    o.account,
    o.symbol,
    o.side,
    o.quantity,
    o.order_type,
    o.entry_price::text,
    o.status,
    o.legs,
    o.entered_at,
    o.is_backfill,
    o.source,
    o.rejected_for,
    o.created_at,
    o.updated_at,
    o.closed_at
FROM orders o
`

	fillInsertSQL = `
INSERT INTO fills (
    id,
    order_id,
    account,
    symbol,
    side,
    quantity,
    price,
    outcome,
    realized_pnl,
    filled_at
)
VALUES (
    @id,
    @order_id,
    @account,
    @symbol,
    @side,
    @quantity,
    @price,
    @outcome,
    @realized_pnl,
    @filled_at
)
ON CONFLICT (order_id, outcome) DO NOTHING;
`

	fillSelectSQL = `
SELECT
    f.id::text,
    f.order_id::text,
    f.account,
    f.symbol,
    f.side,
    f.quantity,
    f.price::text,
    f.outcome,
    f.realized_pnl::text,
    f.filled_at
FROM fills f
WHERE f.order_id = @order_id
ORDER BY f.filled_at ASC;
`

	defaultOrderLimit = 50
	maxOrderLimit     = 500
)

func (s *orderStore) CreateOrder(ctx context.Context, order *schema.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errs.New("store/orders", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, orderInsertSQL, args); err != nil {
		return wrapErr("store/orders", err)
	}
	return nil
}

func (s *orderStore) UpdateOrder(ctx context.Context, order *schema.Order) error {
	legs, err := encodeLegs(order.Legs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, orderUpdateSQL, pgx.NamedArgs{
		"id":         order.ID,
		"status":     string(order.Status),
		"legs":       legs,
		"updated_at": order.UpdatedAt,
		"closed_at":  order.ClosedAt,
	})
	if err != nil {
		return wrapErr("store/orders", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("store/orders", errs.CodeNotFound, errs.WithMessage("order not found"))
	}
	return nil
}

func (s *orderStore) GetOrder(ctx context.Context, id string) (*schema.Order, error) {
	row := s.pool.QueryRow(ctx, orderSelectBase+"WHERE o.id = @id;", pgx.NamedArgs{"id": id})
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderStore) ListOrders(ctx context.Context, query persistence.OrderQuery) ([]*schema.Order, error) {
	var clauses []string
	args := pgx.NamedArgs{}
	if query.Account != "" {
		clauses = append(clauses, "o.account = @account")
		args["account"] = query.Account
	}
	if query.Symbol != "" {
		clauses = append(clauses, "o.symbol = @symbol")
		args["symbol"] = query.Symbol
	}
	if len(query.Statuses) > 0 {
		statuses := make([]string, len(query.Statuses))
		for i, status := range query.Statuses {
			statuses[i] = string(status)
		}
		clauses = append(clauses, "o.status = ANY(@statuses)")
		args["statuses"] = statuses
	}

	sql := orderSelectBase
	if len(clauses) > 0 {
		sql += "WHERE " + strings.Join(clauses, " AND ") + "\n"
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultOrderLimit
	}
	if limit > maxOrderLimit {
		limit = maxOrderLimit
	}
	sql += fmt.Sprintf("ORDER BY o.created_at DESC LIMIT %d;", limit)

	rows, err := s.pool.Query(ctx, sql, args)
	if err != nil {
		return nil, wrapErr("store/orders", err)
	}
	defer rows.Close()

	var out []*schema.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("store/orders", err)
	}
	return out, nil
}

// CommitFill lands the fill, the order row it advances, and the folded
// position in a single transaction. The unique (order_id, outcome) key makes
// a replayed commit a no-op, so a fill can never apply twice.
func (s *orderStore) CommitFill(ctx context.Context, order *schema.Order, fill schema.Fill, position schema.Position) error {
	legs, err := encodeLegs(order.Legs)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fillInsertSQL, pgx.NamedArgs{
			"id":           fill.ID,
			"order_id":     fill.OrderID,
			"account":      fill.Account,
			"symbol":       fill.Symbol,
			"side":         string(fill.Side),
			"quantity":     fill.Quantity,
			"price":        fill.Price.String(),
			"outcome":      string(fill.Outcome),
			"realized_pnl": fill.RealizedPnL.String(),
			"filled_at":    fill.At,
		})
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// A previous attempt already committed this fill, and with it
			// the order and position rows. Nothing left to do.
			return nil
		}
		tag, err = tx.Exec(ctx, orderUpdateSQL, pgx.NamedArgs{
			"id":         order.ID,
			"status":     string(order.Status),
			"legs":       legs,
			"updated_at": order.UpdatedAt,
			"closed_at":  order.ClosedAt,
		})
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		_, err = tx.Exec(ctx, positionUpsertSQL, pgx.NamedArgs{
			"account":      position.Account,
			"symbol":       position.Symbol,
			"net_quantity": position.NetQuantity,
			"avg_entry":    position.AvgEntry.String(),
			"realized_pnl": position.RealizedPnL.String(),
			"mark_price":   position.MarkPrice.String(),
			"updated_at":   position.UpdatedAt,
		})
		return err
	})
	if err != nil {
		return wrapErr("store/fills", err)
	}
	return nil
}

func (s *orderStore) ListFills(ctx context.Context, orderID string) ([]schema.Fill, error) {
	rows, err := s.pool.Query(ctx, fillSelectSQL, pgx.NamedArgs{"order_id": orderID})
	if err != nil {
		return nil, wrapErr("store/fills", err)
	}
	defer rows.Close()

	var out []schema.Fill
	for rows.Next() {
		var fill schema.Fill
		var side, price, realized string
		if err := rows.Scan(&fill.ID, &fill.OrderID, &fill.Account, &fill.Symbol,
			&side, &fill.Quantity, &price, (*string)(&fill.Outcome), &realized, &fill.At); err != nil {
			return nil, wrapErr("store/fills", err)
		}
		fill.Side = schema.Side(side)
		if fill.Price, err = parseDecimal("store/fills", price); err != nil {
			return nil, err
		}
		if fill.RealizedPnL, err = parseDecimal("store/fills", realized); err != nil {
			return nil, err
		}
		out = append(out, fill)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("store/fills", err)
	}
	return out, nil
}

func orderArgs(order *schema.Order) (pgx.NamedArgs, error) {
	legs, err := encodeLegs(order.Legs)
	if err != nil {
		return nil, err
	}
	return pgx.NamedArgs{
		"id":           order.ID,
		"account":      order.Account,
		"symbol":       order.Symbol,
		"side":         string(order.Side),
		"quantity":     order.Quantity,
		"order_type":   string(order.OrderType),
		"entry_price":  order.EntryPrice.String(),
		"status":       string(order.Status),
		"legs":         legs,
		"entered_at":   order.EnteredAt,
		"is_backfill":  order.IsBackfill,
		"source":       order.Source,
		"rejected_for": order.RejectedFor,
		"created_at":   order.CreatedAt,
		"updated_at":   order.UpdatedAt,
		"closed_at":    order.ClosedAt,
	}, nil
}

func encodeLegs(legs []schema.Leg) (string, error) {
	if legs == nil {
		legs = []schema.Leg{}
	}
	raw, err := json.Marshal(legs)
	if err != nil {
		return "", errs.New("store/orders", errs.CodeInvalid,
			errs.WithMessage("encode legs"), errs.WithCause(err))
	}
	return string(raw), nil
}

func scanOrder(row pgx.Row) (*schema.Order, error) {
	var order schema.Order
	var side, orderType, status, entryPrice string
	var legsRaw []byte
	var closedAt *time.Time
	err := row.Scan(&order.ID, &order.Account, &order.Symbol, &side, &order.Quantity,
		&orderType, &entryPrice, &status, &legsRaw, &order.EnteredAt, &order.IsBackfill,
		&order.Source, &order.RejectedFor, &order.CreatedAt, &order.UpdatedAt, &closedAt)
	if err != nil {
		return nil, wrapErr("store/orders", err)
	}
	order.Side = schema.Side(side)
	order.OrderType = schema.OrderType(orderType)
	order.Status = schema.OrderStatus(status)
	order.ClosedAt = closedAt
	if order.EntryPrice, err = parseDecimal("store/orders", entryPrice); err != nil {
		return nil, err
	}
	if len(legsRaw) > 0 {
		if err := json.Unmarshal(legsRaw, &order.Legs); err != nil {
			return nil, errs.New("store/orders", errs.CodeUnavailable,
				errs.WithMessage("corrupt legs column"), errs.WithCause(err))
		}
	}
	return &order, nil
}
