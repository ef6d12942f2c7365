package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tradeloop/riskgate/internal/schema"
)

type counterStore Store

const (
	counterUpsertSQL = `
INSERT INTO daily_counters (
    account,
    day,
    trade_count,
    volume_usd,
    realized_pnl,
    halted,
    updated_at
)
VALUES (
    @account,
    @day,
    @trade_count,
    @volume_usd,
    @realized_pnl,
    @halted,
    @updated_at
)
ON CONFLICT (account, day) DO UPDATE SET
    trade_count = EXCLUDED.trade_count,
    volume_usd = EXCLUDED.volume_usd,
    realized_pnl = EXCLUDED.realized_pnl,
    halted = EXCLUDED.halted,
    updated_at = EXCLUDED.updated_at;
`

	counterSelectSQL = `
SELECT
    c.account,
    c.day,
    c.trade_count,
    c.volume_usd::text,
    c.realized_pnl::text,
    c.halted,
    c.updated_at
FROM daily_counters c
WHERE c.account = @account AND c.day = @day;
`
)

func (s *counterStore) GetCounters(ctx context.Context, account, day string) (schema.DailyCounters, error) {
	var counters schema.DailyCounters
	var volume, realized string
	err := s.pool.QueryRow(ctx, counterSelectSQL, pgx.NamedArgs{"account": account, "day": day}).
		Scan(&counters.Account, &counters.Day, &counters.TradeCount, &volume, &realized, &counters.Halted, &counters.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.DailyCounters{Account: account, Day: day}, nil
		}
		return schema.DailyCounters{}, wrapErr("store/counters", err)
	}
	if counters.VolumeUSD, err = parseDecimal("store/counters", volume); err != nil {
		return schema.DailyCounters{}, err
	}
	if counters.RealizedPnL, err = parseDecimal("store/counters", realized); err != nil {
		return schema.DailyCounters{}, err
	}
	return counters, nil
}

func (s *counterStore) PutCounters(ctx context.Context, counters schema.DailyCounters) error {
	_, err := s.pool.Exec(ctx, counterUpsertSQL, pgx.NamedArgs{
		"account":      counters.Account,
		"day":          counters.Day,
		"trade_count":  counters.TradeCount,
		"volume_usd":   counters.VolumeUSD.String(),
		"realized_pnl": counters.RealizedPnL.String(),
		"halted":       counters.Halted,
		"updated_at":   counters.UpdatedAt,
	})
	if err != nil {
		return wrapErr("store/counters", err)
	}
	return nil
}
