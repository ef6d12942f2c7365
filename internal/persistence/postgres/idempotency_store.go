package postgres

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/persistence"
)

type idempotencyStore Store

const (
	idempotencyUpsertSQL = `
INSERT INTO idempotency_keys (key, fingerprint, order_id, stored_at)
VALUES (@key, @fingerprint, @order_id, @stored_at)
ON CONFLICT (key) DO UPDATE SET
    fingerprint = EXCLUDED.fingerprint,
    order_id = EXCLUDED.order_id,
    stored_at = EXCLUDED.stored_at;
`

	idempotencySelectSQL = `
SELECT key, fingerprint, order_id::text, stored_at
FROM idempotency_keys
WHERE key = @key;
`

	idempotencyDeleteSQL = `DELETE FROM idempotency_keys WHERE stored_at < @before;`
)

func (s *idempotencyStore) GetRecord(ctx context.Context, key string) (persistence.IdempotencyRecord, bool, error) {
	var record persistence.IdempotencyRecord
	err := s.pool.QueryRow(ctx, idempotencySelectSQL, pgx.NamedArgs{"key": key}).
		Scan(&record.Key, &record.Fingerprint, &record.OrderID, &record.StoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.IdempotencyRecord{}, false, nil
		}
		return persistence.IdempotencyRecord{}, false, wrapErr("store/idempotency", err)
	}
	return record, true, nil
}

func (s *idempotencyStore) PutRecord(ctx context.Context, record persistence.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx, idempotencyUpsertSQL, pgx.NamedArgs{
		"key":         record.Key,
		"fingerprint": record.Fingerprint,
		"order_id":    record.OrderID,
		"stored_at":   record.StoredAt,
	})
	if err != nil {
		return wrapErr("store/idempotency", err)
	}
	return nil
}

func (s *idempotencyStore) DeleteExpired(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, idempotencyDeleteSQL, pgx.NamedArgs{"before": before}); err != nil {
		return wrapErr("store/idempotency", err)
	}
	return nil
}

type limitsStore Store

const (
	limitsUpsertSQL = `
INSERT INTO account_limits (account, limits, updated_at)
VALUES (@account, @limits::jsonb, @updated_at)
ON CONFLICT (account) DO UPDATE SET
    limits = EXCLUDED.limits,
    updated_at = EXCLUDED.updated_at;
`

	limitsSelectSQL = `SELECT limits FROM account_limits WHERE account = @account;`
)

func (s *limitsStore) LoadLimits(ctx context.Context, account string) (config.Limits, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, limitsSelectSQL, pgx.NamedArgs{"account": account}).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return config.Limits{}, false, nil
		}
		return config.Limits{}, false, wrapErr("store/limits", err)
	}
	var limits config.Limits
	if err := json.Unmarshal(raw, &limits); err != nil {
		return config.Limits{}, false, errs.New("store/limits", errs.CodeUnavailable,
			errs.WithMessage("corrupt limits column"), errs.WithCause(err))
	}
	return limits, true, nil
}

func (s *limitsStore) SaveLimits(ctx context.Context, account string, limits config.Limits) error {
	raw, err := json.Marshal(limits)
	if err != nil {
		return errs.New("store/limits", errs.CodeInvalid,
			errs.WithMessage("encode limits"), errs.WithCause(err))
	}
	_, err = s.pool.Exec(ctx, limitsUpsertSQL, pgx.NamedArgs{
		"account":    account,
		"limits":     string(raw),
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return wrapErr("store/limits", err)
	}
	return nil
}
