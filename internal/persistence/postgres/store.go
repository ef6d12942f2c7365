// Package postgres provides the PostgreSQL-backed persistence used by
// durable deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/persistence"
)

// Store exposes PostgreSQL-backed repositories over one connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ persistence.Store = (*Store)(nil)

// New constructs a store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Orders returns the order repository.
func (s *Store) Orders() persistence.OrderStore { return (*orderStore)(s) }

// Positions returns the position repository.
func (s *Store) Positions() persistence.PositionStore { return (*positionStore)(s) }

// Counters returns the daily counter repository.
func (s *Store) Counters() persistence.CounterStore { return (*counterStore)(s) }

// Idempotency returns the idempotency record repository.
func (s *Store) Idempotency() persistence.IdempotencyStore { return (*idempotencyStore)(s) }

// Limits returns the guardrail limits repository.
func (s *Store) Limits() persistence.LimitsStore { return (*limitsStore)(s) }

const (
	pgUniqueViolation  = "23505"
	pgSerializeFailure = "40001"
	pgDeadlockDetected = "40P01"
)

// wrapErr maps a database failure onto the error codes the retry policy
// understands. Connectivity and contention failures are transient; integrity
// violations are not.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.New(op, errs.CodeNotFound, errs.WithCause(err))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errs.New(op, errs.CodeConflict, errs.WithCause(err))
		case pgSerializeFailure, pgDeadlockDetected:
			return errs.New(op, errs.CodeStoreTransient, errs.WithCause(err))
		default:
			return errs.New(op, errs.CodeUnavailable, errs.WithCause(err))
		}
	}
	return errs.New(op, errs.CodeStoreTransient, errs.WithCause(err))
}

// parseDecimal converts a NUMERIC selected as text.
func parseDecimal(op, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errs.New(op, errs.CodeUnavailable,
			errs.WithMessage("corrupt numeric column"), errs.WithCause(err))
	}
	return value, nil
}
