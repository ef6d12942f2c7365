// Package persistence defines the durable storage contracts consumed by the
// trading core, plus the retry policy applied to transient store failures.
package persistence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/schema"
)

// OrderQuery filters order listings.
type OrderQuery struct {
	Account  string
	Symbol   string
	Statuses []schema.OrderStatus
	Limit    int
}

// OrderStore persists bracket orders and their fills.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *schema.Order) error
	UpdateOrder(ctx context.Context, order *schema.Order) error
	GetOrder(ctx context.Context, id string) (*schema.Order, error)
	ListOrders(ctx context.Context, query OrderQuery) ([]*schema.Order, error)

	// CommitFill atomically records a fill together with the order state it
	// advances and the folded position, so no reader can ever observe one
	// without the others. Fills are keyed by (order id, outcome); committing
	// the same pair again is a no-op, which makes fills single-shot across
	// retries and replayed ticks.
	CommitFill(ctx context.Context, order *schema.Order, fill schema.Fill, position schema.Position) error

	ListFills(ctx context.Context, orderID string) ([]schema.Fill, error)
}

// PositionStore persists per-symbol positions.
type PositionStore interface {
	UpsertPosition(ctx context.Context, position schema.Position) error
	GetPosition(ctx context.Context, account, symbol string) (schema.Position, error)
	ListPositions(ctx context.Context, account string) ([]schema.Position, error)
}

// CounterStore persists the per-day guardrail counters. Get returns zeroed
// counters for an unseen day so the first touch of a new trading day starts
// clean.
type CounterStore interface {
	GetCounters(ctx context.Context, account, day string) (schema.DailyCounters, error)
	PutCounters(ctx context.Context, counters schema.DailyCounters) error
}

// IdempotencyRecord is the persisted outcome of an accepted submission.
type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	OrderID     string
	StoredAt    time.Time
}

// IdempotencyStore persists idempotency outcomes across restarts.
type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	PutRecord(ctx context.Context, record IdempotencyRecord) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

// LimitsStore persists the active guardrail limits so config replacements
// survive restarts.
type LimitsStore interface {
	LoadLimits(ctx context.Context, account string) (config.Limits, bool, error)
	SaveLimits(ctx context.Context, account string, limits config.Limits) error
}

// Store aggregates the repositories backing the trading core.
type Store interface {
	Orders() OrderStore
	Positions() PositionStore
	Counters() CounterStore
	Idempotency() IdempotencyStore
	Limits() LimitsStore
}

const (
	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
	retryMaxAttempts     = 5
)

// Retry runs op, retrying with exponential backoff while the error is a
// transient store failure. Non-transient errors abort immediately.
func Retry(ctx context.Context, op func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval

	var err error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !errs.IsTransient(err) {
			return err
		}
		sleep := policy.NextBackOff()
		if sleep == backoff.Stop {
			sleep = retryMaxInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}
