// Package memory provides the in-memory persistence used by paper
// deployments and tests. It honours the same contracts as the Postgres
// store, including read-your-writes within an account.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/schema"
)

// Store is an in-memory implementation of persistence.Store.
type Store struct {
	mu          sync.RWMutex
	orders      map[string]*schema.Order
	orderSeq    []string
	fills       map[string][]schema.Fill
	positions   map[positionKey]schema.Position
	counters    map[counterKey]schema.DailyCounters
	idempotency map[string]persistence.IdempotencyRecord
	limits      map[string]config.Limits
}

type positionKey struct{ account, symbol string }

type counterKey struct{ account, day string }

var _ persistence.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orders:      make(map[string]*schema.Order),
		fills:       make(map[string][]schema.Fill),
		positions:   make(map[positionKey]schema.Position),
		counters:    make(map[counterKey]schema.DailyCounters),
		idempotency: make(map[string]persistence.IdempotencyRecord),
		limits:      make(map[string]config.Limits),
	}
}

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

type orderStore Store

func (s *orderStore) CreateOrder(_ context.Context, order *schema.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return errs.New("store/orders", errs.CodeConflict, errs.WithMessage("order id already exists"))
	}
	s.orders[order.ID] = order.Clone()
	s.orderSeq = append(s.orderSeq, order.ID)
	return nil
}

func (s *orderStore) UpdateOrder(_ context.Context, order *schema.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; !exists {
		return errs.New("store/orders", errs.CodeNotFound, errs.WithMessage("order not found"))
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *orderStore) GetOrder(_ context.Context, id string) (*schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, errs.New("store/orders", errs.CodeNotFound, errs.WithMessage("order not found"))
	}
	return order.Clone(), nil
}

func (s *orderStore) ListOrders(_ context.Context, query persistence.OrderQuery) ([]*schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Order
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		order := s.orders[s.orderSeq[i]]
		if query.Account != "" && order.Account != query.Account {
			continue
		}
		if query.Symbol != "" && order.Symbol != query.Symbol {
			continue
		}
		if len(query.Statuses) > 0 && !statusMatches(order.Status, query.Statuses) {
			continue
		}
		out = append(out, order.Clone())
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

// CommitFill mirrors the transactional Postgres commit: fill, order, and
// position land together, and a replayed (order id, outcome) pair is a no-op.
func (s *orderStore) CommitFill(_ context.Context, order *schema.Order, fill schema.Fill, position schema.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.fills[fill.OrderID] {
		if existing.Outcome == fill.Outcome {
			return nil
		}
	}
	if _, exists := s.orders[order.ID]; !exists {
		return errs.New("store/orders", errs.CodeNotFound, errs.WithMessage("order not found"))
	}
	s.fills[fill.OrderID] = append(s.fills[fill.OrderID], fill)
	s.orders[order.ID] = order.Clone()
	s.positions[positionKey{position.Account, position.Symbol}] = position
	return nil
}

func (s *orderStore) ListFills(_ context.Context, orderID string) ([]schema.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fills := s.fills[orderID]
	out := make([]schema.Fill, len(fills))
	copy(out, fills)
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func statusMatches(status schema.OrderStatus, wanted []schema.OrderStatus) bool {
	for _, s := range wanted {
		if s == status {
			return true
		}
	}
	return false
}

type positionStore Store

func (s *positionStore) UpsertPosition(_ context.Context, position schema.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey{position.Account, position.Symbol}] = position
	return nil
}

func (s *positionStore) GetPosition(_ context.Context, account, symbol string) (schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.positions[positionKey{account, symbol}]
	if !ok {
		return schema.Position{Account: account, Symbol: symbol}, nil
	}
	return position, nil
}

func (s *positionStore) ListPositions(_ context.Context, account string) ([]schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.Position
	for key, position := range s.positions {
		if key.account == account {
			out = append(out, position)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

type counterStore Store

func (s *counterStore) GetCounters(_ context.Context, account, day string) (schema.DailyCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counters, ok := s.counters[counterKey{account, day}]
	if !ok {
		return schema.DailyCounters{Account: account, Day: day}, nil
	}
	return counters, nil
}

func (s *counterStore) PutCounters(_ context.Context, counters schema.DailyCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey{counters.Account, counters.Day}] = counters
	return nil
}

type idempotencyStore Store

func (s *idempotencyStore) GetRecord(_ context.Context, key string) (persistence.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.idempotency[key]
	return record, ok, nil
}

func (s *idempotencyStore) PutRecord(_ context.Context, record persistence.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[record.Key] = record
	return nil
}

func (s *idempotencyStore) DeleteExpired(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.idempotency {
		if record.StoredAt.Before(before) {
			delete(s.idempotency, key)
		}
	}
	return nil
}

type limitsStore Store

func (s *limitsStore) LoadLimits(_ context.Context, account string) (config.Limits, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limits, ok := s.limits[account]
	return limits, ok, nil
}

func (s *limitsStore) SaveLimits(_ context.Context, account string, limits config.Limits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[account] = limits
	return nil
}
