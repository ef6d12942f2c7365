package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/schema"
)

// Broker executes entry orders against a venue. The paper broker simulates
// execution locally; a live broker would forward to a real venue.
type Broker interface {
	Name() string
	// SubmitEntry executes the entry side of a bracket and returns the
	// resulting fill.
	SubmitEntry(ctx context.Context, order *schema.Order, now time.Time) (schema.Fill, error)
	// CancelEntry withdraws a not-yet-filled entry at the venue.
	CancelEntry(ctx context.Context, order *schema.Order) error
	// MarkPrice reports the venue's last observed price for a symbol.
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TickObserver is implemented by brokers that derive their marks from the
// local tick stream instead of a venue feed. The engine forwards every
// validated tick to an observing broker.
type TickObserver interface {
	ObserveTick(tick schema.Tick)
}

// PaperBroker fills entries immediately at the submitted entry price. Exit
// legs are never sent anywhere; they rest locally against the tick stream,
// which also drives the broker's marks.
type PaperBroker struct {
	mu    sync.RWMutex
	marks map[string]decimal.Decimal
}

// NewPaperBroker creates a paper broker with no price history.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{marks: make(map[string]decimal.Decimal)}
}

// Name implements Broker.
func (*PaperBroker) Name() string { return "paper" }

// SubmitEntry implements Broker. The simulated entry executes at the order's
// own entry price with no slippage.
func (b *PaperBroker) SubmitEntry(_ context.Context, order *schema.Order, now time.Time) (schema.Fill, error) {
	b.mu.Lock()
	b.marks[order.Symbol] = order.EntryPrice
	b.mu.Unlock()
	return schema.Fill{
		ID:       uuid.NewString(),
		OrderID:  order.ID,
		Account:  order.Account,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    order.EntryPrice,
		Outcome:  schema.OutcomeEntry,
		At:       now,
	}, nil
}

// CancelEntry implements Broker. Paper entries fill synchronously, so there
// is never an entry left to cancel.
func (*PaperBroker) CancelEntry(context.Context, *schema.Order) error { return nil }

// MarkPrice implements Broker from the prices seen so far.
func (b *PaperBroker) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mark, ok := b.marks[symbol]
	if !ok {
		return decimal.Zero, errs.New("broker/paper", errs.CodeNotFound,
			errs.WithMessage("no price observed for symbol"), errs.WithField("symbol", symbol))
	}
	return mark, nil
}

// ObserveTick implements TickObserver.
func (b *PaperBroker) ObserveTick(tick schema.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[tick.Symbol] = tick.Price
}

// LiveBrokerStub reserves the live execution slot. Every call fails until a
// venue adapter is wired in.
type LiveBrokerStub struct{}

// Name implements Broker.
func (LiveBrokerStub) Name() string { return "live" }

// SubmitEntry implements Broker.
func (LiveBrokerStub) SubmitEntry(context.Context, *schema.Order, time.Time) (schema.Fill, error) {
	return schema.Fill{}, errs.New("broker/live", errs.CodeUnavailable,
		errs.WithMessage("live execution is not configured"))
}

// CancelEntry implements Broker.
func (LiveBrokerStub) CancelEntry(context.Context, *schema.Order) error {
	return errs.New("broker/live", errs.CodeUnavailable,
		errs.WithMessage("live execution is not configured"))
}

// MarkPrice implements Broker.
func (LiveBrokerStub) MarkPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errs.New("broker/live", errs.CodeUnavailable,
		errs.WithMessage("live execution is not configured"))
}
