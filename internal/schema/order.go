// Package schema defines the canonical order, tick, and position types shared
// across the riskgate trading core.
package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
)

// Side identifies the direction of an order.
type Side string

const (
	// SideBuy opens or extends a long position.
	SideBuy Side = "BUY"
	// SideSell opens or extends a short position.
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Validate reports whether the side is a known value.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return errs.New("schema/side", errs.CodeInvalid, errs.WithMessage("side must be BUY or SELL"))
	}
}

// OrderType identifies how the entry price is interpreted.
type OrderType string

const (
	// TypeMarket enters at the submitted reference price immediately.
	TypeMarket OrderType = "MARKET"
	// TypeLimit enters at the submitted limit price.
	TypeLimit OrderType = "LIMIT"
)

// OrderStatus tracks the order lifecycle. Transitions are forward-only and
// terminal states are immutable.
type OrderStatus string

const (
	// StatusPending marks an accepted order not yet resting.
	StatusPending OrderStatus = "PENDING"
	// StatusWorking marks an order resting and awaiting a qualifying tick.
	StatusWorking OrderStatus = "WORKING"
	// StatusFilled marks a terminal filled order.
	StatusFilled OrderStatus = "FILLED"
	// StatusCancelled marks a terminal cancelled order.
	StatusCancelled OrderStatus = "CANCELLED"
	// StatusRejected marks a terminal rejected order.
	StatusRejected OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// LegKind distinguishes the two exit triggers of a bracket.
type LegKind string

const (
	// LegStop is the protective stop-exit trigger.
	LegStop LegKind = "STOP"
	// LegTarget is the take-profit exit trigger.
	LegTarget LegKind = "TARGET"
)

// symbolPattern matches futures roots and simple equity tickers.
var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)

// ValidateSymbol ensures the symbol conforms to the allowed-instrument shape.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(strings.TrimSpace(symbol)) {
		return errs.New("schema/symbol", errs.CodeInvalid,
			errs.WithMessage("symbol must be 1-10 uppercase alphanumerics"),
			errs.WithField("symbol", symbol))
	}
	return nil
}

// BackfillThreshold is how far in the past entered_at must lie before a
// submission is inferred to be a backfill.
const BackfillThreshold = time.Hour

// OrderRequest is a trade intent as delivered by the transport layer.
type OrderRequest struct {
	IdempotencyKey string           `json:"idempotency_key"`
	Account        string           `json:"account"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	Quantity       int64            `json:"quantity"`
	OrderType      OrderType        `json:"order_type"`
	EntryPrice     decimal.Decimal  `json:"entry_price"`
	StopPrice      decimal.Decimal  `json:"stop_price"`
	TargetPrice    *decimal.Decimal `json:"target_price,omitempty"`
	EnteredAt      *time.Time       `json:"entered_at,omitempty"`
	IsBackfill     *bool            `json:"is_backfill,omitempty"`
	Source         string           `json:"source,omitempty"`
	Confidence     *float64         `json:"confidence,omitempty"`
}

// Validate enforces structural invariants before any state mutation. now is
// the submission instant used for future-entry and backfill checks.
func (r OrderRequest) Validate(now time.Time) error {
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("idempotency key required"))
	}
	if err := ValidateSymbol(r.Symbol); err != nil {
		return err
	}
	if err := r.Side.Validate(); err != nil {
		return err
	}
	if r.Quantity <= 0 {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("quantity must be a positive integer"))
	}
	if r.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("entry price must be positive"))
	}
	if r.StopPrice.Equal(r.EntryPrice) {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("stop price must differ from entry price"))
	}
	switch r.Side {
	case SideBuy:
		if r.StopPrice.GreaterThanOrEqual(r.EntryPrice) {
			return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("buy bracket requires stop < entry"))
		}
		if r.TargetPrice != nil && r.TargetPrice.LessThanOrEqual(r.EntryPrice) {
			return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("buy bracket requires target > entry"))
		}
	case SideSell:
		if r.StopPrice.LessThanOrEqual(r.EntryPrice) {
			return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("sell bracket requires stop > entry"))
		}
		if r.TargetPrice != nil && r.TargetPrice.GreaterThanOrEqual(r.EntryPrice) {
			return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("sell bracket requires target < entry"))
		}
	}
	if r.EnteredAt != nil && r.EnteredAt.After(now) {
		return errs.New("schema/order", errs.CodeInvalid,
			errs.WithReason(errs.ReasonFutureEntry),
			errs.WithMessage("entered_at must not be in the future"))
	}
	return nil
}

// ResolveEnteredAt returns the effective entry timestamp and the backfill
// flag, inferring is_backfill when entered_at is materially earlier than the
// submission time and the caller did not set the flag explicitly.
func (r OrderRequest) ResolveEnteredAt(now time.Time) (time.Time, bool) {
	enteredAt := now
	if r.EnteredAt != nil {
		enteredAt = *r.EnteredAt
	}
	if r.IsBackfill != nil {
		return enteredAt, *r.IsBackfill
	}
	return enteredAt, now.Sub(enteredAt) > BackfillThreshold
}

// Leg is one of the two exit triggers owned by a bracket order. Legs share
// the parent's symbol and quantity.
type Leg struct {
	Kind         LegKind         `json:"kind"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Status       OrderStatus     `json:"status"`
}

// Order is the authoritative bracket order record.
type Order struct {
	ID          string          `json:"id"`
	Account     string          `json:"account"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	OrderType   OrderType       `json:"order_type"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Status      OrderStatus     `json:"status"`
	Legs        []Leg           `json:"legs"`
	EnteredAt   time.Time       `json:"entered_at"`
	IsBackfill  bool            `json:"is_backfill"`
	Source      string          `json:"source,omitempty"`
	RejectedFor string          `json:"rejected_for,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// Notional returns the entry notional in USD, quantity times entry price.
func (o *Order) Notional() decimal.Decimal {
	return o.EntryPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// Leg returns the leg of the given kind, or nil when absent.
func (o *Order) Leg(kind LegKind) *Leg {
	for i := range o.Legs {
		if o.Legs[i].Kind == kind {
			return &o.Legs[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Legs = make([]Leg, len(o.Legs))
	copy(clone.Legs, o.Legs)
	if o.ClosedAt != nil {
		closed := *o.ClosedAt
		clone.ClosedAt = &closed
	}
	return &clone
}
