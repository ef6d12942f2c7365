package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
)

// Tick is a single price observation for a symbol, the sole driver of
// simulated fills.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// Validate ensures the tick is well-formed.
func (t Tick) Validate() error {
	if err := ValidateSymbol(t.Symbol); err != nil {
		return err
	}
	if t.Price.LessThanOrEqual(decimal.Zero) {
		return errs.New("schema/tick", errs.CodeInvalid, errs.WithMessage("tick price must be positive"))
	}
	return nil
}

// FillOutcome records which trigger produced the fill.
type FillOutcome string

const (
	// OutcomeStop marks a protective stop exit.
	OutcomeStop FillOutcome = "STOP"
	// OutcomeTarget marks a take-profit exit.
	OutcomeTarget FillOutcome = "TARGET"
	// OutcomeEntry marks the simulated entry execution of a bracket.
	OutcomeEntry FillOutcome = "ENTRY"
)

// Fill is produced when a tick crosses a resting trigger. The fill price is
// the triggering tick price, not the theoretical trigger price, so gap risk
// is preserved rather than smoothed.
type Fill struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Account     string          `json:"account"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Outcome     FillOutcome     `json:"outcome"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	At          time.Time       `json:"at"`
}
