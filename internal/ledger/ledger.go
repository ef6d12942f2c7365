// Package ledger maintains per-symbol positions and realized PnL from the
// fill stream.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/internal/observability"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/schema"
)

// Ledger applies fills to positions. All mutations for one (account, symbol)
// pair are serialized so average entry and realized PnL never interleave.
type Ledger struct {
	positions persistence.PositionStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger over the given position store.
func New(positions persistence.PositionStore) *Ledger {
	return &Ledger{
		positions: positions,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(account, symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := account + "|" + symbol
	lock, ok := l.locks[key]
	if !ok {
		lock = new(sync.Mutex)
		l.locks[key] = lock
	}
	return lock
}

// ApplyFill folds a fill into the account position and returns the updated
// position together with the realized PnL delta the fill produced. Fills that
// extend exposure re-average the entry price; fills that reduce exposure
// realize PnL against the running average.
func (l *Ledger) ApplyFill(ctx context.Context, fill schema.Fill) (schema.Position, decimal.Decimal, error) {
	return l.ApplyFillWith(ctx, fill, func(ctx context.Context, position schema.Position, _ decimal.Decimal) error {
		return l.putPosition(ctx, position)
	})
}

// ApplyFillWith folds the fill under the position lock but delegates
// persistence to commit, which receives the folded position and the realized
// delta. The engine uses this to land the position in the same transaction
// as the fill and order rows; nothing is advanced when commit fails.
func (l *Ledger) ApplyFillWith(ctx context.Context, fill schema.Fill, commit func(context.Context, schema.Position, decimal.Decimal) error) (schema.Position, decimal.Decimal, error) {
	lock := l.lockFor(fill.Account, fill.Symbol)
	lock.Lock()
	defer lock.Unlock()

	position, err := l.getPosition(ctx, fill.Account, fill.Symbol)
	if err != nil {
		return schema.Position{}, decimal.Zero, err
	}

	position, realized := fold(position, fill)
	position.MarkPrice = fill.Price
	position.UpdatedAt = fill.At

	if err := commit(ctx, position, realized); err != nil {
		return schema.Position{}, decimal.Zero, err
	}

	observability.Telemetry().SetGauge("ledger_net_quantity", float64(position.NetQuantity),
		map[string]string{"account": fill.Account, "symbol": fill.Symbol})

	return position, realized, nil
}

// fold computes the position after a fill plus the realized delta. A fill in
// the direction of the position increases it at a volume-weighted average; a
// fill against it closes exposure first and any excess opens the other way
// at the fill price.
func fold(position schema.Position, fill schema.Fill) (schema.Position, decimal.Decimal) {
	fillQty := fill.Quantity
	fillSign := fill.Side.Sign()
	price := fill.Price

	if position.NetQuantity == 0 || sameSign(position.NetQuantity, fillSign) {
		held := decimal.NewFromInt(abs(position.NetQuantity))
		added := decimal.NewFromInt(fillQty)
		total := held.Add(added)
		position.AvgEntry = position.AvgEntry.Mul(held).Add(price.Mul(added)).Div(total)
		position.NetQuantity += fillSign * fillQty
		return position, decimal.Zero
	}

	heldQty := abs(position.NetQuantity)
	closedQty := fillQty
	if closedQty > heldQty {
		closedQty = heldQty
	}
	positionSign := decimal.NewFromInt(sign(position.NetQuantity))
	realized := price.Sub(position.AvgEntry).Mul(decimal.NewFromInt(closedQty)).Mul(positionSign)
	position.RealizedPnL = position.RealizedPnL.Add(realized)
	position.NetQuantity += fillSign * fillQty

	if position.NetQuantity == 0 {
		position.AvgEntry = decimal.Zero
	} else if !sameSign(position.NetQuantity, -fillSign) {
		// Flipped through flat; the residual opens at the fill price.
		position.AvgEntry = price
	}
	return position, realized
}

// Mark updates the last observed price on an open position without touching
// realized figures. Flat symbols are left untracked.
func (l *Ledger) Mark(ctx context.Context, account string, tick schema.Tick) error {
	lock := l.lockFor(account, tick.Symbol)
	lock.Lock()
	defer lock.Unlock()

	position, err := l.getPosition(ctx, account, tick.Symbol)
	if err != nil {
		return err
	}
	if position.Flat() && position.UpdatedAt.IsZero() {
		return nil
	}
	position.MarkPrice = tick.Price
	if tick.At.After(position.UpdatedAt) {
		position.UpdatedAt = tick.At
	} else {
		position.UpdatedAt = time.Now().UTC()
	}
	return l.putPosition(ctx, position)
}

// Position returns the current position for a symbol, zero-valued when the
// symbol has never traded.
func (l *Ledger) Position(ctx context.Context, account, symbol string) (schema.Position, error) {
	return l.getPosition(ctx, account, symbol)
}

// Positions lists all tracked positions for an account.
func (l *Ledger) Positions(ctx context.Context, account string) ([]schema.Position, error) {
	var out []schema.Position
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.positions.ListPositions(ctx, account)
		return err
	})
	return out, err
}

func (l *Ledger) getPosition(ctx context.Context, account, symbol string) (schema.Position, error) {
	var position schema.Position
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		position, err = l.positions.GetPosition(ctx, account, symbol)
		return err
	})
	return position, err
}

func (l *Ledger) putPosition(ctx context.Context, position schema.Position) error {
	return persistence.Retry(ctx, func(ctx context.Context) error {
		return l.positions.UpsertPosition(ctx, position)
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func sameSign(net int64, fillSign int64) bool {
	return (net > 0 && fillSign > 0) || (net < 0 && fillSign < 0)
}
