package engine

import (
	"sync"

	"github.com/tradeloop/riskgate/internal/schema"
)

// Match pairs a resting order with the exit leg a tick triggered.
type Match struct {
	Order *schema.Order
	Leg   schema.LegKind
}

// TickRouter indexes working orders by symbol and resolves which exit legs a
// tick triggers. Each symbol has its own critical section, so ticks for
// disjoint symbols match in parallel while same-symbol matching and removal
// stay serialized. Removal happens inside that critical section, which is
// what makes the two legs of a bracket mutually exclusive and makes
// cancel-versus-fill a first-transition-wins race.
type TickRouter struct {
	mu      sync.Mutex
	symbols map[string]*symbolBook
}

// symbolBook holds the orders resting for one symbol.
type symbolBook struct {
	mu      sync.Mutex
	resting map[string]*schema.Order
}

// NewTickRouter creates an empty router.
func NewTickRouter() *TickRouter {
	return &TickRouter{symbols: make(map[string]*symbolBook)}
}

// book returns the symbol's book, creating it on first use.
func (r *TickRouter) book(symbol string) *symbolBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.symbols[symbol]
	if !ok {
		b = &symbolBook{resting: make(map[string]*schema.Order)}
		r.symbols[symbol] = b
	}
	return b
}

// peek returns the symbol's book without creating one.
func (r *TickRouter) peek(symbol string) *symbolBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbols[symbol]
}

// Register starts resting an order's exit legs against the tick stream. The
// router keeps its own clone so later mutations by callers cannot tear a
// concurrent match.
func (r *TickRouter) Register(order *schema.Order) {
	b := r.book(order.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resting[order.ID] = order.Clone()
}

// Remove withdraws an order from the stream. It reports whether the order
// was still resting; false means a tick already claimed it.
func (r *TickRouter) Remove(symbol, orderID string) bool {
	b := r.peek(symbol)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, resting := b.resting[orderID]; !resting {
		return false
	}
	delete(b.resting, orderID)
	return true
}

// Resting reports how many orders currently rest for a symbol.
func (r *TickRouter) Resting(symbol string) int {
	b := r.peek(symbol)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resting)
}

// Match returns every order the tick triggers and removes them from the
// index in the same step. When a gap tick satisfies both legs at once the
// protective stop wins.
func (r *TickRouter) Match(tick schema.Tick) []Match {
	b := r.peek(tick.Symbol)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var matches []Match
	for id, order := range b.resting {
		leg, ok := triggeredLeg(order, tick)
		if !ok {
			continue
		}
		delete(b.resting, id)
		matches = append(matches, Match{Order: order, Leg: leg})
	}
	return matches
}

// triggeredLeg evaluates the bracket's exit triggers against a tick. Trigger
// comparisons are inclusive: a tick exactly at the trigger price fills.
func triggeredLeg(order *schema.Order, tick schema.Tick) (schema.LegKind, bool) {
	stop := order.Leg(schema.LegStop)
	target := order.Leg(schema.LegTarget)

	var stopHit, targetHit bool
	switch order.Side {
	case schema.SideBuy:
		stopHit = stop != nil && tick.Price.LessThanOrEqual(stop.TriggerPrice)
		targetHit = target != nil && tick.Price.GreaterThanOrEqual(target.TriggerPrice)
	case schema.SideSell:
		stopHit = stop != nil && tick.Price.GreaterThanOrEqual(stop.TriggerPrice)
		targetHit = target != nil && tick.Price.LessThanOrEqual(target.TriggerPrice)
	}

	switch {
	case stopHit:
		return schema.LegStop, true
	case targetHit:
		return schema.LegTarget, true
	default:
		return "", false
	}
}
