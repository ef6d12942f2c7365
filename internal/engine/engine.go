// Package engine orchestrates order intake, paper execution, and tick-driven
// exits. It is the only writer of order state.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/events"
	"github.com/tradeloop/riskgate/internal/idempotency"
	"github.com/tradeloop/riskgate/internal/ledger"
	"github.com/tradeloop/riskgate/internal/observability"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/risk"
	"github.com/tradeloop/riskgate/internal/schema"
)

// Engine ties the guard, ledger, broker, and router into the order
// lifecycle. One engine serves one account.
type Engine struct {
	account string
	store   persistence.Store
	limits  *config.Store
	guard   *risk.Guard
	book    *ledger.Ledger
	keys    *idempotency.Guard
	broker  Broker
	router  *TickRouter
	sink    events.Sink
	metrics *observability.RuntimeMetrics

	now func() time.Time
}

// Options configures optional engine collaborators.
type Options struct {
	// Sink receives lifecycle events; nil discards them.
	Sink events.Sink
	// Metrics accumulates runtime counters; nil allocates a private set.
	Metrics *observability.RuntimeMetrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New assembles an engine for one account.
func New(account string, store persistence.Store, limits *config.Store, guard *risk.Guard, book *ledger.Ledger, keys *idempotency.Guard, broker Broker, opts Options) *Engine {
	e := &Engine{
		account: account,
		store:   store,
		limits:  limits,
		guard:   guard,
		book:    book,
		keys:    keys,
		broker:  broker,
		router:  NewTickRouter(),
		sink:    opts.Sink,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if e.sink == nil {
		e.sink = events.NopSink{}
	}
	if e.metrics == nil {
		e.metrics = observability.NewRuntimeMetrics()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Metrics exposes the engine's runtime counters.
func (e *Engine) Metrics() *observability.RuntimeMetrics { return e.metrics }

// Restore re-registers every durable working order with the tick router.
// Run it once at startup before the tick feed connects.
func (e *Engine) Restore(ctx context.Context) error {
	var working []*schema.Order
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		working, err = e.store.Orders().ListOrders(ctx, persistence.OrderQuery{
			Account:  e.account,
			Statuses: []schema.OrderStatus{schema.StatusWorking},
		})
		return err
	})
	if err != nil {
		return err
	}
	for _, order := range working {
		e.router.Register(order)
	}
	if len(working) > 0 {
		observability.Log().Info("restored working orders",
			observability.F("account", e.account), observability.F("count", len(working)))
	}
	return nil
}

// Submit runs a trade intent through idempotency, validation, and the
// guardrails, then executes the entry and rests the exit legs. Retries with
// the same key return the original order with duplicate=true.
func (e *Engine) Submit(ctx context.Context, req schema.OrderRequest) (*schema.Order, bool, error) {
	fingerprint, err := idempotency.Fingerprint(req)
	if err != nil {
		return nil, false, errs.New("engine/submit", errs.CodeInvalid,
			errs.WithMessage("request could not be fingerprinted"), errs.WithCause(err))
	}

	orderID, duplicate, err := e.keys.Submit(ctx, req.IdempotencyKey, fingerprint, func(ctx context.Context) (string, error) {
		order, err := e.accept(ctx, req)
		if err != nil {
			return "", err
		}
		return order.ID, nil
	})
	if err != nil {
		return nil, false, err
	}

	order, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return order, duplicate, nil
}

// accept performs the non-idempotent part of a submission exactly once.
func (e *Engine) accept(ctx context.Context, req schema.OrderRequest) (*schema.Order, error) {
	now := e.now()
	if err := req.Validate(now); err != nil {
		e.metrics.RecordRejected(string(errs.ReasonOf(err)))
		return nil, err
	}
	if err := e.guard.Check(ctx, req, now); err != nil {
		if errs.CodeOf(err) == errs.CodeGuardrail {
			e.recordRejection(ctx, req, now, errs.ReasonOf(err))
		}
		return nil, err
	}

	enteredAt, backfill := req.ResolveEnteredAt(now)
	order := &schema.Order{
		ID:         uuid.NewString(),
		Account:    e.account,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		OrderType:  req.OrderType,
		EntryPrice: req.EntryPrice,
		Status:     schema.StatusPending,
		EnteredAt:  enteredAt,
		IsBackfill: backfill,
		Source:     req.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if order.OrderType == "" {
		order.OrderType = schema.TypeMarket
	}
	order.Legs = append(order.Legs, schema.Leg{
		Kind: schema.LegStop, TriggerPrice: req.StopPrice, Status: schema.StatusPending,
	})
	if req.TargetPrice != nil {
		order.Legs = append(order.Legs, schema.Leg{
			Kind: schema.LegTarget, TriggerPrice: *req.TargetPrice, Status: schema.StatusPending,
		})
	}

	if err := persistence.Retry(ctx, func(ctx context.Context) error {
		return e.store.Orders().CreateOrder(ctx, order)
	}); err != nil {
		return nil, err
	}
	if err := e.guard.RecordTrade(ctx, order.Notional(), now); err != nil {
		e.abortSubmission(ctx, order, err)
		return nil, err
	}
	e.metrics.RecordCreated()
	e.publish(events.Event{
		Kind: events.KindOrderCreated, Account: e.account,
		OrderID: order.ID, Symbol: order.Symbol, At: now,
	})

	entryFill, err := e.broker.SubmitEntry(ctx, order, now)
	if err != nil {
		e.abortSubmission(ctx, order, err)
		return nil, err
	}

	order.Status = schema.StatusWorking
	for i := range order.Legs {
		order.Legs[i].Status = schema.StatusWorking
	}
	order.UpdatedAt = now
	if err := e.commitFill(ctx, order, &entryFill); err != nil {
		e.abortSubmission(ctx, order, err)
		return nil, err
	}

	e.router.Register(order)
	e.publish(events.Event{
		Kind: events.KindOrderWorking, Account: e.account,
		OrderID: order.ID, Symbol: order.Symbol, Order: order.Clone(), At: now,
	})
	observability.Log().Info("order working",
		observability.F("order_id", order.ID),
		observability.F("symbol", order.Symbol),
		observability.F("side", string(order.Side)),
		observability.F("backfill", order.IsBackfill))
	return order, nil
}

// abortSubmission transitions an order that failed after creation to a
// terminal rejected state so no PENDING row is left dangling. A client
// retrying the same key after the failure mints a fresh order; this row
// stays behind as the audit trail of the failed attempt.
func (e *Engine) abortSubmission(ctx context.Context, order *schema.Order, cause error) {
	now := e.now()
	order.Status = schema.StatusRejected
	order.RejectedFor = string(errs.ReasonSubmissionFailed)
	for i := range order.Legs {
		if !order.Legs[i].Status.Terminal() {
			order.Legs[i].Status = schema.StatusCancelled
		}
	}
	order.UpdatedAt = now
	order.ClosedAt = &now
	if err := persistence.Retry(ctx, func(ctx context.Context) error {
		return e.store.Orders().UpdateOrder(ctx, order)
	}); err != nil {
		observability.Log().Error("failed to abort submission",
			observability.F("order_id", order.ID),
			observability.F("error", err.Error()))
		return
	}
	e.metrics.RecordRejected(string(errs.ReasonSubmissionFailed))
	e.publish(events.Event{
		Kind: events.KindOrderRejected, Account: e.account,
		OrderID: order.ID, Symbol: order.Symbol,
		Reason: string(errs.ReasonSubmissionFailed), At: now,
	})
	observability.Log().Error("submission aborted",
		observability.F("order_id", order.ID),
		observability.F("symbol", order.Symbol),
		observability.F("cause", cause.Error()))
}

// recordRejection persists a terminal audit record for a guardrail
// rejection. Failures here are logged, not surfaced; the caller already has
// the rejection to report.
func (e *Engine) recordRejection(ctx context.Context, req schema.OrderRequest, now time.Time, reason errs.Reason) {
	e.metrics.RecordRejected(string(reason))
	enteredAt, backfill := req.ResolveEnteredAt(now)
	closed := now
	order := &schema.Order{
		ID:          uuid.NewString(),
		Account:     e.account,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		OrderType:   req.OrderType,
		EntryPrice:  req.EntryPrice,
		Status:      schema.StatusRejected,
		EnteredAt:   enteredAt,
		IsBackfill:  backfill,
		Source:      req.Source,
		RejectedFor: string(reason),
		CreatedAt:   now,
		UpdatedAt:   now,
		ClosedAt:    &closed,
	}
	if err := persistence.Retry(ctx, func(ctx context.Context) error {
		return e.store.Orders().CreateOrder(ctx, order)
	}); err != nil {
		observability.Log().Error("failed to record rejection",
			observability.F("symbol", req.Symbol), observability.F("error", err.Error()))
		return
	}
	e.publish(events.Event{
		Kind: events.KindOrderRejected, Account: e.account,
		OrderID: order.ID, Symbol: order.Symbol, Reason: string(reason), At: now,
	})
}

// Cancel withdraws a working order. Whichever of cancel and fill removes the
// order from the router first wins; the loser observes a terminal state.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*schema.Order, error) {
	order, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, errs.New("engine/cancel", errs.CodeConflict,
			errs.WithReason(errs.ReasonAlreadyResolved),
			errs.WithMessage("order already reached a terminal state"),
			errs.WithField("status", string(order.Status)))
	}
	if !e.router.Remove(order.Symbol, order.ID) {
		return nil, errs.New("engine/cancel", errs.CodeConflict,
			errs.WithReason(errs.ReasonAlreadyResolved),
			errs.WithMessage("a fill claimed the order first"))
	}

	now := e.now()
	order.Status = schema.StatusCancelled
	for i := range order.Legs {
		if !order.Legs[i].Status.Terminal() {
			order.Legs[i].Status = schema.StatusCancelled
		}
	}
	order.UpdatedAt = now
	order.ClosedAt = &now
	if err := persistence.Retry(ctx, func(ctx context.Context) error {
		return e.store.Orders().UpdateOrder(ctx, order)
	}); err != nil {
		return nil, err
	}

	e.metrics.RecordCancelled()
	e.publish(events.Event{
		Kind: events.KindOrderCancelled, Account: e.account,
		OrderID: order.ID, Symbol: order.Symbol, At: now,
	})
	observability.Log().Info("order cancelled",
		observability.F("order_id", order.ID), observability.F("symbol", order.Symbol))
	return order, nil
}

// OnTick folds one price observation through the mark-to-market ledger and
// the resting exit legs. Fill prices are the tick price itself, so a gap
// through a trigger realizes the gap.
func (e *Engine) OnTick(ctx context.Context, tick schema.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	if tick.At.IsZero() {
		tick.At = e.now()
	}
	e.metrics.RecordTick(tick.Symbol)

	if err := e.book.Mark(ctx, e.account, tick); err != nil {
		return err
	}

	if observer, ok := e.broker.(TickObserver); ok {
		observer.ObserveTick(tick)
	}

	// Every match gets a settlement attempt; one failed exit must not
	// strand the rest of the batch.
	var firstErr error
	for _, match := range e.router.Match(tick) {
		if err := e.settleExit(ctx, match, tick); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				observability.Log().Error("exit settlement failed",
					observability.F("order_id", match.Order.ID),
					observability.F("error", err.Error()))
			}
		}
	}
	return firstErr
}

// settleExit executes a triggered exit leg: one fill at the tick price, the
// sibling leg cancelled, the order closed. The fill, the terminal order row,
// and the folded position land in one atomic commit; if that commit fails the
// untouched order goes back to the router so a later tick retries, and once
// it succeeds the order never rests again.
func (e *Engine) settleExit(ctx context.Context, match Match, tick schema.Tick) error {
	order := match.Order.Clone()
	fill := schema.Fill{
		ID:       uuid.NewString(),
		OrderID:  order.ID,
		Account:  order.Account,
		Symbol:   order.Symbol,
		Side:     order.Side.Opposite(),
		Quantity: order.Quantity,
		Price:    tick.Price,
		At:       tick.At,
	}
	if match.Leg == schema.LegStop {
		fill.Outcome = schema.OutcomeStop
	} else {
		fill.Outcome = schema.OutcomeTarget
	}

	order.Status = schema.StatusFilled
	for i := range order.Legs {
		if order.Legs[i].Kind == match.Leg {
			order.Legs[i].Status = schema.StatusFilled
		} else if !order.Legs[i].Status.Terminal() {
			order.Legs[i].Status = schema.StatusCancelled
		}
	}
	order.UpdatedAt = tick.At
	closed := tick.At
	order.ClosedAt = &closed

	var realized decimal.Decimal
	if err := e.commitFillRealized(ctx, order, &fill, &realized); err != nil {
		e.router.Register(match.Order)
		return err
	}

	e.metrics.RecordFilled()
	e.publish(events.Event{
		Kind: events.KindOrderFilled, Account: e.account,
		OrderID: order.ID, Symbol: order.Symbol, Fill: &fill, At: tick.At,
	})
	observability.Log().Info("exit filled",
		observability.F("order_id", order.ID),
		observability.F("symbol", order.Symbol),
		observability.F("outcome", string(fill.Outcome)),
		observability.F("price", fill.Price.String()),
		observability.F("realized", realized.String()))

	halted, err := e.guard.RecordFill(ctx, realized, tick.At)
	if err != nil {
		return err
	}
	if halted {
		e.publish(events.Event{
			Kind: events.KindDailyHalt, Account: e.account,
			Symbol: order.Symbol, Reason: string(errs.ReasonLossCap), At: tick.At,
		})
	}
	return nil
}

// commitFill folds a fill into the position ledger and lands fill, order, and
// position in one atomic store commit.
func (e *Engine) commitFill(ctx context.Context, order *schema.Order, fill *schema.Fill) error {
	var realized decimal.Decimal
	return e.commitFillRealized(ctx, order, fill, &realized)
}

func (e *Engine) commitFillRealized(ctx context.Context, order *schema.Order, fill *schema.Fill, realized *decimal.Decimal) error {
	_, delta, err := e.book.ApplyFillWith(ctx, *fill, func(ctx context.Context, position schema.Position, delta decimal.Decimal) error {
		fill.RealizedPnL = delta
		return persistence.Retry(ctx, func(ctx context.Context) error {
			return e.store.Orders().CommitFill(ctx, order, *fill, position)
		})
	})
	if err != nil {
		return err
	}
	*realized = delta
	return nil
}

// Order fetches one order by id.
func (e *Engine) Order(ctx context.Context, id string) (*schema.Order, error) {
	var order *schema.Order
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		order, err = e.store.Orders().GetOrder(ctx, id)
		return err
	})
	return order, err
}

// Orders lists orders for the engine's account.
func (e *Engine) Orders(ctx context.Context, query persistence.OrderQuery) ([]*schema.Order, error) {
	query.Account = e.account
	var orders []*schema.Order
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		orders, err = e.store.Orders().ListOrders(ctx, query)
		return err
	})
	return orders, err
}

// Fills lists the fills recorded for one order in time order.
func (e *Engine) Fills(ctx context.Context, orderID string) ([]schema.Fill, error) {
	var fills []schema.Fill
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		fills, err = e.store.Orders().ListFills(ctx, orderID)
		return err
	})
	return fills, err
}

func (e *Engine) publish(event events.Event) {
	e.sink.Publish(event)
}
