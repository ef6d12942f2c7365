// Package risk enforces account guardrails ahead of order acceptance and
// tracks the daily counters that drive the loss-cap halt.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/ledger"
	"github.com/tradeloop/riskgate/internal/observability"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/schema"
)

// Guard evaluates every submission against the active limits snapshot.
// Counter mutations are serialized so concurrent submissions cannot both
// consume the last slot under a cap.
type Guard struct {
	account  string
	limits   *config.Store
	counters persistence.CounterStore
	ledger   *ledger.Ledger

	mu             sync.Mutex
	throttle       *rate.Limiter
	throttleOnVer  uint64
	throttleConfig float64
}

// NewGuard builds a guard for one account.
func NewGuard(account string, limits *config.Store, counters persistence.CounterStore, book *ledger.Ledger) *Guard {
	return &Guard{
		account:  account,
		limits:   limits,
		counters: counters,
		ledger:   book,
	}
}

// Status is a point-in-time view of the guardrail state for one trading day.
type Status struct {
	Account         string          `json:"account"`
	Day             string          `json:"day"`
	LimitsVersion   uint64          `json:"limits_version"`
	TradeCount      int             `json:"trade_count"`
	MaxTradesPerDay int             `json:"max_trades_per_day"`
	VolumeUSD       decimal.Decimal `json:"volume_usd"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	DailyLossCapUSD decimal.Decimal `json:"daily_loss_cap_usd"`
	Halted          bool            `json:"halted"`
	InSession       bool            `json:"in_session"`
}

// Check runs the guardrail chain for a submission. Checks run in a fixed
// order so a request failing several guards always reports the same reason:
// allow-list, entry timestamp, session window, halt, trade cap, position cap.
func (g *Guard) Check(ctx context.Context, req schema.OrderRequest, now time.Time) error {
	snapshot := g.limits.Snapshot()

	if err := g.allowThrottled(snapshot); err != nil {
		return err
	}

	if !snapshot.Limits.AllowsSymbol(req.Symbol) {
		return errs.Guardrail(errs.ReasonSymbolNotAllowed,
			fmt.Sprintf("symbol %s is not on the allow-list", req.Symbol))
	}

	enteredAt, backfill := req.ResolveEnteredAt(now)
	if enteredAt.After(now) {
		return errs.Guardrail(errs.ReasonFutureEntry, "entered_at must not be in the future")
	}

	// Backfills are judged against the moment the trade actually happened,
	// not the moment it reached us.
	sessionRef := now
	if backfill {
		sessionRef = enteredAt
	}
	if !snapshot.InSession(sessionRef) {
		return errs.Guardrail(errs.ReasonOutsideSession, "submission outside configured session windows")
	}

	counters, err := g.getCounters(ctx, snapshot.TradingDay(now))
	if err != nil {
		return err
	}
	if counters.Halted {
		return errs.Guardrail(errs.ReasonDailyHalted, "trading halted for the day after loss cap breach")
	}
	if counters.TradeCount >= snapshot.Limits.MaxTradesPerDay {
		return errs.Guardrail(errs.ReasonTradeCap,
			fmt.Sprintf("daily trade cap of %d reached", snapshot.Limits.MaxTradesPerDay))
	}

	position, err := g.ledger.Position(ctx, g.account, req.Symbol)
	if err != nil {
		return err
	}
	resulting := position.NetQuantity + req.Side.Sign()*req.Quantity
	if abs(resulting) > snapshot.Limits.MaxContracts {
		return errs.Guardrail(errs.ReasonPositionCap,
			fmt.Sprintf("resulting position %d exceeds max contracts %d", resulting, snapshot.Limits.MaxContracts))
	}

	notional := req.EntryPrice.Mul(decimal.NewFromInt(req.Quantity))
	if cap := snapshot.Limits.MaxPositionSizeUSD; cap.IsPositive() {
		resultingNotional := req.EntryPrice.Mul(decimal.NewFromInt(abs(resulting)))
		if resultingNotional.GreaterThan(cap) {
			return errs.Guardrail(errs.ReasonPositionNotional,
				fmt.Sprintf("resulting position notional %s exceeds max %s USD", resultingNotional, cap))
		}
	}
	if cap := snapshot.Limits.MaxDailyVolumeUSD; cap.IsPositive() {
		if counters.VolumeUSD.Add(notional).GreaterThan(cap) {
			return errs.Guardrail(errs.ReasonDailyVolume,
				fmt.Sprintf("daily traded notional would exceed max %s USD", cap))
		}
	}
	return nil
}

// allowThrottled applies the configured submission rate limit. The limiter is
// rebuilt lazily when a limits replacement changes the rate.
func (g *Guard) allowThrottled(snapshot *config.Snapshot) error {
	throttle := snapshot.Limits.OrderThrottle
	if throttle <= 0 {
		return nil
	}
	g.mu.Lock()
	if g.throttle == nil || g.throttleOnVer != snapshot.Version || g.throttleConfig != throttle {
		g.throttle = rate.NewLimiter(rate.Limit(throttle), int(throttle)+1)
		g.throttleOnVer = snapshot.Version
		g.throttleConfig = throttle
	}
	limiter := g.throttle
	g.mu.Unlock()

	if !limiter.Allow() {
		return errs.New("risk/guard", errs.CodeUnavailable,
			errs.WithMessage("order submission rate exceeded, retry shortly"))
	}
	return nil
}

// RecordTrade consumes one trade slot for the current day and accumulates the
// trade's notional into the day's traded volume. Callers invoke it only after
// the order has been durably created.
func (g *Guard) RecordTrade(ctx context.Context, notional decimal.Decimal, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.limits.Snapshot().TradingDay(now)
	counters, err := g.getCounters(ctx, day)
	if err != nil {
		return err
	}
	counters.TradeCount++
	counters.VolumeUSD = counters.VolumeUSD.Add(notional)
	counters.UpdatedAt = now.UTC()
	return g.putCounters(ctx, counters)
}

// RecordFill folds a realized PnL delta into the day counters and flips the
// halt once net realized losses reach the cap. It reports whether this fill
// triggered the halt.
func (g *Guard) RecordFill(ctx context.Context, realized decimal.Decimal, at time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := g.limits.Snapshot()
	day := snapshot.TradingDay(at)
	counters, err := g.getCounters(ctx, day)
	if err != nil {
		return false, err
	}
	counters.RealizedPnL = counters.RealizedPnL.Add(realized)
	counters.UpdatedAt = at.UTC()

	tripped := false
	if !counters.Halted && counters.RealizedPnL.LessThanOrEqual(snapshot.Limits.DailyLossCapUSD.Neg()) {
		counters.Halted = true
		tripped = true
		observability.Log().Error("daily loss cap breached, halting trading",
			observability.F("account", g.account),
			observability.F("day", day),
			observability.F("realized_pnl", counters.RealizedPnL.String()))
		observability.Telemetry().IncCounter("risk_daily_halts", 1, map[string]string{"account": g.account})
	}
	if err := g.putCounters(ctx, counters); err != nil {
		return false, err
	}
	return tripped, nil
}

// Status reports the current day counters alongside the active limits.
func (g *Guard) Status(ctx context.Context, now time.Time) (Status, error) {
	snapshot := g.limits.Snapshot()
	counters, err := g.getCounters(ctx, snapshot.TradingDay(now))
	if err != nil {
		return Status{}, err
	}
	return Status{
		Account:         g.account,
		Day:             counters.Day,
		LimitsVersion:   snapshot.Version,
		TradeCount:      counters.TradeCount,
		MaxTradesPerDay: snapshot.Limits.MaxTradesPerDay,
		VolumeUSD:       counters.VolumeUSD,
		RealizedPnL:     counters.RealizedPnL,
		DailyLossCapUSD: snapshot.Limits.DailyLossCapUSD,
		Halted:          counters.Halted,
		InSession:       snapshot.InSession(now),
	}, nil
}

// ResetDay clears the current day counters, including an active halt. It is
// an operator action and is never invoked by the trading path.
func (g *Guard) ResetDay(ctx context.Context, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.limits.Snapshot().TradingDay(now)
	counters := schema.DailyCounters{
		Account:   g.account,
		Day:       day,
		UpdatedAt: now.UTC(),
	}
	observability.Log().Info("daily counters reset",
		observability.F("account", g.account), observability.F("day", day))
	return g.putCounters(ctx, counters)
}

func (g *Guard) getCounters(ctx context.Context, day string) (schema.DailyCounters, error) {
	var counters schema.DailyCounters
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		counters, err = g.counters.GetCounters(ctx, g.account, day)
		return err
	})
	return counters, err
}

func (g *Guard) putCounters(ctx context.Context, counters schema.DailyCounters) error {
	return persistence.Retry(ctx, func(ctx context.Context) error {
		return g.counters.PutCounters(ctx, counters)
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
