package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position tracks the per-symbol net exposure for an account. It is mutated
// only by fills; mark price updates adjust unrealized PnL without touching
// realized figures.
type Position struct {
	Account     string          `json:"account"`
	Symbol      string          `json:"symbol"`
	NetQuantity int64           `json:"net_quantity"`
	AvgEntry    decimal.Decimal `json:"avg_entry"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Flat reports whether the position carries no exposure.
func (p Position) Flat() bool { return p.NetQuantity == 0 }

// UnrealizedPnL values the open exposure against the last mark price.
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.NetQuantity == 0 || p.MarkPrice.IsZero() {
		return decimal.Zero
	}
	qty := decimal.NewFromInt(p.NetQuantity)
	return p.MarkPrice.Sub(p.AvgEntry).Mul(qty)
}

// DailyCounters accumulates the per-account rolling counters for one trading
// day. RealizedPnL is the signed net figure; a loss pushes it negative.
type DailyCounters struct {
	Account     string          `json:"account"`
	Day         string          `json:"day"`
	TradeCount  int             `json:"trade_count"`
	VolumeUSD   decimal.Decimal `json:"volume_usd"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Halted      bool            `json:"halted"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TradingDay formats t in loc as the counter day key.
func TradingDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
