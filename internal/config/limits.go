// Package config manages guardrail limits and the versioned runtime snapshot
// consulted by the risk guard.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
)

// DefaultSymbols is the default instrument allow-list (CME futures roots).
var DefaultSymbols = []string{"NQ", "ES", "YM", "RTY", "CL", "GC", "SI", "NG", "ZB", "ZN", "ZF", "ZT"}

// Limits defines the account-level guardrail parameters.
type Limits struct {
	// MaxTradesPerDay caps accepted orders per trading day.
	MaxTradesPerDay int `yaml:"maxTradesPerDay"`

	// DailyLossCapUSD halts the day once realized losses reach this figure.
	DailyLossCapUSD decimal.Decimal `yaml:"dailyLossCapUSD"`

	// MaxContracts caps the absolute resulting position size per symbol.
	MaxContracts int64 `yaml:"maxContracts"`

	// MaxPositionSizeUSD caps the resulting position notional per symbol;
	// zero disables the check.
	MaxPositionSizeUSD decimal.Decimal `yaml:"maxPositionSizeUSD"`

	// MaxDailyVolumeUSD caps the total notional traded per day; zero
	// disables the check.
	MaxDailyVolumeUSD decimal.Decimal `yaml:"maxDailyVolumeUSD"`

	// SessionWindows lists local-time HH:MM-HH:MM intervals during which new
	// orders may be accepted.
	SessionWindows []string `yaml:"sessionWindows"`

	// Symbols is the instrument allow-list.
	Symbols []string `yaml:"symbols"`

	// Timezone is the account trading timezone used for session windows and
	// day boundaries.
	Timezone string `yaml:"timezone"`

	// OrderThrottle is the maximum sustained rate of order submissions per
	// second; zero disables throttling.
	OrderThrottle float64 `yaml:"orderThrottle"`
}

// DefaultLimits returns the guardrail defaults used when no file overrides
// them.
func DefaultLimits() Limits {
	return Limits{
		MaxTradesPerDay:    5,
		DailyLossCapUSD:    decimal.NewFromInt(300),
		MaxContracts:       5,
		MaxPositionSizeUSD: decimal.NewFromInt(50000),
		MaxDailyVolumeUSD:  decimal.NewFromInt(100000),
		SessionWindows:     []string{"06:30-14:00"},
		Symbols:            append([]string(nil), DefaultSymbols...),
		Timezone:           "America/Phoenix",
		OrderThrottle:      0,
	}
}

// Validate ensures every limit field is usable.
func (l Limits) Validate() error {
	if l.MaxTradesPerDay <= 0 {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("maxTradesPerDay must be >0"))
	}
	if l.DailyLossCapUSD.LessThanOrEqual(decimal.Zero) {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("dailyLossCapUSD must be >0"))
	}
	if l.MaxContracts <= 0 {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("maxContracts must be >0"))
	}
	if l.MaxPositionSizeUSD.IsNegative() {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("maxPositionSizeUSD must be >=0"))
	}
	if l.MaxDailyVolumeUSD.IsNegative() {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("maxDailyVolumeUSD must be >=0"))
	}
	if len(l.SessionWindows) == 0 {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("at least one session window required"))
	}
	if _, err := ParseSessionWindows(l.SessionWindows); err != nil {
		return err
	}
	if len(l.Symbols) == 0 {
		return errs.New("config/limits", errs.CodeInvalid, errs.WithMessage("symbol allow-list must not be empty"))
	}
	if _, err := time.LoadLocation(l.Timezone); err != nil {
		return errs.New("config/limits", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown timezone %q", l.Timezone)), errs.WithCause(err))
	}
	return nil
}

// AllowsSymbol reports whether symbol is on the allow-list.
func (l Limits) AllowsSymbol(symbol string) bool {
	needle := strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range l.Symbols {
		if strings.ToUpper(strings.TrimSpace(s)) == needle {
			return true
		}
	}
	return false
}

// SessionWindow is a half-open-free local-time interval; bounds are
// inclusive on both ends.
type SessionWindow struct {
	Start int // minutes since local midnight
	End   int
}

// Contains reports whether the local wall-clock minute falls inside the window.
func (w SessionWindow) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	return minute >= w.Start && minute <= w.End
}

// ParseSessionWindows parses HH:MM-HH:MM interval strings.
func ParseSessionWindows(specs []string) ([]SessionWindow, error) {
	windows := make([]SessionWindow, 0, len(specs))
	for _, spec := range specs {
		window, err := parseSessionWindow(spec)
		if err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}
	return windows, nil
}

func parseSessionWindow(spec string) (SessionWindow, error) {
	parts := strings.Split(strings.TrimSpace(spec), "-")
	if len(parts) != 2 {
		return SessionWindow{}, invalidWindow(spec, nil)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return SessionWindow{}, invalidWindow(spec, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return SessionWindow{}, invalidWindow(spec, err)
	}
	if end < start {
		return SessionWindow{}, invalidWindow(spec, fmt.Errorf("end before start"))
	}
	return SessionWindow{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func invalidWindow(spec string, cause error) error {
	return errs.New("config/limits", errs.CodeInvalid,
		errs.WithMessage(fmt.Sprintf("invalid session window %q, want HH:MM-HH:MM", spec)),
		errs.WithCause(cause))
}
