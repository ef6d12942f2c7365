package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSessionWindows(t *testing.T) {
	windows, err := ParseSessionWindows([]string{"06:30-14:00", "18:00-23:59"})
	if err != nil {
		t.Fatalf("parse windows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0].Start != 6*60+30 || windows[0].End != 14*60 {
		t.Fatalf("unexpected bounds: %+v", windows[0])
	}

	for _, bad := range []string{"630-1400", "06:30", "06:30-25:00", "14:00-06:30"} {
		if _, err := ParseSessionWindows([]string{bad}); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestSessionWindowContainsInclusiveBounds(t *testing.T) {
	window := SessionWindow{Start: 6*60 + 30, End: 14 * 60}
	at := func(h, m int) time.Time {
		return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
	}
	if !window.Contains(at(6, 30)) || !window.Contains(at(14, 0)) {
		t.Fatal("window bounds must be inclusive")
	}
	if window.Contains(at(6, 29)) || window.Contains(at(14, 1)) {
		t.Fatal("minutes outside the window must be excluded")
	}
}

func TestLimitsValidate(t *testing.T) {
	limits := DefaultLimits()
	if err := limits.Validate(); err != nil {
		t.Fatalf("default limits should validate: %v", err)
	}

	bad := limits
	bad.MaxTradesPerDay = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected rejection for zero trade cap")
	}

	bad = limits
	bad.DailyLossCapUSD = decimal.Zero
	if err := bad.Validate(); err == nil {
		t.Fatal("expected rejection for zero loss cap")
	}

	bad = limits
	bad.Timezone = "Mars/Olympus"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected rejection for unknown timezone")
	}
}

func TestLimitsAllowsSymbol(t *testing.T) {
	limits := DefaultLimits()
	if !limits.AllowsSymbol("NQ") || !limits.AllowsSymbol(" nq ") {
		t.Fatal("allow-list match should be case and whitespace insensitive")
	}
	if limits.AllowsSymbol("BTCUSDT") {
		t.Fatal("symbol outside allow-list must be refused")
	}
}

func TestStoreReplaceIsVersionedAndIsolated(t *testing.T) {
	store, err := NewStore(DefaultLimits())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	first := store.Snapshot()
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	next := DefaultLimits()
	next.MaxTradesPerDay = 9
	replaced, err := store.Replace(next)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced.Version != 2 {
		t.Fatalf("expected version 2, got %d", replaced.Version)
	}
	// The captured snapshot keeps its original limits.
	if first.Limits.MaxTradesPerDay != 5 {
		t.Fatalf("replace must not mutate prior snapshots, got %d", first.Limits.MaxTradesPerDay)
	}
	if store.Snapshot().Limits.MaxTradesPerDay != 9 {
		t.Fatal("active snapshot should carry the replacement limits")
	}
}

func TestStoreReplaceRejectsInvalidLimits(t *testing.T) {
	store, err := NewStore(DefaultLimits())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	bad := DefaultLimits()
	bad.SessionWindows = []string{"junk"}
	if _, err := store.Replace(bad); err == nil {
		t.Fatal("expected replace to reject invalid limits")
	}
	if store.Snapshot().Version != 1 {
		t.Fatal("failed replace must leave the active snapshot untouched")
	}
}

func TestSnapshotInSessionUsesConfiguredTimezone(t *testing.T) {
	limits := DefaultLimits()
	limits.Timezone = "America/Phoenix"
	limits.SessionWindows = []string{"06:30-14:00"}
	store, err := NewStore(limits)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	snapshot := store.Snapshot()

	// 20:00 UTC is 13:00 in Phoenix (UTC-7, no DST).
	inside := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	if !snapshot.InSession(inside) {
		t.Fatal("13:00 local should be inside the session")
	}
	// 02:00 UTC is 19:00 local the previous evening.
	outside := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	if snapshot.InSession(outside) {
		t.Fatal("19:00 local should be outside the session")
	}
	if day := snapshot.TradingDay(time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC)); day != "2025-03-10" {
		t.Fatalf("expected Phoenix trading day 2025-03-10, got %s", day)
	}
}

func TestLoadOrDefaultReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	body := []byte(`
environment: prod
account: acct-7
limits:
  maxTradesPerDay: 12
  dailyLossCapUSD: 500
  maxContracts: 3
  sessionWindows: ["09:30-16:00"]
  symbols: ["NQ", "ES"]
  timezone: America/New_York
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, loaded, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !loaded {
		t.Fatal("expected file to be loaded")
	}
	if cfg.Environment != "prod" || cfg.Account != "acct-7" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Limits.MaxTradesPerDay != 12 || !cfg.Limits.AllowsSymbol("ES") {
		t.Fatalf("limits not applied: %+v", cfg.Limits)
	}

	_, loaded, err = LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if loaded {
		t.Fatal("missing file must report loaded=false")
	}
}
