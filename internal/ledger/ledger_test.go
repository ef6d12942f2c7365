package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/internal/persistence/memory"
	"github.com/tradeloop/riskgate/internal/schema"
)

const testAccount = "paper-account-001"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(side schema.Side, qty int64, price string, outcome schema.FillOutcome) schema.Fill {
	return schema.Fill{
		ID:       "fill-" + price,
		OrderID:  "order-1",
		Account:  testAccount,
		Symbol:   "NQ",
		Side:     side,
		Quantity: qty,
		Price:    dec(price),
		Outcome:  outcome,
		At:       time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	}
}

func TestShortRoundTripRealizesProfit(t *testing.T) {
	ledger := New(memory.NewStore().Positions())
	ctx := context.Background()

	position, realized, err := ledger.ApplyFill(ctx, fill(schema.SideSell, 1, "17895", schema.OutcomeEntry))
	if err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	if !realized.IsZero() {
		t.Fatalf("entry realized = %s, want 0", realized)
	}
	if position.NetQuantity != -1 || !position.AvgEntry.Equal(dec("17895")) {
		t.Fatalf("after entry: net=%d avg=%s", position.NetQuantity, position.AvgEntry)
	}

	position, realized, err = ledger.ApplyFill(ctx, fill(schema.SideBuy, 1, "17874.5", schema.OutcomeTarget))
	if err != nil {
		t.Fatalf("exit fill: %v", err)
	}
	if !realized.Equal(dec("20.5")) {
		t.Fatalf("realized = %s, want 20.5", realized)
	}
	if !position.Flat() {
		t.Fatalf("net = %d, want flat", position.NetQuantity)
	}
	if !position.RealizedPnL.Equal(dec("20.5")) {
		t.Fatalf("cumulative realized = %s, want 20.5", position.RealizedPnL)
	}
	if !position.AvgEntry.IsZero() {
		t.Fatalf("avg entry = %s, want reset to 0 when flat", position.AvgEntry)
	}
}

func TestIncreasingFillsReaverage(t *testing.T) {
	ledger := New(memory.NewStore().Positions())
	ctx := context.Background()

	if _, _, err := ledger.ApplyFill(ctx, fill(schema.SideBuy, 2, "100", schema.OutcomeEntry)); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	position, realized, err := ledger.ApplyFill(ctx, fill(schema.SideBuy, 2, "110", schema.OutcomeEntry))
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if !realized.IsZero() {
		t.Fatalf("increasing fill realized = %s, want 0", realized)
	}
	if position.NetQuantity != 4 || !position.AvgEntry.Equal(dec("105")) {
		t.Fatalf("net=%d avg=%s, want net=4 avg=105", position.NetQuantity, position.AvgEntry)
	}
}

func TestPartialReduceKeepsAverage(t *testing.T) {
	ledger := New(memory.NewStore().Positions())
	ctx := context.Background()

	if _, _, err := ledger.ApplyFill(ctx, fill(schema.SideBuy, 3, "100", schema.OutcomeEntry)); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	position, realized, err := ledger.ApplyFill(ctx, fill(schema.SideSell, 1, "95", schema.OutcomeStop))
	if err != nil {
		t.Fatalf("reduce fill: %v", err)
	}
	if !realized.Equal(dec("-5")) {
		t.Fatalf("realized = %s, want -5", realized)
	}
	if position.NetQuantity != 2 || !position.AvgEntry.Equal(dec("100")) {
		t.Fatalf("net=%d avg=%s, want net=2 avg=100", position.NetQuantity, position.AvgEntry)
	}
}

func TestFlipThroughFlatOpensAtFillPrice(t *testing.T) {
	ledger := New(memory.NewStore().Positions())
	ctx := context.Background()

	if _, _, err := ledger.ApplyFill(ctx, fill(schema.SideBuy, 1, "100", schema.OutcomeEntry)); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	position, realized, err := ledger.ApplyFill(ctx, fill(schema.SideSell, 3, "104", schema.OutcomeEntry))
	if err != nil {
		t.Fatalf("flip fill: %v", err)
	}
	if !realized.Equal(dec("4")) {
		t.Fatalf("realized = %s, want 4", realized)
	}
	if position.NetQuantity != -2 || !position.AvgEntry.Equal(dec("104")) {
		t.Fatalf("net=%d avg=%s, want net=-2 avg=104", position.NetQuantity, position.AvgEntry)
	}
}

func TestMarkUpdatesUnrealizedOnly(t *testing.T) {
	ledger := New(memory.NewStore().Positions())
	ctx := context.Background()

	if _, _, err := ledger.ApplyFill(ctx, fill(schema.SideBuy, 2, "100", schema.OutcomeEntry)); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	tick := schema.Tick{Symbol: "NQ", Price: dec("103"), At: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	if err := ledger.Mark(ctx, testAccount, tick); err != nil {
		t.Fatalf("mark: %v", err)
	}
	position, err := ledger.Position(ctx, testAccount, "NQ")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !position.UnrealizedPnL().Equal(dec("6")) {
		t.Fatalf("unrealized = %s, want 6", position.UnrealizedPnL())
	}
	if !position.RealizedPnL.IsZero() {
		t.Fatalf("realized = %s, want 0", position.RealizedPnL)
	}
}

func TestMarkIgnoresUntrackedSymbol(t *testing.T) {
	store := memory.NewStore()
	ledger := New(store.Positions())
	tick := schema.Tick{Symbol: "ES", Price: dec("5000"), At: time.Now()}
	if err := ledger.Mark(context.Background(), testAccount, tick); err != nil {
		t.Fatalf("mark: %v", err)
	}
	positions, err := ledger.Positions(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("positions = %d, want none for never-traded symbol", len(positions))
	}
}
