package engine

import (
	"testing"
	"time"

	"github.com/tradeloop/riskgate/internal/schema"
)

func restingBuy(id string, stop, target string) *schema.Order {
	return &schema.Order{
		ID:       id,
		Account:  testAccount,
		Symbol:   "NQ",
		Side:     schema.SideBuy,
		Quantity: 1,
		Status:   schema.StatusWorking,
		Legs: []schema.Leg{
			{Kind: schema.LegStop, TriggerPrice: dec(stop), Status: schema.StatusWorking},
			{Kind: schema.LegTarget, TriggerPrice: dec(target), Status: schema.StatusWorking},
		},
	}
}

func routerTick(price string) schema.Tick {
	return schema.Tick{Symbol: "NQ", Price: dec(price), At: time.Now()}
}

func TestMatchIsInclusiveAtTrigger(t *testing.T) {
	router := NewTickRouter()
	router.Register(restingBuy("o1", "17884", "17916"))

	if matches := router.Match(routerTick("17884.25")); len(matches) != 0 {
		t.Fatalf("tick above stop matched %d orders", len(matches))
	}
	matches := router.Match(routerTick("17884"))
	if len(matches) != 1 || matches[0].Leg != schema.LegStop {
		t.Fatalf("matches = %+v, want one stop match", matches)
	}
}

func TestMatchRemovesOrderAtomically(t *testing.T) {
	router := NewTickRouter()
	router.Register(restingBuy("o1", "17884", "17916"))

	if matches := router.Match(routerTick("17916")); len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	// The sibling leg can no longer fire.
	if matches := router.Match(routerTick("17884")); len(matches) != 0 {
		t.Fatalf("removed order matched again")
	}
	if router.Resting("NQ") != 0 {
		t.Fatalf("resting = %d, want 0", router.Resting("NQ"))
	}
}

func TestGapThroughBothLegsPrefersStop(t *testing.T) {
	router := NewTickRouter()
	order := restingBuy("o1", "17884", "17916")
	// Pathological bracket where one tick could satisfy both triggers.
	order.Legs[0].TriggerPrice = dec("17900")
	order.Legs[1].TriggerPrice = dec("17890")
	router.Register(order)

	matches := router.Match(routerTick("17895"))
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].Leg != schema.LegStop {
		t.Fatalf("leg = %s, want STOP when both trigger", matches[0].Leg)
	}
}

func TestRemoveReportsFirstTransition(t *testing.T) {
	router := NewTickRouter()
	router.Register(restingBuy("o1", "17884", "17916"))

	if !router.Remove("NQ", "o1") {
		t.Fatal("first remove lost")
	}
	if router.Remove("NQ", "o1") {
		t.Fatal("second remove won")
	}
}

func TestMatchingIsIndependentPerSymbol(t *testing.T) {
	router := NewTickRouter()
	router.Register(restingBuy("nq-1", "17884", "17916"))

	es := restingBuy("es-1", "4990", "5010")
	es.Symbol = "ES"
	router.Register(es)

	// Holding one symbol's critical section must not stall another symbol's
	// tick flow.
	nqBook := router.book("NQ")
	nqBook.mu.Lock()

	done := make(chan []Match, 1)
	go func() {
		done <- router.Match(schema.Tick{Symbol: "ES", Price: dec("5010"), At: time.Now()})
	}()
	select {
	case matches := <-done:
		if len(matches) != 1 || matches[0].Order.ID != "es-1" {
			t.Errorf("matches = %+v, want the ES order", matches)
		}
	case <-time.After(2 * time.Second):
		t.Error("ES match blocked behind the NQ critical section")
	}
	nqBook.mu.Unlock()

	matches := router.Match(routerTick("17884"))
	if len(matches) != 1 || matches[0].Order.ID != "nq-1" {
		t.Fatalf("matches = %+v, want the NQ order", matches)
	}
}

func TestSellSideTriggers(t *testing.T) {
	router := NewTickRouter()
	order := &schema.Order{
		ID: "o1", Account: testAccount, Symbol: "NQ",
		Side: schema.SideSell, Quantity: 1, Status: schema.StatusWorking,
		Legs: []schema.Leg{
			{Kind: schema.LegStop, TriggerPrice: dec("17915"), Status: schema.StatusWorking},
			{Kind: schema.LegTarget, TriggerPrice: dec("17874.5"), Status: schema.StatusWorking},
		},
	}
	router.Register(order)

	if matches := router.Match(routerTick("17900")); len(matches) != 0 {
		t.Fatalf("mid-bracket tick matched %d", len(matches))
	}
	matches := router.Match(routerTick("17874.5"))
	if len(matches) != 1 || matches[0].Leg != schema.LegTarget {
		t.Fatalf("matches = %+v, want one target match", matches)
	}
}
