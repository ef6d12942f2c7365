package engine

import (
	"context"
	"testing"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/schema"
)

func TestPaperBrokerMarksFollowObservedTicks(t *testing.T) {
	broker := NewPaperBroker()
	ctx := context.Background()

	if _, err := broker.MarkPrice(ctx, "NQ"); errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("mark with no history: %v, want not_found", err)
	}

	broker.ObserveTick(schema.Tick{Symbol: "NQ", Price: dec("17905")})
	mark, err := broker.MarkPrice(ctx, "NQ")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !mark.Equal(dec("17905")) {
		t.Fatalf("mark = %s, want 17905", mark)
	}

	// Later ticks supersede earlier ones, per symbol.
	broker.ObserveTick(schema.Tick{Symbol: "NQ", Price: dec("17890")})
	broker.ObserveTick(schema.Tick{Symbol: "ES", Price: dec("5000")})
	mark, err = broker.MarkPrice(ctx, "NQ")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !mark.Equal(dec("17890")) {
		t.Fatalf("mark = %s, want 17890", mark)
	}
}

func TestLiveBrokerStubIsUnavailable(t *testing.T) {
	broker := LiveBrokerStub{}
	ctx := context.Background()

	if _, err := broker.MarkPrice(ctx, "NQ"); errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("mark: %v, want unavailable", err)
	}
	if _, err := broker.SubmitEntry(ctx, &schema.Order{}, testNow); errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("submit: %v, want unavailable", err)
	}
}
