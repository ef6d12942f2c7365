package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/persistence/memory"
	"github.com/tradeloop/riskgate/internal/schema"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	guard := NewGuard(memory.NewStore().Idempotency(), time.Hour)
	t.Cleanup(guard.Close)
	return guard
}

func TestSubmitRunsCreateOnce(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	create := func(context.Context) (string, error) {
		calls++
		return "order-1", nil
	}

	for i := 0; i < 5; i++ {
		id, dup, err := guard.Submit(ctx, "key-a", "fp-1", create)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if id != "order-1" {
			t.Fatalf("submit %d: id = %q, want order-1", i, id)
		}
		if wantDup := i > 0; dup != wantDup {
			t.Fatalf("submit %d: duplicate = %v, want %v", i, dup, wantDup)
		}
	}
	if calls != 1 {
		t.Fatalf("create ran %d times, want 1", calls)
	}
}

func TestSubmitRejectsFingerprintMismatch(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()

	if _, _, err := guard.Submit(ctx, "key-a", "fp-1", func(context.Context) (string, error) {
		return "order-1", nil
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, _, err := guard.Submit(ctx, "key-a", "fp-2", func(context.Context) (string, error) {
		t.Fatal("create must not run on conflict")
		return "", nil
	})
	if errs.CodeOf(err) != errs.CodeIdempotencyConflict {
		t.Fatalf("code = %q, want %q", errs.CodeOf(err), errs.CodeIdempotencyConflict)
	}
}

func TestSubmitDoesNotCacheFailures(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()

	boom := errors.New("broker down")
	_, _, err := guard.Submit(ctx, "key-a", "fp-1", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	id, dup, err := guard.Submit(ctx, "key-a", "fp-1", func(context.Context) (string, error) {
		return "order-2", nil
	})
	if err != nil || dup || id != "order-2" {
		t.Fatalf("retry after failure: id=%q dup=%v err=%v", id, dup, err)
	}
}

func TestSubmitSerializesConcurrentSameKey(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	create := func(context.Context) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return "order-1", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := guard.Submit(ctx, "key-a", "fp-1", create)
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			results[i] = id
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("create ran %d times, want 1", calls)
	}
	for i, id := range results {
		if id != "order-1" {
			t.Fatalf("submit %d: id = %q, want order-1", i, id)
		}
	}
}

func TestSubmitRequiresKey(t *testing.T) {
	guard := newTestGuard(t)
	_, _, err := guard.Submit(context.Background(), "  ", "fp", func(context.Context) (string, error) {
		return "order-1", nil
	})
	if errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("code = %q, want %q", errs.CodeOf(err), errs.CodeInvalid)
	}
}

func TestFingerprintIsOrderSensitive(t *testing.T) {
	base := schema.OrderRequest{
		IdempotencyKey: "key-a",
		Account:        "paper-account-001",
		Symbol:         "NQ",
		Side:           schema.SideBuy,
		Quantity:       1,
		OrderType:      schema.TypeMarket,
		EntryPrice:     decimal.RequireFromString("17900"),
		StopPrice:      decimal.RequireFromString("17880"),
	}
	fpA, err := Fingerprint(base)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	same, err := Fingerprint(base)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fpA != same {
		t.Fatal("identical requests must share a fingerprint")
	}

	changed := base
	changed.Quantity = 2
	fpB, err := Fingerprint(changed)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fpA == fpB {
		t.Fatal("different payloads must not share a fingerprint")
	}
}
