package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tradeloop/riskgate/errs"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool, err := NewPool(2, 8)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	var ran atomic.Int64
	for i := 0; i < 8; i++ {
		if err := pool.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := ran.Load(); got != 8 {
		t.Fatalf("ran = %d, want 8", got)
	}
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	block := make(chan struct{})
	_ = pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	})

	var saturated bool
	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error { return nil })
		if errs.CodeOf(err) == errs.CodeUnavailable {
			saturated = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(block)
	if !saturated {
		t.Fatal("pool never reported saturation")
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	_ = pool.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	})

	done := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) error {
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("submit after panic: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPoolClosedSubmit(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Close()
	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	if errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("code = %q, want unavailable", errs.CodeOf(err))
	}
}
