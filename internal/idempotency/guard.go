// Package idempotency enforces at-most-once order creation per caller
// supplied submission key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/schema"
)

// DefaultRetention bounds how long submission outcomes are kept. It is sized
// to cover realistic client retry storms.
const DefaultRetention = 24 * time.Hour

const sweepInterval = 10 * time.Minute

// Fingerprint derives the canonical digest of a trade intent. Two requests
// with the same key must carry the same fingerprint to be treated as
// retries of one logical submission.
func Fingerprint(req schema.OrderRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Guard serializes submissions per key and caches their outcomes for the
// retention window.
type Guard struct {
	store     persistence.IdempotencyStore
	retention time.Duration

	mu       sync.Mutex
	inflight map[string]chan struct{}

	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewGuard creates a guard backed by the given record store. A non-positive
// retention falls back to DefaultRetention.
func NewGuard(store persistence.IdempotencyStore, retention time.Duration) *Guard {
	if retention <= 0 {
		retention = DefaultRetention
	}
	guard := &Guard{
		store:     store,
		retention: retention,
		inflight:  make(map[string]chan struct{}),
		shutdown:  make(chan struct{}),
	}
	go guard.sweepExpired()
	return guard
}

// Close stops background maintenance.
func (g *Guard) Close() {
	g.closeOnce.Do(func() { close(g.shutdown) })
}

// Submit runs create at most once for the key. A repeat submission with the
// same fingerprint returns the original order id with duplicate=true; a
// repeat with a different fingerprint fails with an idempotency conflict.
// Concurrent submissions for the same key wait for the first to settle.
func (g *Guard) Submit(ctx context.Context, key, fingerprint string, create func(context.Context) (string, error)) (orderID string, duplicate bool, err error) {
	if strings.TrimSpace(key) == "" {
		return "", false, errs.New("idempotency/submit", errs.CodeInvalid, errs.WithMessage("idempotency key required"))
	}

	if err := g.acquire(ctx, key); err != nil {
		return "", false, err
	}
	defer g.release(key)

	record, found, err := g.getRecord(ctx, key)
	if err != nil {
		return "", false, err
	}
	if found {
		if record.Fingerprint != fingerprint {
			return "", false, errs.New("idempotency/submit", errs.CodeIdempotencyConflict,
				errs.WithMessage("idempotency key reused with a different payload"),
				errs.WithField("key", key))
		}
		// Touch the record so an active retry storm keeps its outcome alive.
		record.StoredAt = time.Now().UTC()
		if err := g.putRecord(ctx, record); err != nil {
			return "", false, err
		}
		return record.OrderID, true, nil
	}

	orderID, err = create(ctx)
	if err != nil {
		return "", false, err
	}
	record = persistence.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		OrderID:     orderID,
		StoredAt:    time.Now().UTC(),
	}
	if err := g.putRecord(ctx, record); err != nil {
		return "", false, err
	}
	return orderID, false, nil
}

// acquire blocks until the caller holds the per-key latch.
func (g *Guard) acquire(ctx context.Context, key string) error {
	for {
		g.mu.Lock()
		latch, busy := g.inflight[key]
		if !busy {
			g.inflight[key] = make(chan struct{})
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("idempotency acquire: %w", ctx.Err())
		case <-latch:
		}
	}
}

func (g *Guard) release(key string) {
	g.mu.Lock()
	latch := g.inflight[key]
	delete(g.inflight, key)
	g.mu.Unlock()
	if latch != nil {
		close(latch)
	}
}

func (g *Guard) getRecord(ctx context.Context, key string) (persistence.IdempotencyRecord, bool, error) {
	var record persistence.IdempotencyRecord
	var found bool
	err := persistence.Retry(ctx, func(ctx context.Context) error {
		var err error
		record, found, err = g.store.GetRecord(ctx, key)
		return err
	})
	return record, found, err
}

func (g *Guard) putRecord(ctx context.Context, record persistence.IdempotencyRecord) error {
	return persistence.Retry(ctx, func(ctx context.Context) error {
		return g.store.PutRecord(ctx, record)
	})
}

func (g *Guard) sweepExpired() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.shutdown:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-g.retention)
			if err := g.store.DeleteExpired(context.Background(), cutoff); err != nil {
				continue
			}
		}
	}
}
