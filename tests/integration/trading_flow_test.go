package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/engine"
	"github.com/tradeloop/riskgate/internal/idempotency"
	"github.com/tradeloop/riskgate/internal/ledger"
	"github.com/tradeloop/riskgate/internal/persistence/memory"
	"github.com/tradeloop/riskgate/internal/risk"
	"github.com/tradeloop/riskgate/internal/schema"
	"github.com/tradeloop/riskgate/internal/server"
)

const flowAccount = "integration-account"

// flowNow is a Monday at 10:00 America/Phoenix, inside the default session.
var flowNow = time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

type stack struct {
	api   *httptest.Server
	store *memory.Store
}

func newStack(t *testing.T) *stack {
	t.Helper()

	store := memory.NewStore()
	limits, err := config.NewStore(config.DefaultLimits())
	require.NoError(t, err)

	book := ledger.New(store.Positions())
	guard := risk.NewGuard(flowAccount, limits, store.Counters(), book)
	keys := idempotency.NewGuard(store.Idempotency(), idempotency.DefaultRetention)
	t.Cleanup(keys.Close)

	eng := engine.New(flowAccount, store, limits, guard, book, keys, engine.NewPaperBroker(), engine.Options{
		Now: func() time.Time { return flowNow },
	})

	api := httptest.NewServer(server.NewHandler(flowAccount, eng, guard, book, limits, store))
	t.Cleanup(api.Close)
	return &stack{api: api, store: store}
}

func (s *stack) do(t *testing.T, method, path string, body any) (int, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.api.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	payload := map[string]json.RawMessage{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func decodeOrder(t *testing.T, raw json.RawMessage) schema.Order {
	t.Helper()
	var order schema.Order
	require.NoError(t, json.Unmarshal(raw, &order))
	return order
}

func bracketRequest(key string) map[string]any {
	return map[string]any{
		"idempotency_key": key,
		"symbol":          "NQ",
		"side":            "BUY",
		"quantity":        1,
		"entry_price":     "17900",
		"stop_price":      "17884",
		"target_price":    "17916",
	}
}

func TestBracketLifecycleOverHTTP(t *testing.T) {
	s := newStack(t)

	status, payload := s.do(t, http.MethodPost, "/v1/orders", bracketRequest("flow-1"))
	require.Equal(t, http.StatusCreated, status)
	order := decodeOrder(t, payload["order"])
	require.Equal(t, schema.StatusWorking, order.Status)
	require.Len(t, order.Legs, 2)

	// Same key and body replays the original outcome.
	status, payload = s.do(t, http.MethodPost, "/v1/orders", bracketRequest("flow-1"))
	require.Equal(t, http.StatusOK, status)
	replayed := decodeOrder(t, payload["order"])
	require.Equal(t, order.ID, replayed.ID)

	// Entry filled immediately, so the book carries the exposure.
	status, payload = s.do(t, http.MethodGet, "/v1/positions", nil)
	require.Equal(t, http.StatusOK, status)
	var positions []schema.Position
	require.NoError(t, json.Unmarshal(payload["positions"], &positions))
	require.Len(t, positions, 1)
	require.Equal(t, int64(1), positions[0].NetQuantity)

	// A tick through the target settles the exit at the tick price.
	status, _ = s.do(t, http.MethodPost, "/v1/ticks", map[string]any{
		"symbol": "NQ", "price": "17916",
	})
	require.Equal(t, http.StatusAccepted, status)

	status, payload = s.do(t, http.MethodGet, "/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, status)
	settled := decodeOrder(t, payload["order"])
	require.Equal(t, schema.StatusFilled, settled.Status)
	require.Equal(t, schema.StatusFilled, settled.Leg(schema.LegTarget).Status)
	require.Equal(t, schema.StatusCancelled, settled.Leg(schema.LegStop).Status)
	require.NotNil(t, settled.ClosedAt)

	status, payload = s.do(t, http.MethodGet, "/v1/orders/"+order.ID+"/fills", nil)
	require.Equal(t, http.StatusOK, status)
	var fills []schema.Fill
	require.NoError(t, json.Unmarshal(payload["fills"], &fills))
	require.Len(t, fills, 2)
	exit := fills[1]
	require.Equal(t, schema.OutcomeTarget, exit.Outcome)
	require.True(t, exit.RealizedPnL.Equal(decimal.RequireFromString("16")),
		"realized %s", exit.RealizedPnL)

	status, payload = s.do(t, http.MethodGet, "/v1/risk/status", nil)
	require.Equal(t, http.StatusOK, status)
	var tradeCount int
	require.NoError(t, json.Unmarshal(payload["trade_count"], &tradeCount))
	require.Equal(t, 1, tradeCount)
}

func TestLimitsReplacementTightensGuardrails(t *testing.T) {
	s := newStack(t)

	status, _ := s.do(t, http.MethodPost, "/v1/orders", bracketRequest("cap-1"))
	require.Equal(t, http.StatusCreated, status)

	tightened := config.DefaultLimits()
	tightened.MaxTradesPerDay = 1
	status, payload := s.do(t, http.MethodPut, "/v1/risk/limits", tightened)
	require.Equal(t, http.StatusOK, status)
	var version uint64
	require.NoError(t, json.Unmarshal(payload["version"], &version))
	require.Equal(t, uint64(2), version)

	// The day already carries one trade, so the tightened cap rejects.
	status, payload = s.do(t, http.MethodPost, "/v1/orders", bracketRequest("cap-2"))
	require.Equal(t, http.StatusUnprocessableEntity, status)
	var reason string
	require.NoError(t, json.Unmarshal(payload["reason"], &reason))
	require.Equal(t, "trade_cap_exceeded", reason)

	// A reset clears the counters for the current day.
	status, _ = s.do(t, http.MethodPost, "/v1/risk/reset", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/v1/orders", bracketRequest("cap-3"))
	require.Equal(t, http.StatusCreated, status)
}

func TestCancelRaceReportsConflict(t *testing.T) {
	s := newStack(t)

	status, payload := s.do(t, http.MethodPost, "/v1/orders", bracketRequest("cancel-1"))
	require.Equal(t, http.StatusCreated, status)
	order := decodeOrder(t, payload["order"])

	// Fill the exit first, then attempt the cancel.
	status, _ = s.do(t, http.MethodPost, "/v1/ticks", map[string]any{
		"symbol": "NQ", "price": "17884",
	})
	require.Equal(t, http.StatusAccepted, status)

	status, payload = s.do(t, http.MethodDelete, "/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusConflict, status)
	var reason string
	require.NoError(t, json.Unmarshal(payload["reason"], &reason))
	require.Equal(t, "already_resolved", reason)
}
