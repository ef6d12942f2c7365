// Package server exposes the HTTP ingress for order submission, tick
// injection, and guardrail administration.
package server

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tradeloop/riskgate/errs"
	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/engine"
	"github.com/tradeloop/riskgate/internal/feed"
	"github.com/tradeloop/riskgate/internal/ledger"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/risk"
	"github.com/tradeloop/riskgate/internal/schema"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	ordersPath        = "/v1/orders"
	orderDetailPrefix = ordersPath + "/"
	ticksPath         = "/v1/ticks"
	positionsPath     = "/v1/positions"
	riskStatusPath    = "/v1/risk/status"
	riskLimitsPath    = "/v1/risk/limits"
	riskResetPath     = "/v1/risk/reset"
	healthPath        = "/healthz"
	metricsPath       = "/v1/metrics/engine"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	account string
	engine  *engine.Engine
	guard   *risk.Guard
	book    *ledger.Ledger
	limits  *config.Store
	store   persistence.Store

	now func() time.Time
}

// NewHandler wires the ingress routes over the trading core.
func NewHandler(account string, eng *engine.Engine, guard *risk.Guard, book *ledger.Ledger, limits *config.Store, store persistence.Store) http.Handler {
	server := &httpServer{
		account: account,
		engine:  eng,
		guard:   guard,
		book:    book,
		limits:  limits,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
	mux := http.NewServeMux()

	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.submitOrder,
		http.MethodGet:  server.listOrders,
	}))
	mux.Handle(orderDetailPrefix, http.HandlerFunc(server.handleOrderDetail))

	mux.Handle(ticksPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.injectTick,
	}))
	mux.Handle(positionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listPositions,
	}))
	mux.Handle(riskStatusPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.riskStatus,
	}))
	mux.Handle(riskLimitsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getLimits,
		http.MethodPut: server.replaceLimits,
	}))
	mux.Handle(riskResetPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.resetDay,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(metricsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.engineMetrics,
	}))

	return mux
}

func (s *httpServer) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req schema.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Account == "" {
		req.Account = s.account
	}
	order, duplicate, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"order":     order,
		"duplicate": duplicate,
	})
}

func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	query := persistence.OrderQuery{Symbol: strings.TrimSpace(r.URL.Query().Get("symbol"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			query.Statuses = append(query.Statuses, schema.OrderStatus(strings.ToUpper(strings.TrimSpace(status))))
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}
	orders, err := s.engine.Orders(r.Context(), query)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *httpServer) handleOrderDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, orderDetailPrefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "order id required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		order, err := s.engine.Order(r.Context(), id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		order, err := s.engine.Cancel(r.Context(), id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case len(parts) == 2 && parts[1] == "fills" && r.Method == http.MethodGet:
		fills, err := s.engine.Fills(r.Context(), id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *httpServer) injectTick(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = body.Close() }()

	raw, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	tick, err := feed.DecodeTick(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.OnTick(r.Context(), tick); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *httpServer) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.book.Positions(r.Context(), s.account)
	if err != nil {
		writeFailure(w, err)
		return
	}
	type valued struct {
		schema.Position
		UnrealizedPnL string `json:"unrealized_pnl"`
	}
	out := make([]valued, 0, len(positions))
	for _, position := range positions {
		out = append(out, valued{Position: position, UnrealizedPnL: position.UnrealizedPnL().String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *httpServer) riskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.guard.Status(r.Context(), s.now())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *httpServer) getLimits(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.limits.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snapshot.Version,
		"limits":  snapshot.Limits,
	})
}

// replaceLimits swaps in a full replacement limit set. The new snapshot
// applies to submissions that start after it lands; in-flight evaluations
// finish on the snapshot they began with.
func (s *httpServer) replaceLimits(w http.ResponseWriter, r *http.Request) {
	var limits config.Limits
	if !decodeJSON(w, r, &limits) {
		return
	}
	snapshot, err := s.limits.Replace(limits)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := persistence.Retry(r.Context(), func(ctx context.Context) error {
		return s.store.Limits().SaveLimits(ctx, s.account, snapshot.Limits)
	}); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snapshot.Version,
		"limits":  snapshot.Limits,
	})
}

func (s *httpServer) resetDay(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.ResetDay(r.Context(), s.now()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) engineMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Metrics().Snapshot())
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = body.Close() }()
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

// writeFailure maps structured error codes onto HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		status = http.StatusBadRequest
	case errs.CodeIdempotencyConflict, errs.CodeConflict:
		status = http.StatusConflict
	case errs.CodeGuardrail:
		status = http.StatusUnprocessableEntity
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeStoreTransient, errs.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	payload := map[string]string{"status": "error", "error": err.Error()}
	if reason := errs.ReasonOf(err); reason != errs.ReasonUnknown {
		payload["reason"] = string(reason)
	}
	writeJSON(w, status, payload)
}
