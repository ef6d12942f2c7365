package observability

import "sync"

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}

// EngineMetricsSnapshot captures order-engine runtime counters.
type EngineMetricsSnapshot struct {
	OrdersCreated   int64            `json:"orders_created"`
	OrdersFilled    int64            `json:"orders_filled"`
	OrdersCancelled int64            `json:"orders_cancelled"`
	OrdersRejected  map[string]int64 `json:"orders_rejected"`
	TicksRouted     map[string]int64 `json:"ticks_routed"`
}

// RuntimeMetrics accumulates engine metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu     sync.Mutex
	engine EngineMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.engine = EngineMetricsSnapshot{
		OrdersRejected: make(map[string]int64),
		TicksRouted:    make(map[string]int64),
	}
	return metrics
}

// RecordCreated increments the created-order counter.
func (m *RuntimeMetrics) RecordCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.OrdersCreated++
}

// RecordFilled increments the filled-order counter.
func (m *RuntimeMetrics) RecordFilled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.OrdersFilled++
}

// RecordCancelled increments the cancelled-order counter.
func (m *RuntimeMetrics) RecordCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.OrdersCancelled++
}

// RecordRejected tallies a rejection by reason.
func (m *RuntimeMetrics) RecordRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.OrdersRejected[reason]++
}

// RecordTick tallies a routed tick for a symbol.
func (m *RuntimeMetrics) RecordTick(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.TicksRouted[symbol]++
}

// Snapshot copies the current engine metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() EngineMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := EngineMetricsSnapshot{
		OrdersCreated:   m.engine.OrdersCreated,
		OrdersFilled:    m.engine.OrdersFilled,
		OrdersCancelled: m.engine.OrdersCancelled,
		OrdersRejected:  make(map[string]int64, len(m.engine.OrdersRejected)),
		TicksRouted:     make(map[string]int64, len(m.engine.TicksRouted)),
	}
	for k, v := range m.engine.OrdersRejected {
		snapshot.OrdersRejected[k] = v
	}
	for k, v := range m.engine.TicksRouted {
		snapshot.TicksRouted[k] = v
	}
	return snapshot
}
