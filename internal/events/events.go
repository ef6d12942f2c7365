// Package events defines the order lifecycle notifications published by the
// engine for downstream consumers.
package events

import (
	"time"

	"github.com/tradeloop/riskgate/internal/schema"
)

// Kind identifies a lifecycle event type.
type Kind string

const (
	// KindOrderCreated fires once an order is durably recorded.
	KindOrderCreated Kind = "order.created"
	// KindOrderWorking fires when exit legs start resting against the tick stream.
	KindOrderWorking Kind = "order.working"
	// KindOrderFilled fires on the terminal fill of a bracket.
	KindOrderFilled Kind = "order.filled"
	// KindOrderCancelled fires when a cancel wins the race against the tick stream.
	KindOrderCancelled Kind = "order.cancelled"
	// KindOrderRejected fires when a guardrail or validation rejects a submission.
	KindOrderRejected Kind = "order.rejected"
	// KindDailyHalt fires when realized losses trip the daily halt.
	KindDailyHalt Kind = "risk.daily_halt"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind    Kind          `json:"kind"`
	Account string        `json:"account"`
	OrderID string        `json:"order_id,omitempty"`
	Symbol  string        `json:"symbol,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Fill    *schema.Fill  `json:"fill,omitempty"`
	Order   *schema.Order `json:"order,omitempty"`
	At      time.Time     `json:"at"`
}

// Sink receives lifecycle events. Implementations must not block; slow
// consumers should buffer or drop internally.
type Sink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(event Event) { f(event) }
