// Package errs provides structured error types and helpers for riskgate services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category produced by the trading core.
type Code string

const (
	// CodeInvalid indicates malformed input rejected before any state mutation.
	CodeInvalid Code = "invalid_request"
	// CodeIdempotencyConflict indicates an idempotency key reused with a different payload.
	CodeIdempotencyConflict Code = "idempotency_conflict"
	// CodeGuardrail indicates a risk guardrail rejection.
	CodeGuardrail Code = "guardrail_rejected"
	// CodeStoreTransient indicates a durable-store I/O failure that is safe to retry.
	CodeStoreTransient Code = "store_transient"
	// CodeConflict indicates a transition raced another and lost.
	CodeConflict Code = "conflict"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// Reason captures the specific guardrail or validation reason behind a rejection.
type Reason string

const (
	// ReasonUnknown captures uncategorized failures.
	ReasonUnknown Reason = "unknown"
	// ReasonSymbolNotAllowed indicates the symbol is outside the allow-list.
	ReasonSymbolNotAllowed Reason = "symbol_not_allowed"
	// ReasonFutureEntry indicates an entered_at timestamp in the future.
	ReasonFutureEntry Reason = "future_entry"
	// ReasonOutsideSession indicates submission outside configured session windows.
	ReasonOutsideSession Reason = "outside_session_window"
	// ReasonDailyHalted indicates the trading day is halted.
	ReasonDailyHalted Reason = "daily_halted"
	// ReasonTradeCap indicates the daily trade cap was reached.
	ReasonTradeCap Reason = "trade_cap_exceeded"
	// ReasonPositionCap indicates the resulting position would exceed max contracts.
	ReasonPositionCap Reason = "position_cap_exceeded"
	// ReasonPositionNotional indicates the resulting position notional would exceed the USD cap.
	ReasonPositionNotional Reason = "position_size_usd_exceeded"
	// ReasonDailyVolume indicates the day's traded notional would exceed the USD cap.
	ReasonDailyVolume Reason = "daily_volume_usd_exceeded"
	// ReasonLossCap indicates realized losses crossed the daily cap.
	ReasonLossCap Reason = "loss_cap_exceeded"
	// ReasonAlreadyResolved indicates the order already reached a terminal state.
	ReasonAlreadyResolved Reason = "already_resolved"
	// ReasonSubmissionFailed marks an order aborted by a failure after creation.
	ReasonSubmissionFailed Reason = "submission_failed"
)

// E captures structured error information produced across the riskgate stack.
type E struct {
	Op      string
	Code    Code
	Reason  Reason
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Reason:  ReasonUnknown,
		Message: "",
		Fields:  nil,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithReason sets the specific rejection reason.
func WithReason(reason Reason) Option {
	trimmed := strings.TrimSpace(string(reason))
	return func(e *E) {
		if trimmed == "" {
			e.Reason = ReasonUnknown
			return
		}
		e.Reason = Reason(trimmed)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single key/value pair of contextual detail.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if r := strings.TrimSpace(string(e.Reason)); r != "" && r != string(ReasonUnknown) {
		parts = append(parts, "reason="+r)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the Code from err, or empty when err is not an envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf extracts the rejection Reason from err, or ReasonUnknown otherwise.
func ReasonOf(err error) Reason {
	var e *E
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonUnknown
}

// IsTransient reports whether err represents a retryable store failure.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeStoreTransient
}

// Guardrail returns a standardized guardrail rejection.
func Guardrail(reason Reason, msg string) *E {
	return New("risk/guard", CodeGuardrail, WithReason(reason), WithMessage(strings.TrimSpace(msg)))
}
