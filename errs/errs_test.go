package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesReasonAndFields(t *testing.T) {
	err := New(
		"engine/submit",
		CodeGuardrail,
		WithReason(ReasonTradeCap),
		WithMessage("daily trade cap of 5 reached"),
		WithField("symbol", "NQ"),
		WithField("account", "acct-1"),
		WithCause(errors.New("counters at limit")),
	)

	out := err.Error()
	if !strings.Contains(out, "op=engine/submit") {
		t.Fatalf("expected op marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=guardrail_rejected") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "reason=trade_cap_exceeded") {
		t.Fatalf("expected reason in error string: %s", out)
	}
	expectedFields := "fields=account=\"acct-1\",symbol=\"NQ\""
	if !strings.Contains(out, expectedFields) {
		t.Fatalf("expected fields %q in error string: %s", expectedFields, out)
	}
	if !strings.Contains(out, "cause=\"counters at limit\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithReasonEmptyDefaultsToUnknown(t *testing.T) {
	err := New("engine/submit", CodeInvalid, WithReason("   "))
	if err.Reason != ReasonUnknown {
		t.Fatalf("expected reason to default to unknown, got %q", err.Reason)
	}
	if strings.Contains(err.Error(), "reason=") {
		t.Fatalf("reason marker should be omitted when unknown: %s", err.Error())
	}
}

func TestCodeOfUnwrapsWrappedEnvelopes(t *testing.T) {
	inner := New("store/orders", CodeStoreTransient, WithMessage("connection reset"))
	wrapped := fmt.Errorf("persist order: %w", inner)

	if got := CodeOf(wrapped); got != CodeStoreTransient {
		t.Fatalf("expected store_transient, got %q", got)
	}
	if !IsTransient(wrapped) {
		t.Fatal("expected wrapped transient error to be retryable")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("expected empty code for non-envelope error")
	}
}

func TestGuardrailHelperSetsCodeAndReason(t *testing.T) {
	err := Guardrail(ReasonOutsideSession, "submission at 03:12 outside windows")
	if err.Code != CodeGuardrail {
		t.Fatalf("expected guardrail code, got %q", err.Code)
	}
	if ReasonOf(err) != ReasonOutsideSession {
		t.Fatalf("expected outside_session_window, got %q", ReasonOf(err))
	}
}
