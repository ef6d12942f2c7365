package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDecodeTick(t *testing.T) {
	raw := []byte(`{"symbol":"NQ","price":"17895.25","at":"2026-03-02T17:00:00Z"}`)
	tick, err := DecodeTick(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tick.Symbol != "NQ" {
		t.Fatalf("symbol = %q", tick.Symbol)
	}
	if !tick.Price.Equal(decimal.RequireFromString("17895.25")) {
		t.Fatalf("price = %s", tick.Price)
	}
	want := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	if !tick.At.Equal(want) {
		t.Fatalf("at = %s, want %s", tick.At, want)
	}
}

func TestDecodeTickDefaultsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	tick, err := DecodeTick([]byte(`{"symbol":"ES","price":5000}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tick.At.Before(before) {
		t.Fatalf("at = %s predates decode", tick.At)
	}
}

func TestDecodeTickRejectsBadPayloads(t *testing.T) {
	cases := []string{
		`not json`,
		`{"symbol":"NQ","price":"-1"}`,
		`{"symbol":"","price":"17895"}`,
		`{"symbol":"nq!","price":"17895"}`,
	}
	for _, raw := range cases {
		if _, err := DecodeTick([]byte(raw)); err == nil {
			t.Fatalf("payload %q decoded without error", raw)
		}
	}
}
