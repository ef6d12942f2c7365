// Package feed streams market ticks from an upstream websocket source into
// the engine.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/riskgate/internal/observability"
	"github.com/tradeloop/riskgate/internal/schema"
)

const (
	defaultReconnectMax = 30 * time.Second
	defaultHandshake    = 10 * time.Second
)

// Handler consumes one decoded tick. Errors are logged and do not stop the
// feed; a poisoned tick must not take the exit stream down.
type Handler func(ctx context.Context, tick schema.Tick) error

// Client maintains the upstream websocket connection with automatic
// reconnection and exponential backoff.
type Client struct {
	url          string
	handler      Handler
	reconnectMax time.Duration
	handshake    time.Duration
}

// Options tunes the client's reconnect behaviour.
type Options struct {
	ReconnectMax time.Duration
	Handshake    time.Duration
}

// NewClient builds a feed client for the given websocket URL.
func NewClient(url string, handler Handler, opts Options) *Client {
	c := &Client{
		url:          url,
		handler:      handler,
		reconnectMax: opts.ReconnectMax,
		handshake:    opts.Handshake,
	}
	if c.reconnectMax <= 0 {
		c.reconnectMax = defaultReconnectMax
	}
	if c.handshake <= 0 {
		c.handshake = defaultHandshake
	}
	return c
}

// Run connects and pumps ticks until the context is cancelled. Connection
// loss triggers reconnection; only context cancellation returns.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = c.reconnectMax

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			observability.Log().Error("feed dial failed",
				observability.F("url", c.url), observability.F("error", err.Error()))
			if err := sleepBackoff(ctx, policy, c.reconnectMax); err != nil {
				return err
			}
			continue
		}

		policy.Reset()
		observability.Log().Info("feed connected", observability.F("url", c.url))

		err = c.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		observability.Log().Error("feed disconnected",
			observability.F("error", err.Error()))
		if err := sleepBackoff(ctx, policy, c.reconnectMax); err != nil {
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.handshake)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure {
				return fmt.Errorf("feed closed: %w", err)
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		tick, err := DecodeTick(data)
		if err != nil {
			observability.Log().Error("malformed tick dropped",
				observability.F("error", err.Error()))
			continue
		}
		if err := c.handler(ctx, tick); err != nil {
			observability.Log().Error("tick handler failed",
				observability.F("symbol", tick.Symbol),
				observability.F("error", err.Error()))
		}
	}
}

func sleepBackoff(ctx context.Context, policy *backoff.ExponentialBackOff, fallback time.Duration) error {
	sleep := policy.NextBackOff()
	if sleep == backoff.Stop {
		sleep = fallback
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}

type tickMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     *time.Time      `json:"at,omitempty"`
}

// DecodeTick parses a wire tick. Missing timestamps take the receive time.
func DecodeTick(data []byte) (schema.Tick, error) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	tick := schema.Tick{Symbol: msg.Symbol, Price: msg.Price}
	if msg.At != nil {
		tick.At = *msg.At
	} else {
		tick.At = time.Now().UTC()
	}
	if err := tick.Validate(); err != nil {
		return schema.Tick{}, err
	}
	return tick, nil
}
