// Package transport maintains the push-event channel. Inbound events are
// published on the injected bus; outbound signals are fire-and-forget.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/pelusa-v/pelusa-sync/internal/bus"
	"github.com/pelusa-v/pelusa-sync/internal/chat"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// frame is the wire envelope, both directions.
type frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type roomSignal struct {
	ChatID string `json:"chat_id"`
}

// Client dials the websocket endpoint and keeps it alive. Connection state
// transitions are surfaced as synthetic connected/disconnected bus events so
// the session controller sees one uniform event stream.
type Client struct {
	url    string
	events bus.Bus
	log    *logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient builds a transport client for the given websocket URL.
func NewClient(url string, events bus.Bus, log *logger.Logger) *Client {
	return &Client{
		url:    url,
		events: events,
		log:    log.With("component", "transport"),
	}
}

// Run dials and reads until ctx ends, reconnecting with capped exponential
// backoff. The duration of an outage is unbounded; the controller resyncs
// when the connected event arrives.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Warn("dial transport", "url", c.url, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.publish(ctx, bus.Event{Kind: chat.EventConnected})

		readErr := c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.publish(ctx, bus.Event{Kind: chat.EventDisconnected})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("transport connection lost", "error", readErr)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("bad transport frame", "error", err)
			continue
		}
		c.publish(ctx, bus.Event{Kind: f.Kind, Payload: f.Payload})
	}
}

func (c *Client) publish(ctx context.Context, evt bus.Event) {
	if err := c.events.Publish(ctx, evt); err != nil {
		c.log.Warn("publish transport event", "kind", evt.Kind, "error", err)
	}
}

// Join signals the server to route the chat's events to this connection.
func (c *Client) Join(chatID string) error {
	return c.send("join_chat", roomSignal{ChatID: chatID})
}

// Leave stops the chat's event routing.
func (c *Client) Leave(chatID string) error {
	return c.send("leave_chat", roomSignal{ChatID: chatID})
}

// Typing forwards the local typing state.
func (c *Client) Typing(evt chat.TypingEvent) error {
	return c.send("typing", evt)
}

func (c *Client) send(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return chat.E(chat.CodeValidation, "send "+kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return chat.E(chat.CodeTransportDown, "send "+kind, errors.New("push channel is down"))
	}
	if err := c.conn.WriteJSON(frame{Kind: kind, Payload: raw}); err != nil {
		return chat.E(chat.CodeTransportDown, "send "+kind, err)
	}
	return nil
}
