// Package push is the WebSocket transport of the push channel.
//
// A Client dials the channel namespace of one field, decodes envelopes and
// hands their payloads to a Sink, normally the engine. It owns reconnection
// and reports transport state as Connected/Disconnected transitions.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope types.
const (
	TypeRealogram    = "realogram"
	TypeProductLabel = "productLabel"
	TypeCommercial   = "commercial"
)

const (
	// Time allowed to write a control frame.
	writeWait = 10 * time.Second

	// DefaultPongWait is how long the connection may stay silent.
	DefaultPongWait = 60 * time.Second

	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second

	// Catalog updates can be large; labels are tiny.
	maxMessageSize = 8 << 20
)

// ErrSinkClosed is returned by Run when the sink stops accepting events.
var ErrSinkClosed = errors.New("push: sink closed")

// Envelope is one push message.
type Envelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// Sink receives decoded push payloads. *engine.Engine satisfies it.
// Every method returns false once the sink no longer accepts events.
type Sink interface {
	DeliverUpdate(payload json.RawMessage) bool
	DeliverLabel(payload json.RawMessage) bool
	DeliverCommercial(payload json.RawMessage) bool
	SetConnected(connected bool) bool
}

// Client maintains the push connection of one field.
type Client struct {
	socketURL  string
	field      string
	sink       Sink
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	pongWait   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff sets the reconnect delay bounds. The delay starts at min,
// doubles after each failed attempt and is capped at max.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

// WithPongWait sets the read deadline extended by every frame received.
func WithPongWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pongWait = d
		}
	}
}

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// NewClient creates a client for field's channel under socketURL.
func NewClient(socketURL, field string, sink Sink, opts ...Option) *Client {
	c := &Client{
		socketURL:  socketURL,
		field:      field,
		sink:       sink,
		dialer:     websocket.DefaultDialer,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		pongWait:   DefaultPongWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChannelURL returns the WebSocket URL of the field's channel namespace,
// "{socketURL}/channels/{field}". http and https schemes are mapped to ws
// and wss.
func ChannelURL(socketURL, field string) (string, error) {
	if field == "" {
		return "", errors.New("push: empty field")
	}
	u, err := url.Parse(socketURL)
	if err != nil {
		return "", fmt.Errorf("push: parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("push: unsupported scheme %q", u.Scheme)
	}
	// The field is one path segment; a "/" in it must not open a new one.
	raw := strings.TrimRight(u.EscapedPath(), "/") + "/channels/" + url.PathEscape(field)
	if u.Path, err = url.PathUnescape(raw); err != nil {
		return "", fmt.Errorf("push: channel path: %w", err)
	}
	u.RawPath = raw
	return u.String(), nil
}

// Run keeps the channel connected until ctx is done or the sink closes.
// Dial failures and dropped connections are logged and retried with
// capped exponential backoff; the delay resets after a connection that
// delivered at least one message.
func (c *Client) Run(ctx context.Context) error {
	target, err := ChannelURL(c.socketURL, c.field)
	if err != nil {
		return err
	}

	backoff := c.minBackoff
	for {
		delivered, err := c.connectOnce(ctx, target)
		if errors.Is(err, ErrSinkClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = c.minBackoff
		}

		slog.Warn("push connection lost, reconnecting",
			"field", c.field,
			"error", err,
			"retry_in", backoff,
		)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, c.maxBackoff)
	}
}

// connectOnce dials and serves one connection. It reports whether any
// envelope was delivered before the connection ended.
func (c *Client) connectOnce(ctx context.Context, target string) (bool, error) {
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	if !c.sink.SetConnected(true) {
		return false, ErrSinkClosed
	}
	slog.Info("push connected", "field", c.field, "url", target)
	defer c.sink.SetConnected(false)

	// Closing the socket unblocks ReadMessage when ctx ends.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	return c.readPump(conn)
}

func (c *Client) readPump(conn *websocket.Conn) (bool, error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	delivered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("push read failed", "field", c.field, "error", err)
			}
			return delivered, err
		}
		conn.SetReadDeadline(time.Now().Add(c.pongWait))

		ok, accepted := c.dispatch(data)
		if !accepted {
			return delivered, ErrSinkClosed
		}
		delivered = delivered || ok
	}
}

// dispatch decodes one raw message and routes it. It reports whether the
// message was delivered, and whether the sink is still accepting events.
func (c *Client) dispatch(data []byte) (delivered, accepted bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("push envelope dropped", "field", c.field, "reason", "malformed", "error", err)
		return false, true
	}
	return Route(c.sink, c.field, env)
}

// Route hands env to sink if it belongs to field's channel. An envelope
// without a channel is taken to belong to the connection's namespace.
// Unknown types and other channels are dropped.
func Route(sink Sink, field string, env Envelope) (delivered, accepted bool) {
	if env.Channel != "" && env.Channel != field {
		slog.Debug("push envelope dropped", "reason", "other channel", "channel", env.Channel, "field", field)
		return false, true
	}

	switch env.Type {
	case TypeRealogram:
		return true, sink.DeliverUpdate(env.Data)
	case TypeProductLabel:
		return true, sink.DeliverLabel(env.Data)
	case TypeCommercial:
		return true, sink.DeliverCommercial(env.Data)
	default:
		slog.Debug("push envelope dropped", "reason", "unknown type", "type", env.Type)
		return false, true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
