package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"streamrelay/internal/types"
)

// ClientConfig configures a relay Client.
type ClientConfig struct {
	// URL is the relay endpoint, e.g. ws://localhost:8081/relay.
	URL          string
	ClientID     string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	HTTPClient   *http.Client
}

// publishFrame mirrors inboundFrame on the sending side.
type publishFrame struct {
	Event   EventName `json:"event"`
	Payload any       `json:"payload"`
}

// receivedFrame mirrors outboundFrame on the receiving side.
type receivedFrame struct {
	Event string `json:"event"`
	Data  struct {
		Payload json.RawMessage `json:"payload"`
		Source  string          `json:"source"`
	} `json:"data"`
}

// Client is a WebSocket relay client that reconnects with exponential
// backoff. Messages published while disconnected fail with
// relay_not_connected; nothing is buffered.
type Client struct {
	cfg     ClientConfig
	dialURL string
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   chan struct{}
	handler func(Message)
	closed  bool
}

// NewClient validates cfg and builds the dial URL. Call Run to connect.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("relay client: client id is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("relay client: parsing url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("relay client: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(ClientIDParam, cfg.ClientID)
	u.RawQuery = q.Encode()

	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &Client{
		cfg:     cfg,
		dialURL: u.String(),
		logger:  logger.With("component", "relay_client", "client_id", cfg.ClientID),
		ready:   make(chan struct{}),
	}, nil
}

// OnMessage sets the handler for relayed messages. Payload is delivered as
// json.RawMessage.
func (c *Client) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// WaitConnected blocks until a connection is open or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and keeps the connection alive until ctx is done or Close is
// called.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}

		ws, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("relay dial failed", "error", err, "retry_in", backoff.String())
		} else {
			backoff = c.cfg.MinBackoff
			c.setConn(ws)
			c.logger.Info("connected to relay")
			err = c.readLoop(ctx, ws)
			c.clearConn(ws)
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			c.logger.Warn("relay connection lost", "error", err, "retry_in", backoff.String())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jitter(backoff)):
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dctx, c.dialURL, &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxFrameBytes)
	return ws, nil
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		var f receivedFrame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			return err
		}
		event, ok := ParseEventName(f.Event)
		if !ok {
			continue
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(Message{
				Event:     event,
				Payload:   f.Data.Payload,
				Source:    f.Data.Source,
				RelayedAt: time.Now().UTC(),
			})
		}
	}
}

// Publish sends an event to the relay. Unknown events are rejected locally.
func (c *Client) Publish(ctx context.Context, event EventName, payload any) error {
	if _, ok := ParseEventName(string(event)); !ok {
		return types.NewAppError(types.ErrCodeValidationUnknownEvent, fmt.Sprintf("event %q is not relayed", event), nil)
	}

	c.mu.Lock()
	ws := c.conn
	c.mu.Unlock()
	if ws == nil {
		return types.NewAppError(types.ErrCodeRelayNotConnected, "relay connection is not open", nil)
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, ws, publishFrame{Event: event, Payload: payload}); err != nil {
		return types.NewAppError(types.ErrCodeRelayNotConnected, "writing to relay failed", err)
	}
	return nil
}

// Close closes the current connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.conn
	c.mu.Unlock()
	if ws != nil {
		return ws.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = ws
	close(c.ready)
}

func (c *Client) clearConn(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == ws {
		c.conn = nil
		c.ready = make(chan struct{})
	}
	ws.CloseNow()
}

// jitter spreads d over [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}
