package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"streamrelay/internal/types"
)

// DefaultSendBuffer is the per-connection queue length.
const DefaultSendBuffer = 64

// Observer sees every relayed message after fan-out. Observe must not block.
type Observer interface {
	Observe(msg Message)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(msg Message)

// Observe implements Observer.
func (f ObserverFunc) Observe(msg Message) { f(msg) }

// Conn is a hub connection. The hub writes to its queue; the transport reads
// from Messages until Done is closed.
type Conn struct {
	id          string
	clientID    string
	connectedAt time.Time

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// ID is the opaque connection id assigned by the hub.
func (c *Conn) ID() string { return c.id }

// ClientID is the id the client declared at connect time. It may collide
// across connections.
func (c *Conn) ClientID() string { return c.clientID }

// ConnectedAt is when the hub registered the connection.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Messages returns the delivery queue.
func (c *Conn) Messages() <-chan Message { return c.send }

// Done is closed on Disconnect.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Dropped returns how many messages were dropped because the queue was full.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubClock replaces the real clock.
func WithHubClock(c types.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

// WithSendBuffer sets the per-connection queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) HubOption {
	return func(h *Hub) { h.observers = append(h.observers, o) }
}

// Hub fans published events out to every connected client. Delivery is
// best-effort and at most once per connection: nothing is queued for
// disconnected clients and a full connection queue drops the message.
type Hub struct {
	logger    *slog.Logger
	clock     types.Clock
	buffer    int
	observers []Observer
	startedAt time.Time

	mu    sync.RWMutex
	conns map[string]*Conn

	totalConns atomic.Int64
	messages   atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	rejected   atomic.Int64
	perEvent   map[EventName]*atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:   logger.With("component", "relay_hub"),
		clock:    types.RealClock{},
		buffer:   DefaultSendBuffer,
		conns:    make(map[string]*Conn),
		perEvent: make(map[EventName]*atomic.Int64, len(AllEvents)),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, e := range AllEvents {
		h.perEvent[e] = new(atomic.Int64)
	}
	h.startedAt = h.clock.Now()
	return h
}

// Connect registers a connection for clientID.
func (h *Hub) Connect(clientID string) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		clientID:    clientID,
		connectedAt: h.clock.Now(),
		send:        make(chan Message, h.buffer),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	current := len(h.conns)
	h.mu.Unlock()

	h.totalConns.Add(1)
	h.logger.Info("client connected", "connection_id", c.id, "client_id", clientID, "connections", current)
	return c
}

// Disconnect removes c. Calling it more than once is a no-op.
func (h *Hub) Disconnect(c *Conn) {
	if c == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	current := len(h.conns)
	h.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	if ok {
		h.logger.Info("client disconnected", "connection_id", c.id, "client_id", c.clientID, "connections", current)
	}
}

// Publish relays payload to every connection, the publisher included, and
// returns how many queues accepted it. Events outside the allow-list are
// dropped and reported with ok false; nothing is sent back to the publisher.
// from may be nil for publishers without a connection.
func (h *Hub) Publish(from *Conn, event EventName, payload any) (delivered int, ok bool) {
	if _, valid := ParseEventName(string(event)); !valid {
		h.rejected.Add(1)
		h.logger.Debug("dropping event outside the allow-list", "event", string(event))
		return 0, false
	}

	msg := Message{
		Event:     event,
		Payload:   payload,
		RelayedAt: h.clock.Now(),
	}
	if from != nil {
		msg.Source = from.clientID
	}

	h.messages.Add(1)
	h.perEvent[event].Add(1)

	h.mu.RLock()
	for _, c := range h.conns {
		select {
		case c.send <- msg:
			delivered++
		default:
			c.dropped.Add(1)
			h.dropped.Add(1)
			h.logger.Warn("connection queue full; message dropped",
				"connection_id", c.id, "client_id", c.clientID, "event", string(event))
		}
	}
	h.mu.RUnlock()

	h.delivered.Add(int64(delivered))
	for _, o := range h.observers {
		o.Observe(msg)
	}
	return delivered, true
}

// PublishRaw validates an event name received from the wire and publishes it.
func (h *Hub) PublishRaw(from *Conn, event string, payload any) (int, bool) {
	name, ok := ParseEventName(event)
	if !ok {
		h.rejected.Add(1)
		h.logger.Debug("dropping event outside the allow-list", "event", event)
		return 0, false
	}
	return h.Publish(from, name, payload)
}

// ConnectionCount returns the number of current connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.Disconnect(c)
	}
	return nil
}

// HubStats is the relay health payload.
type HubStats struct {
	UptimeSeconds      int64            `json:"uptimeSeconds"`
	CurrentConnections int              `json:"currentConnections"`
	TotalConnections   int64            `json:"totalConnections"`
	MessagesTotal      int64            `json:"messagesTotal"`
	MessagesByEvent    map[string]int64 `json:"messagesByEvent"`
	MessagesPerMinute  float64          `json:"messagesPerMinute"`
	Delivered          int64            `json:"delivered"`
	Dropped            int64            `json:"dropped"`
	Rejected           int64            `json:"rejected"`
}

// Snapshot returns the current counters. The per-minute rate is averaged
// over the uptime, counting at least one minute.
func (h *Hub) Snapshot() HubStats {
	uptime := h.clock.Now().Sub(h.startedAt)
	total := h.messages.Load()

	byEvent := make(map[string]int64, len(h.perEvent))
	for e, n := range h.perEvent {
		byEvent[string(e)] = n.Load()
	}

	minutes := uptime.Minutes()
	if minutes < 1 {
		minutes = 1
	}

	return HubStats{
		UptimeSeconds:      int64(uptime.Seconds()),
		CurrentConnections: h.ConnectionCount(),
		TotalConnections:   h.totalConns.Load(),
		MessagesTotal:      total,
		MessagesByEvent:    byEvent,
		MessagesPerMinute:  float64(total) / minutes,
		Delivered:          h.delivered.Load(),
		Dropped:            h.dropped.Load(),
		Rejected:           h.rejected.Load(),
	}
}

// Stats implements core.StatsReporter.
func (h *Hub) Stats() map[string]any {
	return map[string]any{"relay": h.Snapshot()}
}
