package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the NATS subject prefix for mirrored messages.
const DefaultSubjectPrefix = "relay"

// Subject returns the NATS subject for event under prefix.
func Subject(prefix string, event EventName) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(event)
}

// MirroredMessage is the JSON body published to NATS.
type MirroredMessage struct {
	Event     EventName `json:"event"`
	Payload   any       `json:"payload"`
	Source    string    `json:"source"`
	RelayedAt time.Time `json:"relayedAt"`
}

// NATSMirror is a hub Observer that republishes every relayed message to
// NATS, so consumers outside the WebSocket fan-out can tail relay traffic.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewNATSMirror connects to url. Extra options are appended to the
// reconnect defaults.
func NewNATSMirror(url, prefix string, logger *slog.Logger, opts ...nats.Option) (*NATSMirror, error) {
	logger = logger.With("component", "nats_mirror")
	defaults := []nats.Option{
		nats.Name("streamrelay-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSMirror{conn: nc, prefix: prefix, logger: logger}, nil
}

// Observe implements Observer. Publishing is asynchronous in the NATS client,
// so this does not block the hub.
func (m *NATSMirror) Observe(msg Message) {
	data, err := json.Marshal(MirroredMessage{
		Event:     msg.Event,
		Payload:   msg.Payload,
		Source:    msg.Source,
		RelayedAt: msg.RelayedAt,
	})
	if err != nil {
		m.failed.Add(1)
		m.logger.Warn("marshaling mirrored message", "event", string(msg.Event), "error", err)
		return
	}
	if err := m.conn.Publish(Subject(m.prefix, msg.Event), data); err != nil {
		m.failed.Add(1)
		m.logger.Warn("publishing to nats", "event", string(msg.Event), "error", err)
		return
	}
	m.published.Add(1)
}

// Name implements core.HealthProbe.
func (m *NATSMirror) Name() string { return "nats" }

// Check implements core.HealthProbe.
func (m *NATSMirror) Check(ctx context.Context) error {
	if !m.conn.IsConnected() {
		return errors.New("nats connection is " + m.conn.Status().String())
	}
	return m.conn.FlushWithContext(ctx)
}

// Stats implements core.StatsReporter.
func (m *NATSMirror) Stats() map[string]any {
	return map[string]any{
		"natsMirror": map[string]any{
			"published": m.published.Load(),
			"failed":    m.failed.Load(),
		},
	}
}

// Close flushes pending messages and closes the connection.
func (m *NATSMirror) Close() error {
	return m.conn.Drain()
}
