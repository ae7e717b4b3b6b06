package relay

import (
	"context"
	"fmt"

	"streamrelay/internal/types"
)

// LocalPublisher publishes through an in-process hub connection. Echoes of
// its own messages are discarded.
type LocalPublisher struct {
	hub  *Hub
	conn *Conn
}

// NewLocalPublisher connects to hub as clientID.
func NewLocalPublisher(hub *Hub, clientID string) *LocalPublisher {
	p := &LocalPublisher{hub: hub, conn: hub.Connect(clientID)}
	go p.discardEchoes()
	return p
}

func (p *LocalPublisher) discardEchoes() {
	for {
		select {
		case <-p.conn.Messages():
		case <-p.conn.Done():
			return
		}
	}
}

// Publish implements the alert engine's publisher.
func (p *LocalPublisher) Publish(ctx context.Context, event EventName, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.conn.Done():
		return types.NewAppError(types.ErrCodeRelayClosed, "relay hub connection is closed", nil)
	default:
	}
	if _, ok := p.hub.Publish(p.conn, event, payload); !ok {
		return types.NewAppError(types.ErrCodeValidationUnknownEvent, fmt.Sprintf("event %q is not relayed", event), nil)
	}
	return nil
}

// Close disconnects from the hub.
func (p *LocalPublisher) Close() error {
	p.hub.Disconnect(p.conn)
	return nil
}
