package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"streamrelay/internal/core"
	"streamrelay/internal/types"
)

// ClientIDParam is the handshake query parameter carrying the client id.
const ClientIDParam = "clientId"

const maxFrameBytes = 64 << 10

// errHubDisconnected stops the read side once the hub has dropped the
// connection.
var errHubDisconnected = errors.New("relay: connection removed from hub")

// inboundFrame is what clients send to publish.
type inboundFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// outboundFrame is what the hub delivers.
type outboundFrame struct {
	Event EventName    `json:"event"`
	Data  outboundData `json:"data"`
}

type outboundData struct {
	Payload any    `json:"payload"`
	Source  string `json:"source"`
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// WSHandler bridges WebSocket connections to a Hub.
type WSHandler struct {
	hub    *Hub
	cfg    WSConfig
	logger *slog.Logger
}

// NewWSHandler creates the transport for hub.
func NewWSHandler(hub *Hub, cfg WSConfig, logger *slog.Logger) *WSHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WSHandler{hub: hub, cfg: cfg, logger: logger.With("component", "relay_ws")}
}

// RegisterRoutes mounts the WebSocket endpoint at path.
func (h *WSHandler) RegisterRoutes(path string) core.RouteRegistrar {
	return func(r chi.Router) {
		r.Get(path, h.ServeHTTP)
	}
}

// ServeHTTP upgrades the request and serves the connection until either side
// closes it.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get(ClientIDParam)
	if clientID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "clientId query parameter is required", nil))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins})
	if err != nil {
		// Accept has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer ws.CloseNow()

	conn := h.hub.Connect(clientID)
	defer h.hub.Disconnect(conn)

	err = h.serve(r.Context(), ws, conn)
	switch {
	case errors.Is(err, errHubDisconnected):
		// writeLoop has already closed the connection.
	case err == nil, isNormalClose(err):
		ws.Close(websocket.StatusNormalClosure, "")
	default:
		h.logger.Debug("websocket connection ended", "connection_id", conn.ID(), "error", err)
	}
}

func (h *WSHandler) serve(ctx context.Context, ws *websocket.Conn, conn *Conn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.readLoop(ctx, ws, conn)
	})

	g.Go(func() error {
		return h.writeLoop(ctx, ws, conn)
	})

	return g.Wait()
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			h.logger.Debug("ignoring malformed frame", "connection_id", conn.ID())
			continue
		}
		h.hub.PublishRaw(conn, f.Event, f.Payload)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) error {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			// Close before returning so the peer sees 1001 rather than the
			// abrupt close a cancelled read would cause.
			ws.Close(websocket.StatusGoingAway, "relay shutting down")
			return errHubDisconnected
		case msg := <-conn.Messages():
			frame := outboundFrame{
				Event: msg.Event,
				Data:  outboundData{Payload: msg.Payload, Source: msg.Source},
			}
			if err := h.write(ctx, ws, frame); err != nil {
				return err
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, v)
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
