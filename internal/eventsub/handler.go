package eventsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"streamrelay/internal/core"
	"streamrelay/internal/types"
)

const (
	// maxBodyBytes caps the inbound webhook body.
	maxBodyBytes = 64 << 10

	defaultResubscribeTimeout = 30 * time.Second
)

// Dispatcher receives verified notifications. It must not block; the alert
// engine schedules its work and returns immediately.
type Dispatcher interface {
	OnNotification(env Envelope)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(env Envelope)

// OnNotification implements Dispatcher.
func (f DispatcherFunc) OnNotification(env Envelope) { f(env) }

// Response is the transport-independent result of processing a delivery.
type Response struct {
	Status int
	Body   string
}

var (
	forbidden = Response{Status: http.StatusForbidden, Body: "Forbidden"}
	accepted  = Response{Status: http.StatusNoContent}
)

// HandlerConfig holds the webhook settings.
type HandlerConfig struct {
	Secret      types.SecretString
	CallbackURL string
	// MaxMessageAge rejects deliveries whose timestamp is further than this
	// from now and bounds duplicate detection. Zero disables both.
	MaxMessageAge time.Duration
}

// Handler is the webhook endpoint. It holds no business state beyond
// counters and the replay window.
type Handler struct {
	secret      types.SecretString
	callbackURL string
	dispatcher  Dispatcher
	logger      *slog.Logger
	clock       types.Clock
	replay      *replayGuard

	subscriber         Subscriber
	policy             ResubscribePolicy
	resubscribeTimeout time.Duration
	resubscribes       sync.WaitGroup

	startedAt            time.Time
	eventsReceived       atomic.Int64
	verificationFailures atomic.Int64
	duplicates           atomic.Int64
	revocations          atomic.Int64
	resubscribed         atomic.Int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock injects the clock used for uptime and replay checks.
func WithClock(c types.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithResubscriber enables re-subscription on revocation, gated by policy.
func WithResubscriber(s Subscriber, policy ResubscribePolicy) Option {
	return func(h *Handler) {
		h.subscriber = s
		h.policy = policy
	}
}

// WithResubscribeTimeout bounds each re-subscription call.
func WithResubscribeTimeout(d time.Duration) Option {
	return func(h *Handler) { h.resubscribeTimeout = d }
}

// NewHandler builds a Handler that dispatches notifications to d.
func NewHandler(cfg HandlerConfig, d Dispatcher, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		secret:             cfg.Secret,
		callbackURL:        cfg.CallbackURL,
		dispatcher:         d,
		logger:             logger,
		clock:              types.RealClock{},
		policy:             NeverResubscribe(),
		resubscribeTimeout: defaultResubscribeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if cfg.MaxMessageAge > 0 {
		h.replay = newReplayGuard(cfg.MaxMessageAge)
	}
	h.startedAt = h.clock.Now()
	return h
}

// RegisterRoutes returns a registrar mounting the webhook at path.
func (h *Handler) RegisterRoutes(path string) core.RouteRegistrar {
	return func(r chi.Router) {
		r.Post(path, h.HandleInbound)
	}
}

// HandleInbound reads the raw body and writes the result of Process.
func (h *Handler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.logger.Warn("eventsub body too large", "limit", maxErr.Limit)
			core.Text(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
			return
		}
		h.logger.Warn("failed to read eventsub body", "error", err)
		core.Text(w, http.StatusBadRequest, "Bad Request")
		return
	}

	resp := h.Process(r.Header, body)
	core.Text(w, resp.Status, resp.Body)
}

// Process authenticates, classifies and dispatches one delivery. The body is
// treated as opaque bytes until the signature has been verified.
func (h *Handler) Process(headers http.Header, body []byte) Response {
	messageID := headers.Get(HeaderMessageID)
	timestamp := headers.Get(HeaderMessageTimestamp)
	messageType := ParseMessageType(headers.Get(HeaderMessageType))

	if !Verify(h.secret.Unmask(), messageID, timestamp, body, headers.Get(HeaderMessageSignature)) {
		h.verificationFailures.Add(1)
		h.logger.Warn("eventsub signature verification failed",
			"message_id", messageID,
			"message_type", string(messageType),
		)
		return forbidden
	}

	now := h.clock.Now()
	// A verification carries no event and must always be answered with its
	// challenge, so the age window applies to notifications and revocations.
	if h.replay != nil && messageType != MessageTypeVerification {
		ts, err := parseTimestamp(timestamp)
		if err != nil || h.replay.stale(ts, now) {
			h.verificationFailures.Add(1)
			h.logger.Warn("eventsub message outside accepted age",
				"message_id", messageID,
				"timestamp", timestamp,
			)
			return forbidden
		}
	}

	env, err := parseEnvelope(headers, body)
	if err != nil {
		h.logger.Warn("malformed eventsub body", "message_id", messageID, "error", err)
		return accepted
	}

	log := h.logger.With(
		"message_id", env.MessageID,
		"message_type", string(env.MessageType),
		"subscription_type", env.SubscriptionType,
	)

	switch env.MessageType {
	case MessageTypeVerification:
		log.Info("eventsub callback verification", "subscription_id", env.SubscriptionID)
		return Response{Status: http.StatusOK, Body: env.Challenge}

	case MessageTypeNotification:
		if h.duplicate(env.MessageID, now) {
			log.Info("duplicate eventsub delivery ignored")
			return accepted
		}
		h.eventsReceived.Add(1)
		h.dispatcher.OnNotification(env)
		return accepted

	case MessageTypeRevocation:
		if h.duplicate(env.MessageID, now) {
			log.Info("duplicate eventsub delivery ignored")
			return accepted
		}
		h.revocations.Add(1)
		log.Warn("eventsub subscription revoked",
			"subscription_id", env.SubscriptionID,
			"status", env.SubscriptionStatus,
			"condition", env.Condition,
		)
		h.maybeResubscribe(env, log)
		return accepted

	default:
		log.Warn("unknown eventsub message type", "header", headers.Get(HeaderMessageType))
		return accepted
	}
}

// duplicate reports whether id was already delivered within the replay window.
func (h *Handler) duplicate(id string, now time.Time) bool {
	if h.replay == nil {
		return false
	}
	if h.replay.firstSighting(id, now) {
		return false
	}
	h.duplicates.Add(1)
	return true
}

// maybeResubscribe applies the policy and, if it allows, re-creates the
// subscription in the background.
func (h *Handler) maybeResubscribe(env Envelope, log *slog.Logger) {
	if h.subscriber == nil || !h.policy.ShouldResubscribe(env, h.callbackURL != "") {
		return
	}

	req := types.SubscriptionRequest{
		Type:      env.SubscriptionType,
		Version:   env.SubscriptionVersion,
		Condition: env.Condition,
		Callback:  h.callbackURL,
		Secret:    h.secret,
	}

	h.resubscribes.Add(1)
	go func() {
		defer h.resubscribes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.resubscribeTimeout)
		defer cancel()

		id, err := h.subscriber.CreateSubscription(ctx, req)
		if err != nil {
			log.Error("eventsub re-subscription failed", "error", err)
			return
		}
		h.resubscribed.Add(1)
		log.Info("eventsub re-subscribed", "new_subscription_id", id)
	}()
}

// Wait blocks until in-flight re-subscriptions finish or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.resubscribes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventsReceived returns the number of dispatched notifications.
func (h *Handler) EventsReceived() int64 {
	return h.eventsReceived.Load()
}

// Stats reports webhook counters for the health endpoint. Only whether a
// callback URL is configured is exposed, never the URL itself.
func (h *Handler) Stats() map[string]any {
	webhook := map[string]any{
		"verificationFailures": h.verificationFailures.Load(),
		"duplicates":           h.duplicates.Load(),
		"revocations":          h.revocations.Load(),
		"resubscribed":         h.resubscribed.Load(),
	}
	if h.replay != nil {
		webhook["replayWindowSize"] = h.replay.len()
	}
	return map[string]any{
		"uptimeSeconds":      int64(h.clock.Now().Sub(h.startedAt).Seconds()),
		"eventsReceived":     h.eventsReceived.Load(),
		"callbackConfigured": h.callbackURL != "",
		"webhook":            webhook,
	}
}
