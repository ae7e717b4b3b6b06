package eventsub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/types"
)

var deliveryTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu   sync.Mutex
	envs []Envelope
}

func (d *recordingDispatcher) OnNotification(env Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envs = append(d.envs, env)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envs)
}

type mockSubscriber struct {
	mu    sync.Mutex
	reqs  []types.SubscriptionRequest
	err   error
	subID string
}

func (m *mockSubscriber) CreateSubscription(_ context.Context, req types.SubscriptionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.subID, m.err
}

func (m *mockSubscriber) requests() []types.SubscriptionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.SubscriptionRequest(nil), m.reqs...)
}

type handlerFixture struct {
	h     *Handler
	disp  *recordingDispatcher
	clock *types.FakeClock
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, cfg HandlerConfig, opts ...Option) *handlerFixture {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	f := &handlerFixture{
		disp:  &recordingDispatcher{},
		clock: types.NewFakeClock(deliveryTime),
		logs:  &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]Option{WithClock(f.clock)}, opts...)
	f.h = NewHandler(cfg, f.disp, logger, opts...)
	return f
}

func signedHeaders(messageType, messageID string, ts time.Time, body []byte) http.Header {
	stamp := ts.Format(time.RFC3339Nano)
	h := http.Header{}
	h.Set(HeaderMessageID, messageID)
	h.Set(HeaderMessageTimestamp, stamp)
	h.Set(HeaderMessageType, messageType)
	h.Set(HeaderMessageSignature, Sign(testSecret, messageID, stamp, body))
	return h
}

const (
	verificationBody = `{"challenge":"pogchamp-kappa-360noscope-vohiyo","subscription":{"id":"f1c2a387","status":"webhook_callback_verification_pending","type":"stream.online","version":"1","condition":{"broadcaster_user_id":"12826"}}}`
	notificationBody = `{"subscription":{"id":"f1c2a387","status":"enabled","type":"stream.online","version":"1","condition":{"broadcaster_user_id":"1337"}},"event":{"id":"9001","broadcaster_user_id":"1337","broadcaster_user_login":"cool_user","type":"live","started_at":"2024-03-01T11:59:50Z"}}`
	revocationBody   = `{"subscription":{"id":"f1c2a387","status":"notification_failures_exceeded","type":"channel.update","version":"2","condition":{"broadcaster_user_id":"1337"}}}`
)

func TestProcess_VerificationReturnsChallenge(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(verificationBody)

	resp := f.h.Process(signedHeaders("webhook_callback_verification", "m1", deliveryTime, body), body)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "pogchamp-kappa-360noscope-vohiyo", resp.Body)
	assert.Equal(t, 0, f.disp.count(), "verification never reaches the engine")
	assert.Equal(t, int64(0), f.h.EventsReceived())
}

func TestProcess_NotificationDispatches(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(notificationBody)

	resp := f.h.Process(signedHeaders("notification", "m2", deliveryTime, body), body)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, resp.Body)
	require.Equal(t, 1, f.disp.count())
	assert.Equal(t, int64(1), f.h.EventsReceived())

	env := f.disp.envs[0]
	assert.Equal(t, MessageTypeNotification, env.MessageType)
	assert.Equal(t, "m2", env.MessageID)
	assert.Equal(t, SubscriptionStreamOnline, env.SubscriptionType)
	assert.Equal(t, "1337", env.Condition["broadcaster_user_id"])
	assert.Equal(t, deliveryTime, env.Timestamp)
	assert.Contains(t, string(env.Event), `"broadcaster_user_login":"cool_user"`)
}

func TestProcess_BadSignatureForbidden(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(notificationBody)
	headers := signedHeaders("notification", "m3", deliveryTime, body)
	headers.Set(HeaderMessageSignature, Sign("wrong-secret-value", "m3", deliveryTime.Format(time.RFC3339Nano), body))

	resp := f.h.Process(headers, body)

	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "Forbidden", resp.Body)
	assert.Equal(t, 0, f.disp.count())
	assert.NotContains(t, f.logs.String(), "cool_user", "raw body must not be logged")
}

func TestProcess_MissingHeadersForbidden(t *testing.T) {
	body := []byte(notificationBody)
	for _, header := range []string{HeaderMessageID, HeaderMessageTimestamp, HeaderMessageSignature} {
		t.Run(header, func(t *testing.T) {
			f := newFixture(t, HandlerConfig{})
			headers := signedHeaders("notification", "m4", deliveryTime, body)
			headers.Del(header)

			resp := f.h.Process(headers, body)
			assert.Equal(t, http.StatusForbidden, resp.Status)
			assert.Equal(t, 0, f.disp.count())
		})
	}
}

func TestProcess_MalformedBodyAccepted(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(`{"subscription": nope`)

	resp := f.h.Process(signedHeaders("notification", "m5", deliveryTime, body), body)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, 0, f.disp.count())
	assert.Contains(t, f.logs.String(), "malformed eventsub body")
}

func TestProcess_UnknownTypeAccepted(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(notificationBody)

	resp := f.h.Process(signedHeaders("something_new", "m6", deliveryTime, body), body)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, 0, f.disp.count())
	assert.Contains(t, f.logs.String(), "unknown eventsub message type")
}

func TestProcess_RevocationLogsOnly(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(revocationBody)

	resp := f.h.Process(signedHeaders("revocation", "m7", deliveryTime, body), body)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, 0, f.disp.count())
	assert.Contains(t, f.logs.String(), "eventsub subscription revoked")
	assert.Contains(t, f.logs.String(), "notification_failures_exceeded")
}

func TestProcess_RevocationResubscribes(t *testing.T) {
	sub := &mockSubscriber{subID: "sub-new"}
	f := newFixture(t,
		HandlerConfig{CallbackURL: "https://relay.example.test/eventsub"},
		WithResubscriber(sub, DefaultResubscribePolicy()),
	)
	body := []byte(revocationBody)

	resp := f.h.Process(signedHeaders("revocation", "m8", deliveryTime, body), body)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	require.NoError(t, f.h.Wait(context.Background()))

	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "channel.update", reqs[0].Type)
	assert.Equal(t, "2", reqs[0].Version)
	assert.Equal(t, "1337", reqs[0].Condition["broadcaster_user_id"])
	assert.Equal(t, "https://relay.example.test/eventsub", reqs[0].Callback)
	assert.Equal(t, testSecret, reqs[0].Secret.Unmask())
	assert.EqualValues(t, 1, f.h.Stats()["webhook"].(map[string]any)["resubscribed"])
}

func TestProcess_RevocationResubscribeFailureLogged(t *testing.T) {
	sub := &mockSubscriber{err: errors.New("helix returned 409")}
	f := newFixture(t,
		HandlerConfig{CallbackURL: "https://relay.example.test/eventsub"},
		WithResubscriber(sub, DefaultResubscribePolicy()),
	)
	body := []byte(revocationBody)

	f.h.Process(signedHeaders("revocation", "m9", deliveryTime, body), body)
	require.NoError(t, f.h.Wait(context.Background()))

	assert.Len(t, sub.requests(), 1)
	assert.Contains(t, f.logs.String(), "eventsub re-subscription failed")
}

func TestDefaultResubscribePolicy(t *testing.T) {
	policy := DefaultResubscribePolicy()
	tests := []struct {
		status   string
		callback bool
		want     bool
	}{
		{RevocationNotificationFailuresExceeded, true, true},
		{RevocationNotificationFailuresExceeded, false, false},
		{RevocationAuthorizationRevoked, true, false},
		{RevocationUserRemoved, true, false},
		{RevocationVersionRemoved, true, false},
	}
	for _, tt := range tests {
		got := policy.ShouldResubscribe(Envelope{SubscriptionStatus: tt.status}, tt.callback)
		assert.Equal(t, tt.want, got, "status=%s callback=%v", tt.status, tt.callback)
	}
	assert.False(t, NeverResubscribe().ShouldResubscribe(Envelope{SubscriptionStatus: RevocationNotificationFailuresExceeded}, true))
}

func TestProcess_StaleMessageRejected(t *testing.T) {
	f := newFixture(t, HandlerConfig{MaxMessageAge: 10 * time.Minute})
	body := []byte(notificationBody)

	resp := f.h.Process(signedHeaders("notification", "old", deliveryTime.Add(-11*time.Minute), body), body)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = f.h.Process(signedHeaders("notification", "future", deliveryTime.Add(11*time.Minute), body), body)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = f.h.Process(signedHeaders("notification", "fresh", deliveryTime.Add(-9*time.Minute), body), body)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, 1, f.disp.count())
}

func TestProcess_StaleVerificationStillAnswered(t *testing.T) {
	f := newFixture(t, HandlerConfig{MaxMessageAge: 10 * time.Minute})
	body := []byte(verificationBody)

	resp := f.h.Process(signedHeaders("webhook_callback_verification", "v-old", deliveryTime.Add(-time.Hour), body), body)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "pogchamp-kappa-360noscope-vohiyo", resp.Body)
	assert.EqualValues(t, 0, f.h.Stats()["webhook"].(map[string]any)["verificationFailures"])
}

func TestProcess_DuplicateDeliveryNotDispatched(t *testing.T) {
	f := newFixture(t, HandlerConfig{MaxMessageAge: 10 * time.Minute})
	body := []byte(notificationBody)
	headers := signedHeaders("notification", "dup-1", deliveryTime, body)

	assert.Equal(t, http.StatusNoContent, f.h.Process(headers, body).Status)
	assert.Equal(t, http.StatusNoContent, f.h.Process(headers, body).Status)

	assert.Equal(t, 1, f.disp.count())
	assert.Equal(t, int64(1), f.h.EventsReceived())
	assert.EqualValues(t, 1, f.h.Stats()["webhook"].(map[string]any)["duplicates"])
}

func TestProcess_ReplayDisabledWhenAgeZero(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	body := []byte(notificationBody)
	headers := signedHeaders("notification", "dup-2", deliveryTime.Add(-time.Hour), body)

	f.h.Process(headers, body)
	f.h.Process(headers, body)

	assert.Equal(t, 2, f.disp.count())
}

func TestStats_NeverExposesCallbackOrSecret(t *testing.T) {
	f := newFixture(t, HandlerConfig{CallbackURL: "https://relay.example.test/eventsub"})
	f.clock.Advance(42 * time.Second)

	stats := f.h.Stats()
	assert.Equal(t, true, stats["callbackConfigured"])
	assert.Equal(t, int64(42), stats["uptimeSeconds"])
	assert.Equal(t, int64(0), stats["eventsReceived"])
	for _, v := range stats {
		s, ok := v.(string)
		if ok {
			assert.NotContains(t, s, "relay.example.test")
			assert.NotContains(t, s, testSecret)
		}
	}

	f = newFixture(t, HandlerConfig{})
	assert.Equal(t, false, f.h.Stats()["callbackConfigured"])
}

func TestHandleInbound_HTTP(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	router := chi.NewRouter()
	f.h.RegisterRoutes("/eventsub")(router)

	body := []byte(verificationBody)
	req := httptest.NewRequest(http.MethodPost, "/eventsub", bytes.NewReader(body))
	for k, v := range signedHeaders("webhook_callback_verification", "h1", deliveryTime, body) {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pogchamp-kappa-360noscope-vohiyo", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/eventsub", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Forbidden", rec.Body.String())
}

func TestHandleInbound_BodyTooLarge(t *testing.T) {
	f := newFixture(t, HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/eventsub", io.NopCloser(strings.NewReader(strings.Repeat("a", maxBodyBytes+1))))
	rec := httptest.NewRecorder()
	f.h.HandleInbound(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, f.disp.count())
}
