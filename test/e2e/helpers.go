//go:build e2e

// Package e2e provides helpers for end-to-end testing of a locally running
// streamrelay stack:
//
//	EventSub webhook (HTTP) -> alert engine -> relay hub (WebSocket) -> subscribers
//
// Prerequisites:
//   - cmd/relay running (E2E_RELAY_URL, default http://localhost:8081)
//   - cmd/eventsub running with RELAY_URL pointing at that hub
//     (E2E_EVENTSUB_URL, default http://localhost:8080)
//   - E2E_EVENTSUB_SECRET matching the eventsub process's EVENTSUB_SECRET
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"streamrelay/internal/eventsub"
	"streamrelay/internal/relay"
)

// TestConfig holds addresses and timeouts for the E2E test environment.
type TestConfig struct {
	// EventSubURL is the base URL of the eventsub process.
	EventSubURL string
	// EventSubPath is the webhook path on that process.
	EventSubPath string
	// Secret is the shared EventSub signing secret.
	Secret string

	// RelayURL is the base URL of the standalone relay hub.
	RelayURL string
	// RelayPath is the hub's WebSocket path.
	RelayPath string

	// DeliveryTimeout bounds how long a test waits for a relayed message.
	DeliveryTimeout time.Duration
}

// DefaultTestConfig returns a TestConfig populated from environment variables
// with defaults for a stack started on localhost.
func DefaultTestConfig() TestConfig {
	return TestConfig{
		EventSubURL:     envOrDefault("E2E_EVENTSUB_URL", "http://localhost:8080"),
		EventSubPath:    envOrDefault("E2E_EVENTSUB_PATH", "/eventsub"),
		Secret:          envOrDefault("E2E_EVENTSUB_SECRET", "local-eventsub-secret"),
		RelayURL:        envOrDefault("E2E_RELAY_URL", "http://localhost:8081"),
		RelayPath:       envOrDefault("E2E_RELAY_PATH", "/relay"),
		DeliveryTimeout: 5 * time.Second,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestEnv encapsulates shared state for E2E tests. It is initialized once in
// TestMain and shared across tests.
type TestEnv struct {
	Config TestConfig
	Client *http.Client
}

// NewTestEnv verifies both processes answer their health endpoints.
func NewTestEnv(cfg TestConfig) (*TestEnv, error) {
	env := &TestEnv{
		Config: cfg,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, base := range []string{cfg.RelayURL, cfg.EventSubURL} {
		resp, err := env.Client.Get(base + "/health")
		if err != nil {
			return nil, fmt.Errorf("reaching %s: %w", base, err)
		}
		resp.Body.Close()
	}
	return env, nil
}

// Health fetches and decodes a process's health body.
func (e *TestEnv) Health(t *testing.T, baseURL string) (int, map[string]any) {
	t.Helper()
	resp, err := e.Client.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("GET %s/health: %v", baseURL, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	return resp.StatusCode, body
}

// DeliverSigned posts body to the webhook with valid EventSub headers.
func (e *TestEnv) DeliverSigned(t *testing.T, messageType string, body []byte) *http.Response {
	t.Helper()
	return e.deliver(t, messageType, body, func(id, ts string) string {
		return eventsub.Sign(e.Config.Secret, id, ts, body)
	})
}

// DeliverUnsigned posts body with a signature that cannot verify.
func (e *TestEnv) DeliverUnsigned(t *testing.T, messageType string, body []byte) *http.Response {
	t.Helper()
	return e.deliver(t, messageType, body, func(string, string) string {
		return "sha256=" + strings.Repeat("0", 64)
	})
}

func (e *TestEnv) deliver(t *testing.T, messageType string, body []byte, sign func(id, ts string) string) *http.Response {
	t.Helper()
	id := uuid.NewString()
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	req, err := http.NewRequest(http.MethodPost, e.Config.EventSubURL+e.Config.EventSubPath, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventsub.HeaderMessageID, id)
	req.Header.Set(eventsub.HeaderMessageTimestamp, ts)
	req.Header.Set(eventsub.HeaderMessageType, messageType)
	req.Header.Set(eventsub.HeaderMessageSignature, sign(id, ts))

	resp, err := e.Client.Do(req)
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ReadBody drains a response body into a string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

// Subscriber is a relay client that records every message it receives.
type Subscriber struct {
	Client   *relay.Client
	Messages chan relay.Message
}

// Subscribe connects a relay client as clientID and waits until it is open.
func (e *TestEnv) Subscribe(t *testing.T, clientID string) *Subscriber {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.Config.RelayURL, "http") + e.Config.RelayPath
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := relay.NewClient(relay.ClientConfig{URL: wsURL, ClientID: clientID}, logger)
	if err != nil {
		t.Fatalf("creating relay client: %v", err)
	}

	sub := &Subscriber{Client: client, Messages: make(chan relay.Message, 16)}
	client.OnMessage(func(m relay.Message) {
		select {
		case sub.Messages <- m:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		client.Close()
		<-done
	})

	wctx, wcancel := context.WithTimeout(context.Background(), e.Config.DeliveryTimeout)
	defer wcancel()
	if err := client.WaitConnected(wctx); err != nil {
		t.Fatalf("connecting %s to %s: %v", clientID, wsURL, err)
	}
	return sub
}

// Next waits for the next message of the given event, skipping others.
func (s *Subscriber) Next(t *testing.T, event relay.EventName, timeout time.Duration) relay.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-s.Messages:
			if m.Event == event {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s message within %s", event, timeout)
			return relay.Message{}
		}
	}
}
