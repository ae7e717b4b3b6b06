package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"streamrelay/internal/types"
)

// --- Recoverer Tests ---

func TestRecoverer_NoPanic(t *testing.T) {
	srv := newTestServer(t)

	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestRecoverer_Panic_ReturnsJSON500(t *testing.T) {
	srv := newTestServer(t)

	handler := RequestIDMiddleware(srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something went terribly wrong")
	})))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-Id", "req-panic-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}

	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %q, got %q", types.ErrCodeInternalUnexpected, resp.Error.Code)
	}
	if resp.Error.RequestID != "req-panic-1" {
		t.Errorf("expected request id to be preserved, got %q", resp.Error.RequestID)
	}
	if strings.Contains(rec.Body.String(), "terribly") {
		t.Error("panic value must not leak to the client")
	}
}

// --- RequestLogger Tests ---

func TestRequestLogger_LogsRequestMetadata(t *testing.T) {
	buf := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/eventsub", nil))

	logOutput := buf.String()
	if !strings.Contains(logOutput, "request completed") {
		t.Errorf("log should contain 'request completed', got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "POST") || !strings.Contains(logOutput, "/eventsub") {
		t.Errorf("log should contain method and path, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, `"status":204`) {
		t.Errorf("log should contain status 204, got: %s", logOutput)
	}
}

func TestRequestLogger_RedactsSignatureHeader(t *testing.T) {
	buf := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := RequestLogger(logger, defaultRedactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/eventsub", strings.NewReader(`{"secret":"body-content"}`))
	req.Header.Set("Twitch-Eventsub-Message-Signature", "sha256=deadbeefcafe")
	req.Header.Set("Twitch-Eventsub-Message-Type", "notification")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	logOutput := buf.String()
	if strings.Contains(logOutput, "deadbeefcafe") {
		t.Error("signature header value should be redacted")
	}
	if strings.Contains(logOutput, "body-content") {
		t.Error("request body must never be logged")
	}
	if !strings.Contains(logOutput, "[REDACTED]") {
		t.Error("redacted headers should show [REDACTED]")
	}
	if !strings.Contains(logOutput, "notification") {
		t.Error("non-redacted headers should appear in log")
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusForbidden, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		buf := &strings.Builder{}
		logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if !strings.Contains(buf.String(), `"level":"`+tt.level+`"`) {
			t.Errorf("status %d: expected level %s, got: %s", tt.status, tt.level, buf.String())
		}
	}
}

// --- responseCapture Tests ---

func TestResponseCapture_WriteHeaderOnlyOnce(t *testing.T) {
	rc := &responseCapture{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rc.WriteHeader(http.StatusForbidden)
	rc.WriteHeader(http.StatusOK)

	if rc.statusCode != http.StatusForbidden {
		t.Errorf("expected first status to win, got %d", rc.statusCode)
	}
}

func TestResponseCapture_HijackUnsupported(t *testing.T) {
	rc := &responseCapture{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rc.Hijack(); err == nil {
		t.Error("expected hijack of a recorder to fail")
	}
	if rc.written {
		t.Error("failed hijack must not mark the response as written")
	}
}

func TestRequestLogger_EventSubFields(t *testing.T) {
	buf := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/eventsub", nil)
	req.Header.Set("Twitch-Eventsub-Message-Id", "msg-42")
	req.Header.Set("Twitch-Eventsub-Message-Type", "notification")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"eventsub_message_id":"msg-42"`) {
		t.Errorf("log should carry the message id, got: %s", out)
	}
	if !strings.Contains(out, `"eventsub_message_type":"notification"`) {
		t.Errorf("log should carry the message type, got: %s", out)
	}
}

func TestRequestLogger_WebSocketUpgrade(t *testing.T) {
	buf := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/relay?clientId=overlay", nil))

	out := buf.String()
	if !strings.Contains(out, "websocket connection closed") {
		t.Errorf("upgrade should log connection close, got: %s", out)
	}
	if !strings.Contains(out, `"client_id":"overlay"`) {
		t.Errorf("upgrade log should carry the client id, got: %s", out)
	}
}
