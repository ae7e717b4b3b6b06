// Package helix is the stream-data source: a thin client for the Twitch Helix
// API covering the streams, users and EventSub subscription endpoints the
// alert pipeline consumes. All calls go through BaseClient, which enforces
// circuit breaking, retries with backoff, rate limiting and error mapping.
package helix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"streamrelay/internal/types"
)

const (
	defaultBaseURL  = "https://api.twitch.tv/helix"
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	defaultTimeout  = 10 * time.Second

	// maxResponseBytes caps how much of a Helix response body is read.
	maxResponseBytes = 1 << 20
)

// Config holds the credentials and tuning for a Client.
type Config struct {
	ClientID          string
	ClientSecret      types.SecretString
	BaseURL           string
	TokenURL          string
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
}

// Client calls the Helix API using an app access token obtained through the
// OAuth2 client-credentials grant. The token is cached and refreshed by the
// oauth2 transport.
type Client struct {
	base     *BaseClient
	baseURL  string
	clientID string
}

// NewClient builds a Client. The provided opts are applied to the underlying
// BaseClient after the defaults, so tests can override sleep and breaker
// behavior.
func NewClient(cfg Config, opts ...BaseClientOption) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret.Unmask(),
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// The oauth2 transport uses the context's HTTP client for token fetches.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	baseOpts := []BaseClientOption{}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		baseOpts = append(baseOpts, WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)))
	}
	baseOpts = append(baseOpts, opts...)

	return &Client{
		base:     NewBaseClient(httpClient, "helix", DefaultRetryPolicy(), cfg.UserAgent, baseOpts...),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: cfg.ClientID,
	}
}

// dataEnvelope is the common Helix response shape.
type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

// errorBody is the Helix error response shape.
type errorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// do sends a request and decodes a successful JSON response into dst.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build helix request", err)
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read helix response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapStatusError(resp.StatusCode, raw)
	}

	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamRejected, "failed to decode helix response", err)
	}
	return nil
}

// mapStatusError converts a non-retryable Helix error status into an AppError.
func mapStatusError(status int, raw []byte) *types.AppError {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	details := map[string]any{"status": status}
	if eb.Message != "" {
		details["upstream_message"] = eb.Message
	}

	code := types.ErrCodeUpstreamRejected
	if status == http.StatusUnauthorized {
		code = types.ErrCodeAuthTokenInvalid
	}
	return types.NewAppErrorWithDetails(code, fmt.Sprintf("helix returned %d", status), nil, details)
}
