package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"streamrelay/internal/types"
)

type subscriptionTransport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
	Secret   string `json:"secret"`
}

type createSubscriptionBody struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport subscriptionTransport `json:"transport"`
}

type subscriptionResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// CreateSubscription registers a webhook EventSub subscription and returns
// the new subscription id. The provider answers asynchronously with a
// webhook_callback_verification message to the callback.
func (c *Client) CreateSubscription(ctx context.Context, req types.SubscriptionRequest) (string, error) {
	version := req.Version
	if version == "" {
		version = "1"
	}

	payload, err := json.Marshal(createSubscriptionBody{
		Type:      req.Type,
		Version:   version,
		Condition: req.Condition,
		Transport: subscriptionTransport{
			Method:   "webhook",
			Callback: req.Callback,
			Secret:   req.Secret.Unmask(),
		},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode subscription request", err)
	}

	var env dataEnvelope[subscriptionResource]
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, bytes.NewReader(payload), &env); err != nil {
		return "", err
	}
	if len(env.Data) == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamRejected, "helix returned no subscription", nil)
	}
	return env.Data[0].ID, nil
}
