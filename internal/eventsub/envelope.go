// Package eventsub implements the inbound Twitch EventSub webhook: signature
// verification, replay protection, message classification and dispatch of
// notifications to the alert engine.
package eventsub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Delivery headers set by the provider on every webhook request.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	HeaderSubscriptionType = "Twitch-Eventsub-Subscription-Type"
)

// MessageType classifies a delivery. It is taken from the message-type header,
// never from the body.
type MessageType string

const (
	MessageTypeVerification MessageType = "webhook_callback_verification"
	MessageTypeNotification MessageType = "notification"
	MessageTypeRevocation   MessageType = "revocation"
	MessageTypeUnknown      MessageType = "unknown"
)

// ParseMessageType maps a header value to a MessageType.
func ParseMessageType(v string) MessageType {
	switch MessageType(v) {
	case MessageTypeVerification, MessageTypeNotification, MessageTypeRevocation:
		return MessageType(v)
	default:
		return MessageTypeUnknown
	}
}

// Subscription types consumed by the alert engine.
const (
	SubscriptionStreamOnline  = "stream.online"
	SubscriptionChannelUpdate = "channel.update"
)

// Revocation statuses reported in subscription.status.
const (
	RevocationUserRemoved                  = "user_removed"
	RevocationAuthorizationRevoked         = "authorization_revoked"
	RevocationNotificationFailuresExceeded = "notification_failures_exceeded"
	RevocationVersionRemoved               = "version_removed"
)

// Envelope is a verified, parsed delivery. It lives for one request and is
// never persisted.
type Envelope struct {
	MessageID           string
	MessageType         MessageType
	Timestamp           time.Time
	SubscriptionID      string
	SubscriptionType    string
	SubscriptionVersion string
	SubscriptionStatus  string
	Condition           map[string]string
	// Event is the subscription-type specific payload, left undecoded.
	Event     json.RawMessage
	Challenge string
}

// wireBody is the JSON body shape shared by all message types.
type wireBody struct {
	Subscription struct {
		ID        string            `json:"id"`
		Status    string            `json:"status"`
		Type      string            `json:"type"`
		Version   string            `json:"version"`
		Condition map[string]string `json:"condition"`
	} `json:"subscription"`
	Event     json.RawMessage `json:"event"`
	Challenge string          `json:"challenge"`
}

// parseEnvelope decodes an already-verified body. The message type and id
// come from headers.
func parseEnvelope(headers http.Header, body []byte) (Envelope, error) {
	var wb wireBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return Envelope{}, fmt.Errorf("decoding eventsub body: %w", err)
	}

	env := Envelope{
		MessageID:           headers.Get(HeaderMessageID),
		MessageType:         ParseMessageType(headers.Get(HeaderMessageType)),
		SubscriptionID:      wb.Subscription.ID,
		SubscriptionType:    wb.Subscription.Type,
		SubscriptionVersion: wb.Subscription.Version,
		SubscriptionStatus:  wb.Subscription.Status,
		Condition:           wb.Subscription.Condition,
		Event:               wb.Event,
		Challenge:           wb.Challenge,
	}
	if ts, err := parseTimestamp(headers.Get(HeaderMessageTimestamp)); err == nil {
		env.Timestamp = ts
	}
	return env, nil
}

// parseTimestamp parses the RFC3339 timestamp header; the provider sends
// nanosecond precision.
func parseTimestamp(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
