package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	messageIDKey contextKey = "eventsub_message_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithMessageID stores the inbound EventSub message ID in the context so that
// delayed processing can be correlated with the webhook delivery in logs.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey, id)
}

// GetMessageID retrieves the EventSub message ID from the context.
func GetMessageID(ctx context.Context) string {
	id, _ := ctx.Value(messageIDKey).(string)
	return id
}
