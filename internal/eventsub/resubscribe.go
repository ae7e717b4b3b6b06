package eventsub

import (
	"context"

	"streamrelay/internal/types"
)

// Subscriber creates EventSub subscriptions with the provider. The Helix
// client implements it.
type Subscriber interface {
	CreateSubscription(ctx context.Context, req types.SubscriptionRequest) (string, error)
}

// ResubscribePolicy decides whether a revoked subscription is re-created.
type ResubscribePolicy interface {
	ShouldResubscribe(env Envelope, callbackConfigured bool) bool
}

// ResubscribePolicyFunc adapts a function to ResubscribePolicy.
type ResubscribePolicyFunc func(env Envelope, callbackConfigured bool) bool

// ShouldResubscribe implements ResubscribePolicy.
func (f ResubscribePolicyFunc) ShouldResubscribe(env Envelope, callbackConfigured bool) bool {
	return f(env, callbackConfigured)
}

// DefaultResubscribePolicy re-subscribes only after the provider gave up on
// a failing callback. Revocations caused by the broadcaster (authorization
// revoked, user removed) or by the provider (version removed) are final.
func DefaultResubscribePolicy() ResubscribePolicy {
	return ResubscribePolicyFunc(func(env Envelope, callbackConfigured bool) bool {
		return callbackConfigured && env.SubscriptionStatus == RevocationNotificationFailuresExceeded
	})
}

// NeverResubscribe disables re-subscription.
func NeverResubscribe() ResubscribePolicy {
	return ResubscribePolicyFunc(func(Envelope, bool) bool { return false })
}
