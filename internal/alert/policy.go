package alert

import (
	"time"

	"streamrelay/internal/types"
)

// DefaultCooldown is the minimum time between two channel-update alerts for
// the same stream.
const DefaultCooldown = 15 * time.Minute

// EventType is the kind of notification an alert is evaluated for. Its value
// is the provider subscription type and is sent as payload eventType.
type EventType string

const (
	EventStreamOnline  EventType = "stream.online"
	EventChannelUpdate EventType = "channel.update"
)

// ParseEventType maps a subscription type to an EventType. Other
// subscription types are not alert-relevant.
func ParseEventType(subscriptionType string) (EventType, bool) {
	switch EventType(subscriptionType) {
	case EventStreamOnline, EventChannelUpdate:
		return EventType(subscriptionType), true
	default:
		return "", false
	}
}

// Reason explains a Decision in logs and counters.
type Reason string

const (
	ReasonNotLive         Reason = "not_live"
	ReasonStreamOnline    Reason = "stream_online"
	ReasonFirstSighting   Reason = "first_sighting"
	ReasonCooldownElapsed Reason = "cooldown_elapsed"
	ReasonCooldownActive  Reason = "cooldown_active"
	ReasonInFlight        Reason = "alert_in_flight"
)

// Decision is the outcome of ShouldAlert.
type Decision struct {
	Alert  bool
	Reason Reason
}

// ShouldAlert decides whether stream warrants an alert. It is pure: the
// caller looks up the dedup entry and records a new one only after the alert
// has actually been published.
//
//   - a stream that is not live is suppressed
//   - stream.online always alerts
//   - channel.update alerts on first sighting, or when strictly more than
//     cooldown has passed since the last alert
func ShouldAlert(stream *types.StreamRecord, eventType EventType, entry DedupEntry, found bool, now time.Time, cooldown time.Duration) Decision {
	if !stream.IsLive() {
		return Decision{Alert: false, Reason: ReasonNotLive}
	}
	if eventType == EventStreamOnline {
		return Decision{Alert: true, Reason: ReasonStreamOnline}
	}
	if !found {
		return Decision{Alert: true, Reason: ReasonFirstSighting}
	}
	if now.Sub(entry.LastAlertedAt) > cooldown {
		return Decision{Alert: true, Reason: ReasonCooldownElapsed}
	}
	return Decision{Alert: false, Reason: ReasonCooldownActive}
}
