// Package relay implements the fan-out hub that rebroadcasts allow-listed
// events to every connected client, its WebSocket transport and a client for
// publishers and subscribers.
package relay

import "time"

// EventName is a relay event. Only the constants below are relayed.
type EventName string

const (
	EventStreamAlert           EventName = "streamAlert"
	EventWeeklyRaceRoomCreated EventName = "weeklyRaceRoomCreated"
	EventJoinChannel           EventName = "joinChannel"
	EventLeaveChannel          EventName = "leaveChannel"
)

// AllEvents lists the allow-list in a stable order.
var AllEvents = []EventName{
	EventStreamAlert,
	EventWeeklyRaceRoomCreated,
	EventJoinChannel,
	EventLeaveChannel,
}

// ParseEventName validates a name received from an external publisher.
func ParseEventName(s string) (EventName, bool) {
	switch e := EventName(s); e {
	case EventStreamAlert, EventWeeklyRaceRoomCreated, EventJoinChannel, EventLeaveChannel:
		return e, true
	default:
		return "", false
	}
}

func (e EventName) String() string { return string(e) }

// Message is what the hub delivers to each connection.
type Message struct {
	Event   EventName
	Payload any
	// Source is the publisher's declared client id. It is not authenticated.
	Source    string
	RelayedAt time.Time
}
