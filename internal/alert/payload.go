package alert

import (
	"encoding/json"
	"time"

	"streamrelay/internal/types"
)

// Payload is the body of a streamAlert relay message.
type Payload struct {
	EventType   EventType   `json:"eventType"`
	Broadcaster Broadcaster `json:"broadcaster"`
	Stream      StreamInfo  `json:"stream"`
}

type Broadcaster struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
}

type StreamInfo struct {
	Title        string     `json:"title"`
	GameID       string     `json:"gameId"`
	GameName     string     `json:"gameName"`
	IsMature     bool       `json:"isMature"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
}

// NewPayload builds the alert body from a stream record. broadcasterID is
// used when the record carries no user id.
func NewPayload(eventType EventType, broadcasterID string, s *types.StreamRecord) Payload {
	p := Payload{
		EventType: eventType,
		Broadcaster: Broadcaster{
			ID:          s.UserID,
			Login:       s.UserLogin,
			DisplayName: s.UserName,
		},
		Stream: StreamInfo{
			Title:        s.Title,
			GameID:       s.GameID,
			GameName:     s.GameName,
			IsMature:     s.IsMature,
			ThumbnailURL: s.ThumbnailURL,
		},
	}
	if p.Broadcaster.ID == "" {
		p.Broadcaster.ID = broadcasterID
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt.UTC()
		p.Stream.StartedAt = &started
	}
	return p
}

// channelUpdateEvent is the subset of a channel.update event the engine reads.
// Version 1 carries is_mature; version 2 replaced it with classification
// labels.
type channelUpdateEvent struct {
	BroadcasterUserID    string   `json:"broadcaster_user_id"`
	BroadcasterUserLogin string   `json:"broadcaster_user_login"`
	BroadcasterUserName  string   `json:"broadcaster_user_name"`
	Title                string   `json:"title"`
	CategoryID           string   `json:"category_id"`
	CategoryName         string   `json:"category_name"`
	IsMature             bool     `json:"is_mature"`
	ContentLabels        []string `json:"content_classification_labels"`
}

// overlayChannelUpdate fills fields the fetched record lacks from the
// channel.update event.
func overlayChannelUpdate(s *types.StreamRecord, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var ev channelUpdateEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	if s.Title == "" {
		s.Title = ev.Title
	}
	if s.GameID == "" {
		s.GameID = ev.CategoryID
	}
	if s.GameName == "" {
		s.GameName = ev.CategoryName
	}
	if !s.IsMature && (ev.IsMature || len(ev.ContentLabels) > 0) {
		s.IsMature = true
	}
	if s.UserLogin == "" {
		s.UserLogin = ev.BroadcasterUserLogin
	}
	if s.UserName == "" {
		s.UserName = ev.BroadcasterUserName
	}
	return nil
}

// broadcasterFromEvent reads broadcaster_user_id from an event payload. Both
// stream.online and channel.update carry it.
func broadcasterFromEvent(raw json.RawMessage) string {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &ev) != nil {
		return ""
	}
	return ev.BroadcasterUserID
}
