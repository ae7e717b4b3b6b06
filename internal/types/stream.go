package types

import "time"

// StreamLiveType is the value of StreamRecord.Type for a broadcast that is
// currently live. Only live streams are alert-eligible.
const StreamLiveType = "live"

// StreamRecord is the authoritative stream state returned by the stream-data
// source (Helix "Get Streams"). Fields mirror the upstream resource.
type StreamRecord struct {
	ID           string
	UserID       string
	UserLogin    string
	UserName     string
	GameID       string
	GameName     string
	Type         string
	Title        string
	IsMature     bool
	Tags         []string
	ViewerCount  int
	StartedAt    time.Time
	ThumbnailURL string
}

// IsLive reports whether the record describes a live broadcast.
func (s *StreamRecord) IsLive() bool {
	return s != nil && s.Type == StreamLiveType
}

// UserRecord is the broadcaster identity returned by the stream-data source
// (Helix "Get Users").
type UserRecord struct {
	ID              string
	Login           string
	DisplayName     string
	BroadcasterType string
	ProfileImageURL string
}

// SubscriptionRequest describes an EventSub webhook subscription to create
// with the provider.
type SubscriptionRequest struct {
	Type      string
	Version   string
	Condition map[string]string
	Callback  string
	Secret    SecretString
}
