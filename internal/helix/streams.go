package helix

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"streamrelay/internal/types"
)

type streamResource struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
	IsMature     bool      `json:"is_mature"`
}

func (s streamResource) record() *types.StreamRecord {
	return &types.StreamRecord{
		ID:           s.ID,
		UserID:       s.UserID,
		UserLogin:    s.UserLogin,
		UserName:     s.UserName,
		GameID:       s.GameID,
		GameName:     s.GameName,
		Type:         s.Type,
		Title:        s.Title,
		IsMature:     s.IsMature,
		Tags:         s.Tags,
		ViewerCount:  s.ViewerCount,
		StartedAt:    s.StartedAt,
		ThumbnailURL: s.ThumbnailURL,
	}
}

// GetStreamByID returns the current stream of the broadcaster, or (nil, nil)
// when the broadcaster is not streaming. It makes a single attempt: a failed
// lookup skips the alert for this notification.
func (c *Client) GetStreamByID(ctx context.Context, broadcasterID string) (*types.StreamRecord, error) {
	var env dataEnvelope[streamResource]
	if err := c.do(WithoutRetries(ctx), http.MethodGet, "/streams", url.Values{"user_id": {broadcasterID}}, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	return env.Data[0].record(), nil
}

type userResource struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	BroadcasterType string `json:"broadcaster_type"`
	ProfileImageURL string `json:"profile_image_url"`
}

// GetUserByID returns the user with the given id, or (nil, nil) when no such
// user exists.
func (c *Client) GetUserByID(ctx context.Context, id string) (*types.UserRecord, error) {
	var env dataEnvelope[userResource]
	if err := c.do(ctx, http.MethodGet, "/users", url.Values{"id": {id}}, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	u := env.Data[0]
	return &types.UserRecord{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		BroadcasterType: u.BroadcasterType,
		ProfileImageURL: u.ProfileImageURL,
	}, nil
}
