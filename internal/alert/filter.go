package alert

import (
	"slices"

	"streamrelay/internal/config"
	"streamrelay/internal/types"
)

// SettingsSource supplies the operator-configured alert filters. It is read
// on every evaluation so a reloaded source takes effect without a restart.
type SettingsSource interface {
	AlertSettings() config.AlertSettings
}

// StaticSettings is a SettingsSource with fixed values.
type StaticSettings config.AlertSettings

// AlertSettings implements SettingsSource.
func (s StaticSettings) AlertSettings() config.AlertSettings { return config.AlertSettings(s) }

// Filter reasons.
const (
	ReasonGameNotAllowed Reason = "game_not_allowed"
	ReasonTitleFiltered  Reason = "title_filtered"
)

// Allows applies the configured filters to a live stream. An empty game list
// allows every game; a title matching the filter suppresses the alert.
func Allows(s config.AlertSettings, stream *types.StreamRecord) (bool, Reason) {
	if len(s.AllowedGameIDs) > 0 && !slices.Contains(s.AllowedGameIDs, stream.GameID) {
		return false, ReasonGameNotAllowed
	}
	if s.TitleFilter != nil && s.TitleFilter.MatchString(stream.Title) {
		return false, ReasonTitleFiltered
	}
	return true, ""
}
