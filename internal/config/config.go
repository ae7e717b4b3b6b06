// Package config defines the configuration structures for the streamrelay
// processes. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"regexp"
	"time"

	"streamrelay/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// EventSubConfig is the configuration for the eventsub process: the webhook
// endpoint, the alert decision engine and the relay publisher.
type EventSubConfig struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"streamrelay-eventsub"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	EventSub WebhookConfig
	Twitch   TwitchConfig
	Alert    AlertConfig
	Relay    PublisherConfig
	// Hub configures the in-process hub when Relay.Embedded is set.
	Hub HubConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// RelayConfig is the configuration for the relay hub process.
type RelayConfig struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"streamrelay-hub"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server ServerConfig
	Hub    HubConfig

	Build BuildInfo
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// WebhookConfig holds the inbound EventSub webhook settings.
type WebhookConfig struct {
	// Secret is the shared HMAC secret registered with the subscription.
	// The provider requires 10-100 ASCII characters.
	Secret SecretString `envconfig:"EVENTSUB_SECRET" validate:"required,min=10,max=100"`
	// CallbackURL is the public URL of this endpoint. Only needed for
	// re-subscribing after a revocation; health reports whether it is set.
	CallbackURL string `envconfig:"EVENTSUB_CALLBACK_URL" validate:"omitempty,url"`
	Path        string `envconfig:"EVENTSUB_PATH" default:"/eventsub" validate:"startswith=/"`
	// MaxMessageAge rejects stale or replayed deliveries. Zero disables the check.
	MaxMessageAge time.Duration `envconfig:"EVENTSUB_MAX_MESSAGE_AGE" default:"10m"`
	Resubscribe   bool          `envconfig:"EVENTSUB_RESUBSCRIBE" default:"true"`
}

// TwitchConfig holds the stream-data source (Helix) credentials and tuning.
type TwitchConfig struct {
	ClientID          string        `envconfig:"TWITCH_CLIENT_ID" validate:"required"`
	ClientSecret      SecretString  `envconfig:"TWITCH_CLIENT_SECRET" validate:"required"`
	APIBaseURL        string        `envconfig:"TWITCH_API_BASE_URL" default:"https://api.twitch.tv/helix" validate:"url"`
	TokenURL          string        `envconfig:"TWITCH_TOKEN_URL" default:"https://id.twitch.tv/oauth2/token" validate:"url"`
	RequestsPerSecond float64       `envconfig:"TWITCH_REQUESTS_PER_SECOND" default:"10" validate:"gt=0"`
	Timeout           time.Duration `envconfig:"TWITCH_TIMEOUT" default:"10s"`
}

// AlertConfig holds the alert decision engine policy.
type AlertConfig struct {
	Delay           time.Duration `envconfig:"ALERT_DELAY" default:"10s"`
	Cooldown        time.Duration `envconfig:"ALERT_COOLDOWN" default:"15m"`
	MaxEntryAge     time.Duration `envconfig:"ALERT_MAX_ENTRY_AGE" default:"24h"`
	SweepInterval   time.Duration `envconfig:"ALERT_SWEEP_INTERVAL" default:"1h"`
	FetchTimeout    time.Duration `envconfig:"ALERT_FETCH_TIMEOUT" default:"15s"`
	DrainOnShutdown bool          `envconfig:"ALERT_DRAIN_ON_SHUTDOWN" default:"false"`

	// AllowedGameIDs restricts alerts to these categories. Empty allows all.
	AllowedGameIDs []string `envconfig:"ALERT_ALLOWED_GAME_IDS"`
	// TitleFilter suppresses streams whose title matches this expression.
	TitleFilter string `envconfig:"ALERT_TITLE_FILTER"`

	titleFilter *regexp.Regexp
}

// TitleFilterRegexp returns the compiled title filter, or nil when no filter
// is configured. It is populated by the loader.
func (c AlertConfig) TitleFilterRegexp() *regexp.Regexp {
	return c.titleFilter
}

// AlertSettings is the filter policy handed to the alert engine.
type AlertSettings struct {
	// AllowedGameIDs restricts alerts to these categories. Empty allows all.
	AllowedGameIDs []string
	// TitleFilter suppresses streams whose title matches. Nil disables.
	TitleFilter *regexp.Regexp
}

// AlertSettings returns the alert filter policy.
func (c *EventSubConfig) AlertSettings() AlertSettings {
	return AlertSettings{
		AllowedGameIDs: c.Alert.AllowedGameIDs,
		TitleFilter:    c.Alert.titleFilter,
	}
}

// PublisherConfig describes how the eventsub process reaches the relay hub.
type PublisherConfig struct {
	// URL is the hub WebSocket endpoint, e.g. ws://relay:3000/relay.
	URL      string `envconfig:"RELAY_URL" validate:"omitempty,url"`
	ClientID string `envconfig:"RELAY_CLIENT_ID" default:"eventsub" validate:"required"`
	// Embedded runs the hub inside the eventsub process instead of dialing URL.
	Embedded bool `envconfig:"RELAY_EMBEDDED" default:"false"`
}

// HubConfig holds relay hub settings.
type HubConfig struct {
	Path           string        `envconfig:"RELAY_PATH" default:"/relay" validate:"startswith=/"`
	AllowedOrigins []string      `envconfig:"RELAY_ALLOWED_ORIGINS" default:"*"`
	SendBuffer     int           `envconfig:"RELAY_SEND_BUFFER" default:"64" validate:"gt=0"`
	PingInterval   time.Duration `envconfig:"RELAY_PING_INTERVAL" default:"25s"`
	WriteTimeout   time.Duration `envconfig:"RELAY_WRITE_TIMEOUT" default:"10s"`

	// NATSURL enables mirroring relayed messages onto NATS subjects.
	NATSURL           string `envconfig:"RELAY_NATS_URL"`
	NATSSubjectPrefix string `envconfig:"RELAY_NATS_SUBJECT_PREFIX" default:"relay"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string `ignored:"true"`
	Commit    string `ignored:"true"`
	BuildTime string `ignored:"true"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
