package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEventSubTestEnv sets all required environment variables for a valid
// EventSubConfig. It uses t.Setenv so values are automatically cleaned up.
func setEventSubTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("LOG_LEVEL", "debug")

	t.Setenv("EVENTSUB_SECRET", "s3cr3t-signing-value")
	t.Setenv("TWITCH_CLIENT_ID", "client-id-test")
	t.Setenv("TWITCH_CLIENT_SECRET", "client-secret-test")
	t.Setenv("RELAY_URL", "ws://relay.test.local:3000/relay")
}

// TestLoadEventSubConfigSuccess verifies the loader populates values and
// defaults from the environment.
func TestLoadEventSubConfigSuccess(t *testing.T) {
	setEventSubTestEnv(t)

	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("LoadEventSubConfig returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "local")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.EventSub.Secret.Unmask() != "s3cr3t-signing-value" {
		t.Error("EventSub.Secret was not loaded from EVENTSUB_SECRET")
	}
	if cfg.EventSub.Path != "/eventsub" {
		t.Errorf("EventSub.Path = %q, want default %q", cfg.EventSub.Path, "/eventsub")
	}
	if cfg.EventSub.MaxMessageAge != 10*time.Minute {
		t.Errorf("EventSub.MaxMessageAge = %v, want 10m", cfg.EventSub.MaxMessageAge)
	}
	if cfg.Twitch.ClientID != "client-id-test" {
		t.Errorf("Twitch.ClientID = %q, want %q", cfg.Twitch.ClientID, "client-id-test")
	}
	if cfg.Twitch.APIBaseURL != "https://api.twitch.tv/helix" {
		t.Errorf("Twitch.APIBaseURL = %q, want default", cfg.Twitch.APIBaseURL)
	}
	if cfg.Alert.Delay != 10*time.Second {
		t.Errorf("Alert.Delay = %v, want 10s", cfg.Alert.Delay)
	}
	if cfg.Alert.Cooldown != 15*time.Minute {
		t.Errorf("Alert.Cooldown = %v, want 15m", cfg.Alert.Cooldown)
	}
	if cfg.Alert.MaxEntryAge != 24*time.Hour {
		t.Errorf("Alert.MaxEntryAge = %v, want 24h", cfg.Alert.MaxEntryAge)
	}
	if cfg.Relay.URL != "ws://relay.test.local:3000/relay" {
		t.Errorf("Relay.URL = %q, want value from RELAY_URL", cfg.Relay.URL)
	}
	if cfg.Relay.ClientID != "eventsub" {
		t.Errorf("Relay.ClientID = %q, want default %q", cfg.Relay.ClientID, "eventsub")
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want default %q", cfg.Server.Port, "8080")
	}
	if cfg.Alert.TitleFilterRegexp() != nil {
		t.Error("TitleFilterRegexp should be nil when ALERT_TITLE_FILTER is unset")
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q, want %q", cfg.Build.Version, "dev")
	}
}

// TestLoadEventSubConfigSetsUTC verifies that loading leaves time.Local at UTC.
func TestLoadEventSubConfigSetsUTC(t *testing.T) {
	setEventSubTestEnv(t)

	if _, err := LoadEventSubConfig(); err != nil {
		t.Fatalf("LoadEventSubConfig returned error: %v", err)
	}

	if time.Local != time.UTC {
		t.Errorf("time.Local = %v, want UTC", time.Local)
	}
}

// TestLoadWritesLocalOnce verifies that repeated loads do not write
// time.Local again, so a second app can load config while goroutines of the
// first are reading the clock.
func TestLoadWritesLocalOnce(t *testing.T) {
	setEventSubTestEnv(t)

	if _, err := LoadEventSubConfig(); err != nil {
		t.Fatalf("first LoadEventSubConfig returned error: %v", err)
	}

	originalLocal := time.Local
	t.Cleanup(func() {
		time.Local = originalLocal
	})
	marker := time.FixedZone("marker", 3*60*60)
	time.Local = marker

	if _, err := LoadEventSubConfig(); err != nil {
		t.Fatalf("second LoadEventSubConfig returned error: %v", err)
	}
	if _, err := LoadRelayConfig(); err != nil {
		t.Fatalf("LoadRelayConfig returned error: %v", err)
	}

	if time.Local != marker {
		t.Errorf("time.Local = %v, want it untouched by later loads", time.Local)
	}
}

// TestLoadEventSubConfigMissingSecret verifies that a missing signing secret
// fails validation.
func TestLoadEventSubConfigMissingSecret(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("EVENTSUB_SECRET", "")

	_, err := LoadEventSubConfig()
	if err == nil {
		t.Fatal("expected error for missing EVENTSUB_SECRET, got nil")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("expected ErrValidation, got %q", cfgErr.Type)
	}
}

// TestLoadEventSubConfigSecretTooShort verifies the provider's minimum secret
// length is enforced.
func TestLoadEventSubConfigSecretTooShort(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("EVENTSUB_SECRET", "short")

	if _, err := LoadEventSubConfig(); err == nil {
		t.Fatal("expected error for EVENTSUB_SECRET shorter than 10 characters")
	}
}

// TestLoadEventSubConfigInvalidEnvironment verifies that APP_ENV is restricted
// to the known environments.
func TestLoadEventSubConfigInvalidEnvironment(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("APP_ENV", "invalid-env")

	_, err := LoadEventSubConfig()
	if err == nil {
		t.Fatal("expected error for invalid APP_ENV, got nil")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("expected ErrValidation, got %q", cfgErr.Type)
	}
}

// TestLoadEventSubConfigRelayURLRequired verifies that the relay URL is
// required unless the hub is embedded.
func TestLoadEventSubConfigRelayURLRequired(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("RELAY_URL", "")

	_, err := LoadEventSubConfig()
	if err == nil {
		t.Fatal("expected error for missing RELAY_URL, got nil")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrValidation {
		t.Fatalf("expected validation ConfigError, got %v", err)
	}

	t.Setenv("RELAY_EMBEDDED", "true")
	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("embedded relay without URL returned error: %v", err)
	}
	if !cfg.Relay.Embedded {
		t.Error("Relay.Embedded = false, want true")
	}
}

// TestLoadEventSubConfigTitleFilter verifies the title filter is compiled once
// at load time and that an invalid expression fails fast.
func TestLoadEventSubConfigTitleFilter(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("ALERT_TITLE_FILTER", `(?i)\brerun\b`)

	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("LoadEventSubConfig returned error: %v", err)
	}
	re := cfg.Alert.TitleFilterRegexp()
	if re == nil {
		t.Fatal("TitleFilterRegexp is nil, want compiled expression")
	}
	if !re.MatchString("RERUN of yesterday") {
		t.Error("compiled filter should match a rerun title")
	}

	t.Setenv("ALERT_TITLE_FILTER", "([unclosed")
	_, err = LoadEventSubConfig()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrValidation {
		t.Fatalf("expected validation ConfigError for bad regex, got %v", err)
	}
}

// TestLoadEventSubConfigSliceFields verifies comma-separated slice parsing.
func TestLoadEventSubConfigSliceFields(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("ALERT_ALLOWED_GAME_IDS", "509658,33214")

	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("LoadEventSubConfig returned error: %v", err)
	}
	if len(cfg.Alert.AllowedGameIDs) != 2 {
		t.Fatalf("AllowedGameIDs length = %d, want 2", len(cfg.Alert.AllowedGameIDs))
	}
	if cfg.Alert.AllowedGameIDs[0] != "509658" || cfg.Alert.AllowedGameIDs[1] != "33214" {
		t.Errorf("AllowedGameIDs = %v, want [509658 33214]", cfg.Alert.AllowedGameIDs)
	}
}

// TestLoadEventSubConfigDurationOverrides verifies duration parsing.
func TestLoadEventSubConfigDurationOverrides(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("ALERT_DELAY", "2s")
	t.Setenv("ALERT_COOLDOWN", "1h")
	t.Setenv("EVENTSUB_MAX_MESSAGE_AGE", "0s")

	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("LoadEventSubConfig returned error: %v", err)
	}
	if cfg.Alert.Delay != 2*time.Second {
		t.Errorf("Alert.Delay = %v, want 2s", cfg.Alert.Delay)
	}
	if cfg.Alert.Cooldown != time.Hour {
		t.Errorf("Alert.Cooldown = %v, want 1h", cfg.Alert.Cooldown)
	}
	if cfg.EventSub.MaxMessageAge != 0 {
		t.Errorf("EventSub.MaxMessageAge = %v, want 0", cfg.EventSub.MaxMessageAge)
	}
}

// TestLoadEventSubConfigBadDuration verifies unparseable values surface as
// parsing errors.
func TestLoadEventSubConfigBadDuration(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("ALERT_DELAY", "soon")

	_, err := LoadEventSubConfig()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Type != ErrParsing {
		t.Errorf("expected ErrParsing, got %q", cfgErr.Type)
	}
}

// TestLoadEventSubConfigDotenvFile verifies values are read from a .env file
// and that OS environment variables take priority.
func TestLoadEventSubConfigDotenvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envContent := `APP_ENV=dev
EVENTSUB_SECRET=dotenv-signing-secret
TWITCH_CLIENT_ID=dotenv-client
TWITCH_CLIENT_SECRET=dotenv-client-secret
RELAY_URL=ws://dotenv.local/relay
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(envContent), 0644); err != nil {
		t.Fatalf("failed to write .env file: %v", err)
	}

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(origDir)
	})

	// godotenv does not override existing variables, so clear the keys the
	// file provides and restore them afterwards.
	for _, v := range []string{"APP_ENV", "EVENTSUB_SECRET", "TWITCH_CLIENT_SECRET", "RELAY_URL"} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	t.Setenv("TWITCH_CLIENT_ID", "from-os-env")

	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("LoadEventSubConfig with .env file returned error: %v", err)
	}

	if cfg.Environment != "dev" {
		t.Errorf("Environment = %q, want value from .env file", cfg.Environment)
	}
	if cfg.Relay.URL != "ws://dotenv.local/relay" {
		t.Errorf("Relay.URL = %q, want value from .env file", cfg.Relay.URL)
	}
	if cfg.Twitch.ClientID != "from-os-env" {
		t.Errorf("Twitch.ClientID = %q, want OS env value to win", cfg.Twitch.ClientID)
	}
}

// TestLoadRelayConfigDefaults verifies the hub process loads with no
// required variables beyond the defaults.
func TestLoadRelayConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := LoadRelayConfig()
	if err != nil {
		t.Fatalf("LoadRelayConfig returned error: %v", err)
	}
	if cfg.Service != "streamrelay-hub" {
		t.Errorf("Service = %q, want %q", cfg.Service, "streamrelay-hub")
	}
	if cfg.Hub.Path != "/relay" {
		t.Errorf("Hub.Path = %q, want %q", cfg.Hub.Path, "/relay")
	}
	if cfg.Hub.SendBuffer != 64 {
		t.Errorf("Hub.SendBuffer = %d, want 64", cfg.Hub.SendBuffer)
	}
	if cfg.Hub.PingInterval != 25*time.Second {
		t.Errorf("Hub.PingInterval = %v, want 25s", cfg.Hub.PingInterval)
	}
	if len(cfg.Hub.AllowedOrigins) != 1 || cfg.Hub.AllowedOrigins[0] != "*" {
		t.Errorf("Hub.AllowedOrigins = %v, want [*]", cfg.Hub.AllowedOrigins)
	}
	if cfg.Hub.NATSURL != "" {
		t.Errorf("Hub.NATSURL = %q, want empty", cfg.Hub.NATSURL)
	}
}

// TestLoadRelayConfigInvalidBuffer verifies the send buffer must be positive.
func TestLoadRelayConfigInvalidBuffer(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("RELAY_SEND_BUFFER", "0")

	_, err := LoadRelayConfig()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrValidation {
		t.Fatalf("expected validation ConfigError, got %v", err)
	}
}

// TestConfigErrorError verifies the ConfigError.Error() method formatting.
func TestConfigErrorError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ConfigError
		wantStr string
	}{
		{
			name: "with underlying error",
			err: &ConfigError{
				Type:    ErrParsing,
				Message: "failed to process",
				Err:     fmt.Errorf("bad duration"),
			},
			wantStr: "[PARSING_FAILED] failed to process: bad duration",
		},
		{
			name: "without underlying error",
			err: &ConfigError{
				Type:    ErrValidation,
				Message: "RELAY_URL not set",
			},
			wantStr: "[VALIDATION_FAILED] RELAY_URL not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantStr {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

// TestConfigErrorUnwrap verifies that ConfigError.Unwrap() returns the
// underlying error for use with errors.Is/errors.As.
func TestConfigErrorUnwrap(t *testing.T) {
	underlying := fmt.Errorf("root cause")
	cfgErr := &ConfigError{
		Type:    ErrParsing,
		Message: "test",
		Err:     underlying,
	}

	if unwrapped := cfgErr.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(cfgErr, underlying) {
		t.Error("errors.Is should find the underlying error through Unwrap")
	}
}

// TestEventSubConfigAlertSettings verifies the filter policy handed to the
// alert engine.
func TestEventSubConfigAlertSettings(t *testing.T) {
	setEventSubTestEnv(t)
	t.Setenv("ALERT_ALLOWED_GAME_IDS", "G1")
	t.Setenv("ALERT_TITLE_FILTER", "rerun")

	cfg, err := LoadEventSubConfig()
	if err != nil {
		t.Fatalf("LoadEventSubConfig returned error: %v", err)
	}

	settings := cfg.AlertSettings()
	if len(settings.AllowedGameIDs) != 1 || settings.AllowedGameIDs[0] != "G1" {
		t.Errorf("AllowedGameIDs = %v, want [G1]", settings.AllowedGameIDs)
	}
	if settings.TitleFilter == nil || !settings.TitleFilter.MatchString("a rerun") {
		t.Error("TitleFilter should be the compiled ALERT_TITLE_FILTER")
	}
}
