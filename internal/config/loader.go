// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone once per process.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the target struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//  6. Run process-specific checks that struct tags cannot express.
package config

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by the loaders.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadEventSubConfig loads and validates the eventsub process configuration.
func LoadEventSubConfig() (*EventSubConfig, error) {
	var cfg EventSubConfig
	if err := load(&cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()

	if !cfg.Relay.Embedded && cfg.Relay.URL == "" {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "RELAY_URL is required unless RELAY_EMBEDDED is true",
		}
	}

	if cfg.Alert.TitleFilter != "" {
		re, err := regexp.Compile(cfg.Alert.TitleFilter)
		if err != nil {
			return nil, &ConfigError{
				Type:    ErrValidation,
				Message: "ALERT_TITLE_FILTER is not a valid regular expression",
				Err:     err,
			}
		}
		cfg.Alert.titleFilter = re
	}

	return &cfg, nil
}

// LoadRelayConfig loads and validates the relay hub process configuration.
func LoadRelayConfig() (*RelayConfig, error) {
	var cfg RelayConfig
	if err := load(&cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()
	return &cfg, nil
}

var enforceUTC sync.Once

// load runs the shared env -> struct -> validate pipeline for any process
// configuration struct.
func load(dst any) error {
	// time.Local is process-global; later loads must not write it while
	// other goroutines read it.
	enforceUTC.Do(func() { time.Local = time.UTC })

	// godotenv.Load() silently succeeds if no .env file exists in the
	// working directory. It does NOT override existing environment variables.
	_ = godotenv.Load()

	// The empty prefix "" means envconfig will use the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	if err := envconfig.Process("", dst); err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(dst); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}
