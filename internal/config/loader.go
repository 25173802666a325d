// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in cron computation.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
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

// Load loads and validates the reportflow configuration from the environment.
// A .env file in the working directory is read if present but never overrides
// already-set environment variables.
func Load() (*Config, error) {
	// Scheduling math must never depend on the host timezone.
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to parse environment variables",
			Err:     err,
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct validation rules and a few cross-field checks that
// struct tags cannot express.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration failed validation",
			Err:     err,
		}
	}

	if cfg.Queue.MaxAttempts < 1 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "QUEUE_MAX_ATTEMPTS must be at least 1",
		}
	}
	if cfg.Queue.GenerationConcurrency < 1 || cfg.Queue.DeliveryConcurrency < 1 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "queue concurrency values must be at least 1",
		}
	}
	if cfg.Queue.StalledInterval < cfg.Queue.HeartbeatInterval {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "QUEUE_STALLED_INTERVAL must not be shorter than QUEUE_HEARTBEAT_INTERVAL",
		}
	}

	return nil
}
