// Package config defines the global configuration structure for the
// reportflow platform. Configuration is loaded once at process start and is
// immutable thereafter, following 12-Factor principles: values come from the
// OS environment, optionally seeded by a .env file for local development.
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"reportflow/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"reportflow"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Email    EmailConfig
	Render   RenderConfig
	Queue    QueueConfig
}

// ServerConfig holds HTTP server configuration for the API binary.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// RedisConfig holds the connection settings for the job store backend.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" validate:"required"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
	PoolSize int          `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

// StorageConfig holds the S3-compatible object storage settings. Endpoint is
// set for MinIO or other S3-compatible stores; leave empty for AWS S3 proper.
type StorageConfig struct {
	Endpoint       string       `envconfig:"STORAGE_ENDPOINT"`
	Region         string       `envconfig:"STORAGE_REGION" default:"us-east-1"`
	Bucket         string       `envconfig:"STORAGE_BUCKET" validate:"required"`
	AccessKey      string       `envconfig:"STORAGE_ACCESS_KEY" validate:"required"`
	SecretKey      SecretString `envconfig:"STORAGE_SECRET_KEY" validate:"required"`
	ForcePathStyle bool         `envconfig:"STORAGE_FORCE_PATH_STYLE" default:"true"`
}

// EmailConfig holds SMTP relay credentials and sender identity.
type EmailConfig struct {
	SMTPHost    string       `envconfig:"EMAIL_SMTP_SERVER" validate:"required"`
	SMTPPort    int          `envconfig:"EMAIL_SMTP_PORT" default:"587"`
	Username    string       `envconfig:"EMAIL_USERNAME" validate:"required"`
	Password    SecretString `envconfig:"EMAIL_PASSWORD" validate:"required"`
	FromName    string       `envconfig:"EMAIL_FROM_NAME" default:"Reportflow"`
	FromAddress string       `envconfig:"EMAIL_FROM_ADDRESS" validate:"required,email"`
}

// RenderConfig holds the rendering engine endpoint. When URL is empty the
// workers fall back to the stub renderer (local development).
type RenderConfig struct {
	URL     string        `envconfig:"RENDER_URL"`
	Timeout time.Duration `envconfig:"RENDER_TIMEOUT" default:"60s"`
}

// QueueConfig holds the job execution tuning parameters shared by the
// schedulers and workers.
type QueueConfig struct {
	GenerationConcurrency int           `envconfig:"QUEUE_GENERATION_CONCURRENCY" default:"5"`
	DeliveryConcurrency   int           `envconfig:"QUEUE_DELIVERY_CONCURRENCY" default:"3"`
	RenderPoolSize        int           `envconfig:"QUEUE_RENDER_POOL_SIZE" default:"5"`
	MaxAttempts           int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBase           time.Duration `envconfig:"QUEUE_BACKOFF_BASE" default:"1s"`
	StalledInterval       time.Duration `envconfig:"QUEUE_STALLED_INTERVAL" default:"30s"`
	MaxStalledCount       int           `envconfig:"QUEUE_MAX_STALLED_COUNT" default:"3"`
	PollInterval          time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	HeartbeatInterval     time.Duration `envconfig:"QUEUE_HEARTBEAT_INTERVAL" default:"10s"`
	MetricsInterval       time.Duration `envconfig:"QUEUE_METRICS_INTERVAL" default:"5m"`
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
