// Package config provides configuration management for conductor.
package config

import (
	"fmt"
	"time"
)

// Config is the process configuration for conductor.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the control HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Orchestrator holds workflow definition settings.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`

	// Storage is the execution persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Broker is the message transport configuration.
	Broker BrokerConfig `mapstructure:"broker"`

	// Metrics is the Prometheus configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name, also used as the tracing service name.
	Name string `mapstructure:"name" validate:"required"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug forces the debug log level.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the control HTTP server settings.
type ServerConfig struct {
	// Enabled starts the control HTTP server.
	Enabled bool `mapstructure:"enabled"`

	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit throttles the API. Zero disables it.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds token bucket settings for the API.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`

	// Burst is the bucket size.
	Burst int `mapstructure:"burst" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// OrchestratorConfig holds workflow definition settings.
type OrchestratorConfig struct {
	// DefinitionsPath is the YAML or JSON file declaring workflows and
	// subscriptions.
	DefinitionsPath string `mapstructure:"definitions_path" validate:"required"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, redis).
	Type string `mapstructure:"type" validate:"oneof=memory badger redis"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix namespaces execution records.
	KeyPrefix string `mapstructure:"key_prefix"`

	// TTL expires execution records after their last write. Zero keeps them.
	TTL time.Duration `mapstructure:"ttl"`
}

// BrokerConfig holds message transport settings.
type BrokerConfig struct {
	// Type is the transport (memory, redis).
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	// DefaultSubscription is the subscription whose dead-letter feed is
	// consumed for every topic a remote-call task publishes to.
	DefaultSubscription string `mapstructure:"default_subscription" validate:"required"`

	// DeadLetterSuffix is appended to a subscription name to address its
	// dead-letter feed.
	DeadLetterSuffix string `mapstructure:"dead_letter_suffix" validate:"required"`

	// MaxDeliveries is the number of failed deliveries before a message is
	// dead-lettered.
	MaxDeliveries int `mapstructure:"max_deliveries" validate:"min=1"`

	// LockDuration is how long a delivered message stays invisible to other
	// consumers before it is reclaimed.
	LockDuration time.Duration `mapstructure:"lock_duration"`

	// BlockTimeout bounds a single stream read.
	BlockTimeout time.Duration `mapstructure:"block_timeout"`

	StreamPrefix string `mapstructure:"stream_prefix"`
	BatchSize    int64  `mapstructure:"batch_size" validate:"min=0"`
	MaxLen       int64  `mapstructure:"max_len" validate:"min=0"`

	// Redis is the connection used by the redis transport.
	Redis RedisConfig `mapstructure:"redis"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler is always_on, always_off or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, Broker: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.Broker.Type)
}
