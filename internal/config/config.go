// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"log/slog"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Storage  StorageConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080" validate:"min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s" validate:"gte=0"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s" validate:"gte=0"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s" validate:"gte=0"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`

	// RequestTimeout bounds the non-streaming API routes (default: 60s).
	// Imports run under IMPORT_TIMEOUT instead.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s" validate:"gte=0"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true" validate:"required"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20" validate:"gt=0,gtefield=MinConns"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4" validate:"gte=0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds student import processing settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes, 0 for no limit (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760" validate:"gte=0"`

	// MaxConcurrent is the maximum number of parallel import runs (default: 3)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"3" validate:"gt=0"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s" validate:"gt=0"`

	// Timeout is the maximum duration of a single import run, synchronous or
	// background (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m" validate:"gt=0"`

	// RunRetention is how long a finished async run stays queryable (default: 5m)
	RunRetention time.Duration `env:"IMPORT_RUN_RETENTION" default:"5m" validate:"gte=0"`

	// LogRetentionDays is how many days import logs are kept (default: 365)
	LogRetentionDays int `env:"IMPORT_LOG_RETENTION_DAYS" default:"365" validate:"gt=0"`

	// LogCheckInterval is how often expired import logs are purged (default: 24h)
	LogCheckInterval time.Duration `env:"IMPORT_LOG_CHECK_INTERVAL" default:"24h" validate:"gt=0"`

	// HistoryLimit caps the number of log entries returned by the history endpoint (default: 50)
	HistoryLimit int `env:"IMPORT_HISTORY_LIMIT" default:"50" validate:"gt=0"`
}

// RateLimitConfig holds rate limiting settings per time window.
// The limits are only checked when Enabled is set.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for the import endpoint (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// JWTSecret signs and verifies HS256 access tokens (required, >= 32 bytes)
	JWTSecret string `env:"JWT_SECRET" required:"true" validate:"min=32"`

	// JWTIssuer, when set, must match the token's iss claim
	JWTIssuer string `env:"JWT_ISSUER"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// StorageConfig holds object storage settings for archived import files.
// Archiving is disabled when Endpoint is empty.
type StorageConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY" validate:"required_with=Endpoint"`
	SecretKey string `env:"MINIO_SECRET_KEY" validate:"required_with=Endpoint"`
	Bucket    string `env:"MINIO_BUCKET" default:"skooler-imports" validate:"required_with=Endpoint"`
	UseSSL    bool   `env:"MINIO_USE_SSL" default:"false"`
}

// Enabled reports whether an object store is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Endpoint != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// LogValue implements slog.LogValuer. Credentials are never included.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Server.Addr()),
		slog.Int("db_max_conns", c.Database.MaxConns),
		slog.Int("db_min_conns", c.Database.MinConns),
		slog.Int64("import_max_file_size", c.Import.MaxFileSize),
		slog.Int("import_max_concurrent", c.Import.MaxConcurrent),
		slog.Duration("import_timeout", c.Import.Timeout),
		slog.Bool("rate_limit_enabled", c.Rate.Enabled),
		slog.Int("rate_limit_rpm", c.Rate.RequestsPerMinute),
		slog.Int("trusted_proxies", len(c.Security.TrustedProxies)),
		slog.Bool("archive_enabled", c.Storage.Enabled()),
		slog.String("archive_bucket", c.Storage.Bucket),
		slog.String("log_level", c.Logging.Level),
	)
}
