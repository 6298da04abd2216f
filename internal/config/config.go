// Package config provides centralized configuration management for the
// converter binaries. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Export   ExportConfig
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Logging  LoggingConfig
}

// Output modes for the tabular emitter.
const (
	ModeFixed      = "fixed"
	ModeSchemaless = "schemaless"
)

// ExportConfig controls how records are projected and emitted.
type ExportConfig struct {
	// Mode is the emitter mode: fixed or schemaless (default: fixed)
	Mode string `env:"HEALTH_EXPORT_MODE" default:"fixed"`

	// Strict aborts the run on the first record missing a required field
	// instead of skipping it (default: false)
	Strict bool `env:"HEALTH_EXPORT_STRICT" default:"false"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing the response (default: 0, unbounded)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// TrustedProxies is a comma-separated list of CIDRs or IPs whose
	// X-Real-IP / X-Forwarded-For headers are honored (default: none)
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// APIKeys is a comma-separated list of keys accepted in X-API-Key on
	// /api routes. Empty disables the check (default: empty)
	APIKeys string `env:"SERVER_API_KEYS"`
}

// DatabaseConfig holds database connection settings used by health-import.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// Table is the destination table for imported records (default: health_records)
	Table string `env:"DB_TABLE" default:"health_records"`
}

// UploadConfig holds archive upload settings for the server and batch
// settings for the import.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted archive size in bytes (default: 1GB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"1073741824"`

	// MaxConcurrent is the maximum number of parallel conversions (default: 2)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for a conversion slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows copied per batch on import (default: 5000)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"5000"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// TrustedProxyList splits TrustedProxies.
func (c *ServerConfig) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

// APIKeyList splits APIKeys.
func (c *ServerConfig) APIKeyList() []string {
	return splitList(c.APIKeys)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
