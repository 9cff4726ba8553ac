// Package config defines the global configuration structure for the Pulse
// aggregation engine. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor App principles by
// strictly separating code from configuration.
//
// Values are resolved from the OS environment, with a .env file as a
// development convenience. Any missing required value or invalid format
// fails startup immediately.
package config

import (
	"time"

	"pulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the aggregation engine.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pulse-aggregator"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Warehouse WarehouseConfig
	Scheduler SchedulerConfig
	Security  SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration for the admin API.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds the control-plane database connection and pool tuning
// parameters. This database stores tenants, metric definitions, goal records,
// and the aggregated time-series points.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// WarehouseConfig holds the connection to the analytical warehouse that
// hosts the per-tenant source schemas. When WAREHOUSE_URL is unset the
// control-plane database doubles as the warehouse, which is the usual
// single-instance deployment.
type WarehouseConfig struct {
	URL          SecretString  `envconfig:"WAREHOUSE_URL"`
	QueryTimeout time.Duration `envconfig:"WAREHOUSE_QUERY_TIMEOUT" default:"30s"`
	MaxConns     int           `envconfig:"WAREHOUSE_MAX_CONNS" default:"5"`
}

// SchedulerConfig holds the tick loop cadence and job defaults.
type SchedulerConfig struct {
	// Enabled is the process-wide switch; with it off the admin API still
	// serves but no scheduled aggregation runs.
	Enabled            bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	TickInterval       time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"1m"`
	RetryBackoff       time.Duration `envconfig:"SCHEDULER_RETRY_BACKOFF" default:"5m"`
	JobIntervalMinutes int           `envconfig:"SCHEDULER_JOB_INTERVAL_MINUTES" default:"60" validate:"gt=0"`
}

// SecurityConfig holds admin access configuration. Every /admin route
// requires the API key.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
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
