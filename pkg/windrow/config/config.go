// Package config loads and models the engine's configuration from YAML
// with .env and environment-variable overrides.
package config

import (
	"time"

	fault "github.com/windrowio/windrow/pkg/windrow/core/fault"
	configbind "github.com/windrowio/windrow/pkg/windrow/support/configbind"
)

// EmbeddedConfig holds the raw configuration bytes, typically embedded
// into the binary by the application's main package.
type EmbeddedConfig []byte

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the logging level ("DEBUG", "INFO", "WARN", "ERROR", "FATAL").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// EngineConfig holds the chunk engine defaults applied to steps that do
// not set their own values.
type EngineConfig struct {
	// ChunkSize is the default records per pull/commit cycle.
	ChunkSize int `yaml:"chunk_size"`
	// Concurrency is the default worker bound for partitioned steps.
	Concurrency int `yaml:"concurrency"`
	// RetryLimit is the default retry ceiling per failing operation.
	RetryLimit int `yaml:"retry_limit"`
	// SkipLimit is the default skip ceiling per run. Zero forbids skips.
	SkipLimit int `yaml:"skip_limit"`
	// BackoffInitialMs is the initial retry backoff in milliseconds.
	BackoffInitialMs int `yaml:"backoff_initial_ms"`
	// BackoffMultiplier scales the backoff per attempt.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// BackoffMaxMs caps the backoff in milliseconds.
	BackoffMaxMs int `yaml:"backoff_max_ms"`
}

// PolicyConfig converts the engine defaults into a fault policy
// configuration.
func (e EngineConfig) PolicyConfig() fault.PolicyConfig {
	return fault.PolicyConfig{
		RetryLimit:        e.RetryLimit,
		SkipLimit:         e.SkipLimit,
		BackoffInitial:    time.Duration(e.BackoffInitialMs) * time.Millisecond,
		BackoffMultiplier: e.BackoffMultiplier,
		BackoffMax:        time.Duration(e.BackoffMaxMs) * time.Millisecond,
	}
}

// DatabaseConfig holds the connection settings of the SQL ledger.
type DatabaseConfig struct {
	// Driver selects the backend: "sqlite", "postgres" or "mysql".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// SSLMode applies to postgres connections.
	SSLMode string `yaml:"sslmode"`
	// Path is the database file for sqlite.
	Path string `yaml:"path"`
}

// LedgerConfig selects and configures the execution ledger backend.
type LedgerConfig struct {
	// Backend is "memory" or "sql".
	Backend string `yaml:"backend"`
	// Database holds the loosely typed connection properties for the
	// sql backend, bound via DatabaseConfig().
	Database map[string]interface{} `yaml:"database"`
}

// DatabaseConfig binds the ledger's database properties onto a typed
// struct.
func (l LedgerConfig) DatabaseConfig() (DatabaseConfig, error) {
	var dbc DatabaseConfig
	if l.Database == nil {
		return dbc, nil
	}
	if err := configbind.BindProperties(l.Database, &dbc); err != nil {
		return DatabaseConfig{}, err
	}
	return dbc, nil
}

// MetricsConfig holds the Prometheus recorder settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Namespace prefixes every metric name; defaults to "windrow".
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig holds the OTLP trace exporter settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `yaml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
	// ServiceName names this process in traces; defaults to "windrow".
	ServiceName string `yaml:"service_name"`
	// SampleRatio is the trace sampling ratio in [0,1]; 0 means always
	// sample, matching the development default.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ArchiveConfig holds the skip-record archive settings.
type ArchiveConfig struct {
	// Directory is the local object-store root for parquet exports.
	Directory string `yaml:"directory"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists extra parameter keys whose values are
	// masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// WindrowConfig holds everything under the "windrow" top-level key.
type WindrowConfig struct {
	System    SystemConfig    `yaml:"system"`
	Engine    EngineConfig    `yaml:"engine"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Security  SecurityConfig  `yaml:"security"`
}

// Config is the root of the application configuration.
type Config struct {
	Windrow WindrowConfig `yaml:"windrow"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Windrow: WindrowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Engine: EngineConfig{
				ChunkSize:         100,
				Concurrency:       4,
				RetryLimit:        3,
				SkipLimit:         0,
				BackoffInitialMs:  200,
				BackoffMultiplier: 2.0,
				BackoffMaxMs:      5000,
			},
			Ledger: LedgerConfig{
				Backend: "memory",
			},
			Metrics: MetricsConfig{
				Namespace: "windrow",
			},
			Telemetry: TelemetryConfig{
				Protocol:    "grpc",
				ServiceName: "windrow",
			},
			Archive: ArchiveConfig{
				Directory: "./archive",
			},
		},
	}
}
