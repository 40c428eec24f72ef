package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Load builds the configuration in three layers: built-in defaults,
// the provided YAML, then environment variables. The .env file (if
// present) is loaded into the environment first, and ${VAR} references
// inside the YAML are expanded against it.
func Load(embedded EmbeddedConfig, envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if len(embedded) > 0 {
		expanded := os.Expand(string(embedded), func(key string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			logger.Warnf("Environment variable '%s' referenced in configuration is not set.", key)
			return ""
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides maps a small set of well-known environment
// variables over the loaded configuration, so deployments can tweak the
// essentials without editing YAML.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("WINDROW_LOG_LEVEL"); ok {
		cfg.Windrow.System.Logging.Level = v
	}
	if v, ok := os.LookupEnv("WINDROW_LEDGER_BACKEND"); ok {
		cfg.Windrow.Ledger.Backend = v
	}
	if v, ok := os.LookupEnv("WINDROW_TELEMETRY_ENDPOINT"); ok {
		cfg.Windrow.Telemetry.Endpoint = v
		cfg.Windrow.Telemetry.Enabled = true
	}
	if v, ok := os.LookupEnv("WINDROW_ARCHIVE_DIR"); ok {
		cfg.Windrow.Archive.Directory = v
	}
}

// Params defines the Fx dependencies of the configuration provider.
type Params struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// NewConfigProvider is the Fx provider for *Config. It loads the
// configuration and applies the global log level.
func NewConfigProvider(params Params) (*Config, error) {
	cfg, err := Load(params.EmbeddedConfig, params.EnvFilePath)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Windrow.System.Logging.Level)
	model.AddMaskedKeys(cfg.Windrow.Security.MaskedParameterKeys...)
	return cfg, nil
}

// Module is an Fx module that provides the application configuration.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
)
