package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. AGENTBOX_SANDBOX_TIMEOUT_MS.
const EnvPrefix = "AGENTBOX"

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Staging StagingConfig `mapstructure:"staging"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds sandbox configuration. A zero memory limit or
// timeout means no ceiling for that dimension.
type SandboxConfig struct {
	MemoryLimitMB  int64 `mapstructure:"memory_limit_mb"`
	TimeoutMS      int64 `mapstructure:"timeout_ms"`
	MaxOutputBytes int   `mapstructure:"max_output_bytes"`
	TableLimit     int64 `mapstructure:"table_limit"`
	MountStaging   bool  `mapstructure:"mount_staging"`
	Interpreter    bool  `mapstructure:"interpreter"`
}

// StagingConfig holds staging store configuration
type StagingConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return Load(v)
}

// NewFromFile loads the configuration from an explicit file, which must
// exist. An empty path falls back to New.
func NewFromFile(path string) (*Config, error) {
	if path == "" {
		return New()
	}
	v := viper.New()
	v.SetConfigFile(path)
	return Load(v)
}

// Load applies defaults and environment overrides to v, reads its config
// file if one is found, and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.memory_limit_mb", 512)
	v.SetDefault("sandbox.timeout_ms", 10000)
	v.SetDefault("sandbox.max_output_bytes", 1<<20)
	v.SetDefault("sandbox.table_limit", 0)
	v.SetDefault("sandbox.mount_staging", false)
	v.SetDefault("sandbox.interpreter", false)

	v.SetDefault("staging.manifest", "")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.MemoryLimitMB < 0 {
		return fmt.Errorf("sandbox.memory_limit_mb must not be negative, got: %d", c.Sandbox.MemoryLimitMB)
	}

	if c.Sandbox.TimeoutMS < 0 {
		return fmt.Errorf("sandbox.timeout_ms must not be negative, got: %d", c.Sandbox.TimeoutMS)
	}

	if c.Sandbox.MaxOutputBytes < 0 {
		return fmt.Errorf("sandbox.max_output_bytes must not be negative, got: %d", c.Sandbox.MaxOutputBytes)
	}

	if c.Sandbox.TableLimit < 0 {
		return fmt.Errorf("sandbox.table_limit must not be negative, got: %d", c.Sandbox.TableLimit)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}
