package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	httpadapter "github.com/marmos91/dittomount/pkg/adapter/http"
	"github.com/spf13/viper"
)

// Config represents the complete DittoMount configuration.
//
// This structure captures all configurable aspects of the service:
//   - Logging configuration
//   - Server settings (HTTP endpoint, limits, metrics)
//   - Storage selection (the filesystem holding the /1541 tree)
//   - Optional commit history (BadgerDB)
//   - Optional archive of committed images (S3)
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOMOUNT_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// The history and archive sections carry a type-specific map that is decoded
// by the matching factory, so each backend owns its own option struct.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the HTTP endpoint settings
	Server ServerConfig `mapstructure:"server"`

	// Storage selects the filesystem the control plane operates on
	Storage StorageConfig `mapstructure:"storage"`

	// History configures the commit history store
	History HistoryConfig `mapstructure:"history"`

	// Archive configures mirroring of committed images
	Archive ArchiveConfig `mapstructure:"archive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains the HTTP endpoint settings.
//
// The HTTP adapter options are squashed into this section, so the YAML keys
// port, read_timeout, max_content_size, rate_limit, ... live directly under
// server.
type ServerConfig struct {
	httpadapter.Config `mapstructure:",squash"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port of the metrics server
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// StorageConfig selects the filesystem backing the control plane.
type StorageConfig struct {
	// Type specifies the filesystem implementation
	// Valid values: os, memory
	Type string `mapstructure:"type" validate:"required,oneof=os memory"`

	// BasePath is the host directory that plays the role of the SD card.
	// Only used when Type = "os". Supports ~ expansion.
	BasePath string `mapstructure:"base_path" validate:"required_if=Type os"`

	// Root is the storage root inside the filesystem (default: /1541)
	Root string `mapstructure:"root" validate:"required,startswith=/"`
}

// HistoryConfig configures the commit history.
type HistoryConfig struct {
	// Enabled records every commit and exposes /history/list
	Enabled bool `mapstructure:"enabled"`

	// Type specifies the history backend
	// Valid values: badger
	Type string `mapstructure:"type" validate:"required,oneof=badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// ArchiveConfig configures the archive of committed images.
type ArchiveConfig struct {
	// Enabled uploads committed images after every commit
	Enabled bool `mapstructure:"enabled"`

	// Type specifies the archive backend
	// Valid values: s3
	Type string `mapstructure:"type" validate:"required,oneof=s3"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMOUNT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOMOUNT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOMOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// Default location: $XDG_CONFIG_HOME/dittomount/config.{yaml,toml}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is treated like a missing
		// default file.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomount")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomount")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

