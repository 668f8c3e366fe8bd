package config

import (
	"strings"
	"time"

	httpadapter "github.com/marmos91/dittomount/pkg/adapter/http"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/marmos91/dittomount/pkg/history"
	"github.com/marmos91/dittomount/pkg/layout"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are applied to the type-specific maps so a
//     generated config file shows them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyHistoryDefaults(&cfg.History)
	applyArchiveDefaults(&cfg.Archive)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets HTTP endpoint and metrics defaults.
func applyServerDefaults(cfg *ServerConfig) {
	applyHTTPDefaults(&cfg.Config)

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyHTTPDefaults mirrors the adapter's own defaults so that Validate and
// the generated config file see the effective values.
func applyHTTPDefaults(cfg *httpadapter.Config) {
	if cfg.Port == 0 {
		cfg.Port = controlplane.ServicePort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxContentSize == 0 {
		cfg.MaxContentSize = httpadapter.DefaultMaxContentSize
	}
	if cfg.MaxResponseSize == 0 {
		cfg.MaxResponseSize = httpadapter.DefaultMaxResponseSize
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = httpadapter.DefaultHistoryLimit
	}
	// RateLimit defaults to disabled (0 requests per second)
}

// applyStorageDefaults sets storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "os"
	}
	if cfg.BasePath == "" && cfg.Type == "os" {
		cfg.BasePath = "~/.dittomount/sd"
	}
	if cfg.Root == "" {
		cfg.Root = layout.DefaultRoot
	}
}

// applyHistoryDefaults sets commit history defaults.
func applyHistoryDefaults(cfg *HistoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "~/.dittomount/history"
	}
	if _, ok := cfg.Badger["max_entries"]; !ok {
		cfg.Badger["max_entries"] = history.DefaultMaxEntries
	}
}

// applyArchiveDefaults sets archive defaults.
func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.Type == "" {
		cfg.Type = "s3"
	}

	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
	if _, ok := cfg.S3["key_prefix"]; !ok {
		cfg.S3["key_prefix"] = "dittomount"
	}
	// Bucket has no sensible default and must be set when the archive is enabled.
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		History: HistoryConfig{
			Badger: make(map[string]any),
		},
		Archive: ArchiveConfig{
			S3: map[string]any{
				"bucket": "",
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
