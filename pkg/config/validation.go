package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate caches struct metadata across calls.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks cfg against its `validate` struct tags and then against
// the cross-field rules (port clash, size limits, backend sections).
//
// Run ApplyDefaults first: zero values such as an unset port fail the tags.
// Log levels are accepted in either case.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules holds the checks that span several fields or decode
// a backend map.
func validateCustomRules(cfg *Config) error {
	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the control plane", cfg.Server.Port)
	}

	if cfg.Server.MaxContentSize <= 0 {
		return fmt.Errorf("server.max_content_size: must be > 0")
	}
	if cfg.Server.MaxResponseSize <= 0 {
		return fmt.Errorf("server.max_response_size: must be > 0")
	}

	// Backend sections are only checked when enabled, so a disabled archive
	// can keep an incomplete s3 block around.
	if cfg.History.Enabled {
		hc, err := decodeHistoryConfig(cfg.History.Badger)
		if err != nil {
			return fmt.Errorf("history.badger: %w", err)
		}
		if hc.DBPath == "" && !hc.InMemory {
			return fmt.Errorf("history.badger: db_path is required unless in_memory is set")
		}
		if hc.MaxEntries < 0 {
			return fmt.Errorf("history.badger: max_entries must be >= 0")
		}
	}

	if cfg.Archive.Enabled {
		sc, err := decodeS3Config(cfg.Archive.S3)
		if err != nil {
			return fmt.Errorf("archive.s3: %w", err)
		}
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("archive.s3: %w", err)
		}
	}

	return nil
}

// formatValidationError reports the first failing field by its namespace.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
