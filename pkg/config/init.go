package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration to the default
// location and returns its path.
//
// Returns an error if the file exists and force is false.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a commented default configuration to configPath.
//
// Returns an error if the file exists and force is false.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// field is one key of a generated mapping. value is either a *yaml.Node or a
// plain value encoded as a scalar.
type field struct {
	key     string
	value   any
	comment string
}

// generateYAMLWithComments renders cfg as YAML with explanatory comments.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root, err := mapping(
		field{"logging", mustMapping(
			field{"level", cfg.Logging.Level, "DEBUG, INFO, WARN or ERROR"},
			field{"format", cfg.Logging.Format, "text or json"},
			field{"output", cfg.Logging.Output, "stdout, stderr or a file path"},
		), "Logging"},
		field{"server", mustMapping(
			field{"port", cfg.Server.Port, "HTTP control plane port"},
			field{"read_timeout", duration(cfg.Server.ReadTimeout), "Bounds reading a whole request, uploads included"},
			field{"write_timeout", duration(cfg.Server.WriteTimeout), ""},
			field{"idle_timeout", duration(cfg.Server.IdleTimeout), ""},
			field{"shutdown_timeout", duration(cfg.Server.ShutdownTimeout), "Graceful shutdown deadline"},
			field{"max_content_size", cfg.Server.MaxContentSize, "Largest accepted upload in bytes"},
			field{"max_response_size", cfg.Server.MaxResponseSize, "Largest JSON document or download in bytes"},
			field{"history_limit", cfg.Server.HistoryLimit, "Commits returned by /history/list"},
			field{"rate_limit", mustMapping(
				field{"requests_per_second", cfg.Server.RateLimit.RequestsPerSecond, "0 disables throttling"},
				field{"burst", cfg.Server.RateLimit.Burst, ""},
			), "Token bucket applied to uploads and commits"},
			field{"metrics", mustMapping(
				field{"enabled", cfg.Server.Metrics.Enabled, ""},
				field{"port", cfg.Server.Metrics.Port, ""},
			), "Prometheus endpoint"},
		), "HTTP control plane"},
		field{"storage", mustMapping(
			field{"type", cfg.Storage.Type, "os or memory"},
			field{"base_path", cfg.Storage.BasePath, "Host directory playing the SD card (type os)"},
			field{"root", cfg.Storage.Root, "Storage root inside the card"},
		), "Storage"},
		field{"history", mustMapping(
			field{"enabled", cfg.History.Enabled, "Record every commit"},
			field{"type", cfg.History.Type, ""},
			field{"badger", mustMapping(sortedFields(cfg.History.Badger)...), ""},
		), "Commit history"},
		field{"archive", mustMapping(
			field{"enabled", cfg.Archive.Enabled, "Upload committed images after every commit"},
			field{"type", cfg.Archive.Type, ""},
			field{"s3", mustMapping(sortedFields(cfg.Archive.S3)...), "bucket is required when enabled"},
		), "Archive of committed images"},
	)
	if err != nil {
		return "", err
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "# DittoMount Configuration File\n# Generated by 'dittomount init'",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func mapping(fields ...field) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: f.key}
		if f.comment != "" {
			key.HeadComment = "# " + f.comment
		}

		value, ok := f.value.(*yaml.Node)
		if !ok {
			value = &yaml.Node{}
			if err := value.Encode(f.value); err != nil {
				return nil, fmt.Errorf("%s: %w", f.key, err)
			}
		}
		n.Content = append(n.Content, key, value)
	}
	return n, nil
}

// mustMapping is mapping for values known to encode.
func mustMapping(fields ...field) *yaml.Node {
	n, err := mapping(fields...)
	if err != nil {
		panic(err)
	}
	return n
}

func sortedFields(m map[string]any) []field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, field{key: k, value: m[k]})
	}
	return fields
}

func duration(d time.Duration) string {
	return d.String()
}
