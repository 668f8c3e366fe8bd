package e2e

import (
	"fmt"
	"path/filepath"

	"github.com/marmos91/dittomount/pkg/config"
)

// HistoryType represents the commit history backend of a test run
type HistoryType string

const (
	HistoryNone   HistoryType = "none"
	HistoryBadger HistoryType = "badger"
)

// TestContextProvider is an interface for providing test context dependencies
type TestContextProvider interface {
	CreateTempDir(prefix string) string
	GetConfig() *TestConfig
	GetPort() int
}

// TestConfig holds the configuration for a test run
type TestConfig struct {
	Name    string
	History HistoryType

	// Archive enables the S3 sink (set by SetupS3Config)
	Archive bool

	// Populated once per test context so that a restart reuses the same
	// SD card and history database
	basePath    string
	historyPath string

	s3Endpoint string
	s3Bucket   string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("history=%s archive=%v", tc.History, tc.Archive)
}

// ServiceConfig builds the service configuration for this run.
//
// Storage is always a host directory so that committed files survive a
// restart of the server within the same test.
func (tc *TestConfig) ServiceConfig(testCtx TestContextProvider) *config.Config {
	if tc.basePath == "" {
		tc.basePath = testCtx.CreateTempDir("dittomount-e2e-sd-*")
	}

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = "ERROR"
	cfg.Server.Port = testCtx.GetPort()
	cfg.Storage.Type = "os"
	cfg.Storage.BasePath = tc.basePath

	if tc.History == HistoryBadger {
		if tc.historyPath == "" {
			tc.historyPath = filepath.Join(testCtx.CreateTempDir("dittomount-e2e-history-*"), "history.db")
		}
		cfg.History.Enabled = true
		cfg.History.Badger = map[string]any{"db_path": tc.historyPath}
	}

	if tc.Archive {
		cfg.Archive.Enabled = true
		cfg.Archive.S3 = map[string]any{
			"region":            "us-east-1",
			"bucket":            tc.s3Bucket,
			"key_prefix":        "e2e",
			"endpoint":          tc.s3Endpoint,
			"access_key_id":     "test",
			"secret_access_key": "test",
			"max_retries":       1,
		}
	}

	return cfg
}

// SDPath returns the host path of an absolute path inside the emulated card.
func (tc *TestConfig) SDPath(p string) string {
	return filepath.Join(tc.basePath, filepath.FromSlash(p))
}

// AllConfigurations returns all test configurations to run
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:    "plain",
			History: HistoryNone,
		},
		{
			Name:    "badger-history",
			History: HistoryBadger,
		},
	}
}
