package config

import (
	"github.com/marmos91/dittomount/pkg/metrics"
	promMetrics "github.com/marmos91/dittomount/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ControlPlane observes staging and commits (never nil, uses noop if disabled)
	ControlPlane metrics.ControlPlaneMetrics

	// HTTP observes the protocol handler (never nil, uses noop if disabled)
	HTTP metrics.HTTPMetrics

	// Archive observes uploads to the archive (never nil, uses noop if disabled)
	Archive metrics.ArchiveMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			ControlPlane: metrics.NewNoopControlPlaneMetrics(),
			HTTP:         metrics.NewNoopHTTPMetrics(),
			Archive:      metrics.NewNoopArchiveMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:       server,
		ControlPlane: promMetrics.NewControlPlaneMetrics(),
		HTTP:         promMetrics.NewHTTPMetrics(),
		Archive:      promMetrics.NewArchiveMetrics(),
	}
}
