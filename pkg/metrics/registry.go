// Package metrics defines the observation interfaces of the control plane,
// the HTTP adapter and the archive, with no-op implementations used when
// metrics are disabled.
//
// Prometheus-backed implementations live in pkg/metrics/prometheus and
// register on the process registry created by InitRegistry:
//
//	metrics.InitRegistry()
//	svc, err := controlplane.New(fs, controlplane.Options{
//		Metrics: prometheus.NewControlPlaneMetrics(),
//	})
//
// Leaving Options.Metrics nil selects the no-op implementation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is set once by InitRegistry and read-only afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process registry. Constructors in
// pkg/metrics/prometheus return no-ops until it has run. Repeated calls are
// ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil if
// InitRegistry() has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
