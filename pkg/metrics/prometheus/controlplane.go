// Package prometheus provides Prometheus-backed implementations of the
// interfaces in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// controlPlaneMetrics is the Prometheus implementation of metrics.ControlPlaneMetrics.
type controlPlaneMetrics struct {
	stagesTotal    *prometheus.CounterVec
	stageDuration  prometheus.Histogram
	stagedBytes    prometheus.Counter
	pendingUploads prometheus.Gauge
	commitsTotal   *prometheus.CounterVec
	commitDuration prometheus.Histogram
	committedFiles prometheus.Counter
}

// NewControlPlaneMetrics creates a new Prometheus-backed ControlPlaneMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewControlPlaneMetrics() metrics.ControlPlaneMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopControlPlaneMetrics()
	}

	reg := metrics.GetRegistry()

	return &controlPlaneMetrics{
		stagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomount_stage_total",
				Help: "Total number of staging attempts by result code",
			},
			[]string{"status", "code"},
		),
		stageDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittomount_stage_duration_seconds",
				Help: "Duration of staging attempts in seconds",
				Buckets: []float64{
					0.01, // 10ms
					0.05, // 50ms
					0.1,  // 100ms
					0.5,  // 500ms
					1.0,  // 1s
					5.0,  // 5s
				},
			},
		),
		stagedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomount_staged_bytes_total",
				Help: "Total bytes written to the incoming directory",
			},
		),
		pendingUploads: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittomount_pending_uploads",
				Help: "Current number of staged uploads waiting for commit",
			},
		),
		commitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomount_commit_total",
				Help: "Total number of commit attempts by result code",
			},
			[]string{"status", "code"},
		),
		commitDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittomount_commit_duration_seconds",
				Help:    "Duration of commits in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
		),
		committedFiles: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomount_committed_files_total",
				Help: "Total number of files promoted into the active set",
			},
		),
	}
}

func status(code string) string {
	if code == "" {
		return "success"
	}
	return "error"
}

func (m *controlPlaneMetrics) RecordStage(code string, bytes int, duration time.Duration) {
	m.stagesTotal.WithLabelValues(status(code), code).Inc()
	m.stageDuration.Observe(duration.Seconds())
	if code == "" {
		m.stagedBytes.Add(float64(bytes))
	}
}

func (m *controlPlaneMetrics) SetPending(count int) {
	m.pendingUploads.Set(float64(count))
}

func (m *controlPlaneMetrics) RecordCommit(code string, files int, duration time.Duration) {
	m.commitsTotal.WithLabelValues(status(code), code).Inc()
	m.commitDuration.Observe(duration.Seconds())
	if code == "" {
		m.committedFiles.Add(float64(files))
	}
}
