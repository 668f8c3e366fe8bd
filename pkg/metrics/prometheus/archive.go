package prometheus

import (
	"time"

	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type archiveMetrics struct {
	uploadsTotal   *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	uploadedBytes  prometheus.Counter
}

// NewArchiveMetrics creates a new Prometheus-backed ArchiveMetrics instance.
func NewArchiveMetrics() metrics.ArchiveMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopArchiveMetrics()
	}

	reg := metrics.GetRegistry()

	return &archiveMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomount_archive_uploads_total",
				Help: "Total number of archive PutObject calls by status",
			},
			[]string{"status"},
		),
		uploadDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittomount_archive_upload_duration_seconds",
				Help: "Duration of archive uploads in seconds",
				Buckets: []float64{
					0.05, // 50ms
					0.25, // 250ms
					1.0,  // 1s
					5.0,  // 5s
					30.0, // 30s
				},
			},
		),
		uploadedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomount_archive_uploaded_bytes_total",
				Help: "Total bytes uploaded to the archive bucket",
			},
		),
	}
}

func (m *archiveMetrics) RecordUpload(duration time.Duration, bytes int64, err error) {
	if err != nil {
		m.uploadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.uploadsTotal.WithLabelValues("success").Inc()
	m.uploadDuration.Observe(duration.Seconds())
	m.uploadedBytes.Add(float64(bytes))
}
