package metrics

import "time"

// ArchiveMetrics observes uploads of committed images to the archive bucket.
type ArchiveMetrics interface {
	// RecordUpload records a single object upload.
	//
	// Parameters:
	//   - duration: Time taken by the PutObject call
	//   - bytes: Object size
	//   - err: Upload error, nil if successful
	RecordUpload(duration time.Duration, bytes int64, err error)
}

// NewNoopArchiveMetrics returns an ArchiveMetrics that discards everything.
func NewNoopArchiveMetrics() ArchiveMetrics {
	return noopArchiveMetrics{}
}

type noopArchiveMetrics struct{}

func (noopArchiveMetrics) RecordUpload(duration time.Duration, bytes int64, err error) {}
