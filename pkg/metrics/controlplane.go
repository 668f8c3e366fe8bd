package metrics

import "time"

// ControlPlaneMetrics observes staging and commit activity.
//
// This interface is optional - if not provided to the control plane service,
// a no-op implementation is used with zero overhead.
type ControlPlaneMetrics interface {
	// RecordStage records a finished staging attempt.
	//
	// Parameters:
	//   - code: Protocol error code, or "" on success
	//   - bytes: Body size of the upload
	//   - duration: Time spent validating and writing the upload
	RecordStage(code string, bytes int, duration time.Duration)

	// SetPending updates the number of uploads waiting for commit.
	SetPending(count int)

	// RecordCommit records a finished commit attempt.
	//
	// Parameters:
	//   - code: Protocol error code, or "" on success
	//   - files: Number of files in the batch
	//   - duration: Time spent promoting the batch
	RecordCommit(code string, files int, duration time.Duration)
}

// NewNoopControlPlaneMetrics returns a ControlPlaneMetrics that discards everything.
func NewNoopControlPlaneMetrics() ControlPlaneMetrics {
	return noopControlPlaneMetrics{}
}

type noopControlPlaneMetrics struct{}

func (noopControlPlaneMetrics) RecordStage(code string, bytes int, duration time.Duration)  {}
func (noopControlPlaneMetrics) SetPending(count int)                                        {}
func (noopControlPlaneMetrics) RecordCommit(code string, files int, duration time.Duration) {}
