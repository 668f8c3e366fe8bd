package metrics

import "time"

// HTTPMetrics observes the control plane HTTP endpoint.
//
// Example usage:
//
//	// With metrics enabled
//	adapter := http.New(config, svc, prometheus.NewHTTPMetrics())
//
//	// Without metrics (no-op)
//	adapter := http.New(config, svc, nil)
type HTTPMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - route: Route name (e.g., "hello", "upload", "active_download")
	//   - status: HTTP status code written
	//   - code: In-band protocol error code, or "" if none
	//   - duration: Time taken to serve the request
	RecordRequest(route string, status int, code string, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(route string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(route string)

	// RecordBytesTransferred records request or response payload bytes.
	//
	// Parameters:
	//   - direction: "in" for uploads, "out" for downloads
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)
}

// NewNoopHTTPMetrics returns an HTTPMetrics that discards everything.
func NewNoopHTTPMetrics() HTTPMetrics {
	return noopHTTPMetrics{}
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(route string, status int, code string, duration time.Duration) {
}
func (noopHTTPMetrics) RecordRequestStart(route string)                      {}
func (noopHTTPMetrics) RecordRequestEnd(route string)                        {}
func (noopHTTPMetrics) RecordBytesTransferred(direction string, bytes int64) {}
