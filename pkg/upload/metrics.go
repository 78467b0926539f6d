package upload

import "time"

// Metrics records ingestion activity. A nil Metrics is a valid no-op; the
// Prometheus implementation lives in pkg/metrics/prometheus.
type Metrics interface {
	// SessionCreated counts new (not replayed) sessions.
	SessionCreated()

	// AppendObserved records one accepted chunk.
	AppendObserved(bytes int64, duration time.Duration)

	// UploadCompleted counts uploads whose last byte arrived.
	UploadCompleted(size int64)

	// UploadAborted counts client aborts.
	UploadAborted()

	// Conflict counts protocol conflicts by reason ("offset", "size",
	// "fingerprint").
	Conflict(reason string)
}
