package pipeline

import "time"

// Metrics records pipeline activity. A nil Metrics is a valid no-op; the
// Prometheus implementation lives in pkg/metrics/prometheus.
type Metrics interface {
	// JobCompleted records one fully processed upload.
	JobCompleted(duration time.Duration)

	// JobFailed counts sessions moved to failed, by error code.
	JobFailed(code string)

	// JobRetried counts redeliveries.
	JobRetried()

	// StageObserved records one stage run ("probe", "transcode", "pin").
	StageObserved(stage string, duration time.Duration)

	// RenditionCompleted counts finished renditions by name and status.
	RenditionCompleted(name, status string)
}
