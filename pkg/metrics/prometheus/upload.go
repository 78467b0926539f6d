// Package prometheus implements the domain metric interfaces on the shared
// Prometheus registry. Importing it (for side effects) registers the
// constructors with pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reelhaven/reelhaven/pkg/metrics"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

func init() {
	metrics.RegisterUploadMetricsConstructor(newUploadMetrics)
	metrics.RegisterPipelineMetricsConstructor(newPipelineMetrics)
}

type uploadMetrics struct {
	sessionsCreated  prometheus.Counter
	appendBytes      prometheus.Histogram
	appendDuration   prometheus.Histogram
	uploadsCompleted prometheus.Counter
	uploadedBytes    prometheus.Counter
	uploadsAborted   prometheus.Counter
	conflicts        *prometheus.CounterVec
}

func newUploadMetrics() upload.Metrics {
	reg := metrics.GetRegistry()

	return &uploadMetrics{
		sessionsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reelhaven_upload_sessions_created_total",
			Help: "Total number of upload sessions created",
		}),
		appendBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "reelhaven_upload_append_bytes",
			Help: "Distribution of accepted chunk sizes",
			Buckets: []float64{
				256 << 10, // minimum chunk
				1 << 20,
				4 << 20,
				8 << 20, // default chunk
				16 << 20,
				32 << 20,
				64 << 20, // maximum chunk
			},
		}),
		appendDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "reelhaven_upload_append_duration_seconds",
			Help:    "Duration of accepted chunk appends",
			Buckets: prometheus.DefBuckets,
		}),
		uploadsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reelhaven_uploads_completed_total",
			Help: "Total number of uploads that received their last byte",
		}),
		uploadedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reelhaven_uploaded_bytes_total",
			Help: "Total bytes of completed uploads",
		}),
		uploadsAborted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reelhaven_uploads_aborted_total",
			Help: "Total number of uploads aborted by clients",
		}),
		conflicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "reelhaven_upload_conflicts_total",
			Help: "Total number of protocol conflicts by reason",
		}, []string{"reason"}),
	}
}

func (m *uploadMetrics) SessionCreated() {
	m.sessionsCreated.Inc()
}

func (m *uploadMetrics) AppendObserved(bytes int64, duration time.Duration) {
	m.appendBytes.Observe(float64(bytes))
	m.appendDuration.Observe(duration.Seconds())
}

func (m *uploadMetrics) UploadCompleted(size int64) {
	m.uploadsCompleted.Inc()
	m.uploadedBytes.Add(float64(size))
}

func (m *uploadMetrics) UploadAborted() {
	m.uploadsAborted.Inc()
}

func (m *uploadMetrics) Conflict(reason string) {
	m.conflicts.WithLabelValues(reason).Inc()
}
