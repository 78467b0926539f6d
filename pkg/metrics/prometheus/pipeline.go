package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reelhaven/reelhaven/pkg/metrics"
	"github.com/reelhaven/reelhaven/pkg/pipeline"
)

type pipelineMetrics struct {
	jobsCompleted prometheus.Counter
	jobDuration   prometheus.Histogram
	jobsFailed    *prometheus.CounterVec
	jobsRetried   prometheus.Counter
	stageDuration *prometheus.HistogramVec
	renditions    *prometheus.CounterVec
}

func newPipelineMetrics() pipeline.Metrics {
	reg := metrics.GetRegistry()

	return &pipelineMetrics{
		jobsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reelhaven_pipeline_jobs_completed_total",
			Help: "Total number of uploads fully processed",
		}),
		jobDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "reelhaven_pipeline_job_duration_seconds",
			Help: "End-to-end processing time per upload",
			Buckets: []float64{
				10, 30, 60, 120, 300, 600, 1800, 3600,
			},
		}),
		jobsFailed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "reelhaven_pipeline_jobs_failed_total",
			Help: "Total number of sessions moved to failed, by error code",
		}, []string{"code"}),
		jobsRetried: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reelhaven_pipeline_jobs_retried_total",
			Help: "Total number of job redeliveries",
		}),
		stageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "reelhaven_pipeline_stage_duration_seconds",
			Help: "Duration of individual pipeline stages",
			Buckets: []float64{
				0.1, 0.5, 1, 5, 15, 60, 300, 1800,
			},
		}, []string{"stage"}),
		renditions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "reelhaven_pipeline_renditions_total",
			Help: "Total renditions produced, by name and status",
		}, []string{"rendition", "status"}),
	}
}

func (m *pipelineMetrics) JobCompleted(duration time.Duration) {
	m.jobsCompleted.Inc()
	m.jobDuration.Observe(duration.Seconds())
}

func (m *pipelineMetrics) JobFailed(code string) {
	m.jobsFailed.WithLabelValues(code).Inc()
}

func (m *pipelineMetrics) JobRetried() {
	m.jobsRetried.Inc()
}

func (m *pipelineMetrics) StageObserved(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *pipelineMetrics) RenditionCompleted(name, status string) {
	m.renditions.WithLabelValues(name, status).Inc()
}
