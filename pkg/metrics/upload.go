package metrics

import "github.com/reelhaven/reelhaven/pkg/upload"

// NewUploadMetrics returns the Prometheus-backed upload metrics, or nil when
// metrics are disabled so the service runs with zero overhead.
func NewUploadMetrics() upload.Metrics {
	if !IsEnabled() || newPrometheusUploadMetrics == nil {
		return nil
	}
	return newPrometheusUploadMetrics()
}

// newPrometheusUploadMetrics is registered by pkg/metrics/prometheus at
// init. The indirection avoids an import cycle between the consumer
// interface and the registry.
var newPrometheusUploadMetrics func() upload.Metrics

// RegisterUploadMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterUploadMetricsConstructor(constructor func() upload.Metrics) {
	newPrometheusUploadMetrics = constructor
}
