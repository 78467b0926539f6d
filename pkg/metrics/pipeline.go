package metrics

import "github.com/reelhaven/reelhaven/pkg/pipeline"

// NewPipelineMetrics returns the Prometheus-backed pipeline metrics, or nil
// when metrics are disabled.
func NewPipelineMetrics() pipeline.Metrics {
	if !IsEnabled() || newPrometheusPipelineMetrics == nil {
		return nil
	}
	return newPrometheusPipelineMetrics()
}

var newPrometheusPipelineMetrics func() pipeline.Metrics

// RegisterPipelineMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterPipelineMetricsConstructor(constructor func() pipeline.Metrics) {
	newPrometheusPipelineMetrics = constructor
}
