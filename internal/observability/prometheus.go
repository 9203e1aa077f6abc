package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "healthsync"

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	gatherer prometheus.Gatherer

	refreshCounter *prometheus.CounterVec
	syncCounter    *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	recordsCounter *prometheus.CounterVec
	droppedCounter *prometheus.CounterVec
	connectCounter *prometheus.CounterVec
	lastSyncGauge  *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	metrics := &PrometheusMetrics{
		gatherer: registry,
		refreshCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "refresh",
			Name:      "attempts_total",
			Help:      "Token refresh attempts grouped by provider and outcome.",
		}, []string{"provider", "outcome"}),
		syncCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "pipelines_total",
			Help:      "Provider sync pipelines grouped by provider and final status.",
		}, []string{"provider", "status"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of provider sync pipelines.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		recordsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "records_processed_total",
			Help:      "Provider-native records returned by sync pipelines.",
		}, []string{"provider"}),
		droppedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "normalize",
			Name:      "records_dropped_total",
			Help:      "Native records dropped because they could not be normalized.",
		}, []string{"provider"}),
		connectCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "connect",
			Name:      "callbacks_total",
			Help:      "OAuth connect callbacks grouped by provider and outcome.",
		}, []string{"provider", "outcome"}),
		lastSyncGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "last_pipeline_timestamp_seconds",
			Help:      "Unix timestamp of the most recent pipeline completion per provider.",
		}, []string{"provider"}),
	}
	registry.MustRegister(
		metrics.refreshCounter,
		metrics.syncCounter,
		metrics.syncDuration,
		metrics.recordsCounter,
		metrics.droppedCounter,
		metrics.connectCounter,
		metrics.lastSyncGauge,
	)
	return metrics
}

// RecordRefresh implements MetricsRecorder.
func (metrics *PrometheusMetrics) RecordRefresh(providerID string, outcome string) {
	metrics.refreshCounter.WithLabelValues(providerID, outcome).Inc()
}

// RecordSync implements MetricsRecorder.
func (metrics *PrometheusMetrics) RecordSync(providerID string, status string, records int, duration time.Duration) {
	metrics.syncCounter.WithLabelValues(providerID, status).Inc()
	metrics.syncDuration.WithLabelValues(providerID).Observe(duration.Seconds())
	if records > 0 {
		metrics.recordsCounter.WithLabelValues(providerID).Add(float64(records))
	}
	metrics.lastSyncGauge.WithLabelValues(providerID).Set(float64(time.Now().Unix()))
}

// RecordDropped implements MetricsRecorder.
func (metrics *PrometheusMetrics) RecordDropped(providerID string, count int) {
	if count <= 0 {
		return
	}
	metrics.droppedCounter.WithLabelValues(providerID).Add(float64(count))
}

// RecordConnect implements MetricsRecorder.
func (metrics *PrometheusMetrics) RecordConnect(providerID string, outcome string) {
	metrics.connectCounter.WithLabelValues(providerID, outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (metrics *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.gatherer, promhttp.HandlerOpts{})
}
