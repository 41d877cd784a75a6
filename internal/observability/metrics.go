// Package observability provides the Prometheus metrics shared by both
// binaries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// post-processing pipeline and the ingestion backend.
type Metrics struct {
	// Post-processing.
	PipelineRuns      *prometheus.CounterVec   // labels: status={completed,failed}
	StepDuration      *prometheus.HistogramVec // labels: step
	ArtifactsUploaded *prometheus.CounterVec   // labels: kind={netcdf,geotiff,png}

	// Ingestion backend.
	PredictionsIngested *prometheus.CounterVec // labels: severity
	IngestRejected      *prometheus.CounterVec // labels: reason={decode,too_large,validation,store}
	StoreCache          *prometheus.CounterVec // labels: result={hit,miss}

	EventsPublished    prometheus.Counter
	EventPublishErrors prometheus.Counter

	// Alerts.
	AlertsEnqueued     prometheus.Counter
	AlertEnqueueErrors prometheus.Counter
	AlertsDelivered    prometheus.Counter
	AlertRetries       prometheus.Counter
	AlertsDeadLettered prometheus.Counter
	AlertWorkerRunning prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Post-processing runs by final status.",
		}, []string{"status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of each post-processing step.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"step"}),
		ArtifactsUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_uploaded_total",
			Help:      "Artifacts written to object storage by kind.",
		}, []string{"kind"}),
		PredictionsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_ingested_total",
			Help:      "Predictions accepted by the ingestion endpoint by severity class.",
		}, []string{"severity"}),
		IngestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Ingestion requests rejected by reason.",
		}, []string{"reason"}),
		StoreCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_cache_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Prediction events written to Kafka.",
		}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Prediction events that failed to publish.",
		}),
		AlertsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_enqueued_total",
			Help:      "Alert tasks placed on the queue.",
		}),
		AlertEnqueueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_enqueue_errors_total",
			Help:      "Alert tasks that could not be queued.",
		}),
		AlertsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_delivered_total",
			Help:      "Alert notifications delivered.",
		}),
		AlertRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_retries_total",
			Help:      "Alert delivery attempts that failed and were retried.",
		}),
		AlertsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dead_lettered_total",
			Help:      "Alert tasks moved to the dead-letter sink after exhausting retries.",
		}),
		AlertWorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_worker_running",
			Help:      "1 when the alert worker is active, 0 when shut down.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewRegisteredMetrics(prometheus.DefaultRegisterer)
}

// NewRegisteredMetrics creates all metrics and registers them with reg.
func NewRegisteredMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.PipelineRuns,
		m.StepDuration,
		m.ArtifactsUploaded,
		m.PredictionsIngested,
		m.IngestRejected,
		m.StoreCache,
		m.EventsPublished,
		m.EventPublishErrors,
		m.AlertsEnqueued,
		m.AlertEnqueueErrors,
		m.AlertsDelivered,
		m.AlertRetries,
		m.AlertsDeadLettered,
		m.AlertWorkerRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
