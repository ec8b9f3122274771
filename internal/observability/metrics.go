package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// timestamp pipeline.
type Metrics struct {
	MessagesConsumed   prometheus.Counter
	EventsPersisted    prometheus.Counter
	TimelinesPublished prometheus.Counter
	PipelineRunning    prometheus.Gauge

	// Normalization metrics.
	PredictionRejects *prometheus.CounterVec // labels: reason
	PredictionFetches *prometheus.CounterVec // labels: outcome={success,error}
	FetchDuration     prometheus.Histogram

	// Persistence metrics.
	LocodeChanges prometheus.Counter
	PurgedRows    prometheus.Counter

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MessagesConsumed,
		m.EventsPersisted,
		m.TimelinesPublished,
		m.PipelineRunning,
		m.PredictionRejects,
		m.PredictionFetches,
		m.FetchDuration,
		m.LocodeChanges,
		m.PurgedRows,
		m.BatchSize,
		m.BatchProcessingDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the intake topic.",
		}),
		EventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "events_persisted_total",
			Help:      "Total canonical events written to the store.",
		}),
		TimelinesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "timelines_published_total",
			Help:      "Total reconciled timelines written to the sink topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portcall_etl",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		PredictionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "prediction_rejects_total",
			Help:      "Predictions dropped during normalization by reject reason.",
		}, []string{"reason"}),
		PredictionFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "prediction_fetches_total",
			Help:      "Per-ship prediction fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portcall_etl",
			Name:      "prediction_fetch_duration_seconds",
			Help:      "Prediction API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		LocodeChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "locode_changes_total",
			Help:      "Registry rows retired because a port call moved to a new destination.",
		}),
		PurgedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portcall_etl",
			Name:      "purged_rows_total",
			Help:      "Rows removed by the retention purge job.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portcall_etl",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from the intake topic.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portcall_etl",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete intake-normalize-persist cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
