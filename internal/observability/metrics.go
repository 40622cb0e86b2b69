package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ghcn_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	LinesRead       *prometheus.CounterVec // labels: file={registry,inventory,daily}
	LinesSkipped    *prometheus.CounterVec // labels: file={registry,inventory,daily}
	InventoryRows   prometheus.Gauge
	StationsInTable prometheus.Gauge
	PipelineRunning prometheus.Gauge

	// Per-station batch metrics.
	StationResults  *prometheus.CounterVec // labels: outcome={processed,cached,failed}
	StationDuration prometheus.Histogram

	// Query API metrics.
	NearestQueries *prometheus.CounterVec // labels: outcome={ok,empty,invalid}
	QueryCache     *prometheus.CounterVec // labels: result={hit,miss}

	// Raw-file fetch metrics.
	FetchRequests *prometheus.CounterVec   // labels: kind={stations,inventory,daily}, outcome={downloaded,cached,error}
	FetchDuration *prometheus.HistogramVec // labels: kind
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		LinesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Lines read from raw GHCN files.",
		}, []string{"file"}),
		LinesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_skipped_total",
			Help:      "Raw lines skipped as blank, short or malformed.",
		}, []string{"file"}),
		InventoryRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_rows",
			Help:      "Rows in the canonical inventory table after the last reference run.",
		}),
		StationsInTable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations",
			Help:      "Stations in the current query snapshot.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is active, 0 otherwise.",
		}),
		StationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_results_total",
			Help:      "Per-station batch results by outcome.",
		}, []string{"outcome"}),
		StationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "station_processing_duration_seconds",
			Help:      "Duration of cleaning and aggregating one station.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		NearestQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nearest_queries_total",
			Help:      "Nearest-station queries by outcome.",
		}, []string{"outcome"}),
		QueryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_total",
			Help:      "Nearest-station query cache lookups by result.",
		}, []string{"result"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Raw-file fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Raw-file download duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LinesRead,
		m.LinesSkipped,
		m.InventoryRows,
		m.StationsInTable,
		m.PipelineRunning,
		m.StationResults,
		m.StationDuration,
		m.NearestQueries,
		m.QueryCache,
		m.FetchRequests,
		m.FetchDuration,
	}
}
