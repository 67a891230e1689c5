package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	loadDuration     *prometheus.HistogramVec
	datasetRows      *prometheus.GaugeVec
	droppedRows      *prometheus.CounterVec
	cacheFallbacks   *prometheus.CounterVec
	forecastRequests *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_pulse_load_duration_seconds",
			Help:    "Time spent loading a dataset",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"dataset", "source"}),
		datasetRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migration_pulse_dataset_rows",
			Help: "Rows in the most recent load of a dataset",
		}, []string{"dataset"}),
		droppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_pulse_dropped_rows_total",
			Help: "Raw rows dropped because they failed to parse",
		}, []string{"dataset"}),
		cacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_pulse_cache_fallbacks_total",
			Help: "Cache reads that failed and fell back to raw batches",
		}, []string{"dataset"}),
		forecastRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_pulse_forecast_requests_total",
			Help: "Forecasts generated, by outcome",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.loadDuration, m.datasetRows, m.droppedRows, m.cacheFallbacks, m.forecastRequests)
	return m
}

func (m *Metrics) ObserveLoad(dataset, source string, elapsed time.Duration, rows, dropped int) {
	if m == nil {
		return
	}
	m.loadDuration.WithLabelValues(dataset, source).Observe(elapsed.Seconds())
	m.datasetRows.WithLabelValues(dataset).Set(float64(rows))
	m.droppedRows.WithLabelValues(dataset).Add(float64(dropped))
}

func (m *Metrics) CacheFallback(dataset string) {
	if m == nil {
		return
	}
	m.cacheFallbacks.WithLabelValues(dataset).Inc()
}

func (m *Metrics) ForecastGenerated(points []ForecastPoint) {
	if m == nil {
		return
	}
	outcome := "ok"
	if len(points) == 0 {
		outcome = "insufficient_history"
	}
	m.forecastRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
