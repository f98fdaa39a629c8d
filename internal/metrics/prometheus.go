// Package metrics exports store activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cliniccore/pkg/domain"
)

// Metrics holds all store metrics. It satisfies core.MetricsRecorder.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	LoadFallbacks *prometheus.CounterVec
	Records       *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_store_operations_total",
			Help: "Store operations by outcome",
		}, []string{"operation", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_store_operation_duration_seconds",
			Help:    "Store operation duration including write-through persistence",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		LoadFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_store_load_fallbacks_total",
			Help: "Collections discarded during load because they could not be read or decoded",
		}, []string{"entity"}),
		Records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_store_records",
			Help: "Records held per collection",
		}, []string{"entity"}),
	}
	reg.MustRegister(m.Operations, m.Duration, m.LoadFallbacks, m.Records)
	return m
}

// Observe records an operation outcome and its latency.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	m.Duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// LoadFallback counts a discarded collection.
func (m *Metrics) LoadFallback(entity domain.EntityType) {
	m.LoadFallbacks.WithLabelValues(string(entity)).Inc()
}

// CollectionSize sets the record gauge for entity.
func (m *Metrics) CollectionSize(entity domain.EntityType, n int) {
	m.Records.WithLabelValues(string(entity)).Set(float64(n))
}

// Handler returns the Prometheus HTTP handler for g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
