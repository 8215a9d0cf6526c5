package uploader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the uploader.
type Metrics struct {
	Registry       *prometheus.Registry
	ProductsTotal  *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	RetriesTotal   prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	PauseSeconds   prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploader_products_total",
			Help: "Products processed by outcome.",
		},
		[]string{"outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uploader_step_duration_seconds",
			Help:    "Duration of form-fill steps.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"step"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uploader_retries_total",
			Help: "Total number of product retries.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploader_errors_total",
			Help: "Total number of upload errors by type.",
		},
		[]string{"error_type"},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploader_locator_fallbacks_total",
			Help: "Lookups that resolved through a fallback locator.",
		},
		[]string{"field"},
	)
	pause := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uploader_pause_seconds_total",
			Help: "Time spent in pacing pauses.",
		},
	)

	registry.MustRegister(products, stepDuration, retries, errorsTotal, fallbacks, pause)

	return &Metrics{
		Registry:       registry,
		ProductsTotal:  products,
		StepDuration:   stepDuration,
		RetriesTotal:   retries,
		ErrorsTotal:    errorsTotal,
		FallbacksTotal: fallbacks,
		PauseSeconds:   pause,
	}
}

// IncProduct counts a finished product.
func (m *Metrics) IncProduct(outcome string) {
	if m == nil {
		return
	}
	m.ProductsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStep records how long a form-fill step took.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncFallback counts a lookup that needed a fallback locator.
func (m *Metrics) IncFallback(field string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(field).Inc()
}

// AddPause accumulates pacing time.
func (m *Metrics) AddPause(d time.Duration) {
	if m == nil {
		return
	}
	m.PauseSeconds.Add(d.Seconds())
}
