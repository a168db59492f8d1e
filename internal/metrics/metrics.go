// Package metrics Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the operations service.
type Metrics struct {
	registry *prometheus.Registry

	bookingsTotal       *prometheus.CounterVec
	bookingLatency      prometheus.Histogram
	sagaStepFailures    *prometheus.CounterVec
	compensationRuns    *prometheus.CounterVec
	compensationFailed  *prometheus.CounterVec
	eventsPublished     *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	openTransactions    prometheus.Gauge
}

// New creates a metrics registry and registers booking metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	bookingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_requests_total",
		Help: "Total number of booking requests by outcome.",
	}, []string{"outcome"})

	bookingLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_latency_seconds",
		Help:    "Latency for the booking workflow in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	sagaStepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_step_failures_total",
		Help: "Total number of failed saga steps.",
	}, []string{"step"})

	compensationRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Total number of executed compensating actions.",
	}, []string{"step"})

	compensationFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensation_failures_total",
		Help: "Total number of compensating actions that failed.",
	}, []string{"step"})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_events_published_total",
		Help: "Total number of booking events published to Redis Streams.",
	}, []string{"type"})

	notificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_notifications_total",
		Help: "Total number of notifications handled by the notifier.",
	}, []string{"type"})

	openTransactions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saga_open_transactions",
		Help: "Current number of transactions held by the in-memory store.",
	})

	registry.MustRegister(bookingsTotal, bookingLatency, sagaStepFailures,
		compensationRuns, compensationFailed, eventsPublished, notificationsTotal, openTransactions)

	return &Metrics{
		registry:           registry,
		bookingsTotal:      bookingsTotal,
		bookingLatency:     bookingLatency,
		sagaStepFailures:   sagaStepFailures,
		compensationRuns:   compensationRuns,
		compensationFailed: compensationFailed,
		eventsPublished:    eventsPublished,
		notificationsTotal: notificationsTotal,
		openTransactions:   openTransactions,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncBooking increments the booking counter for an outcome (completed/compensated/rejected).
func (m *Metrics) IncBooking(outcome string) {
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBookingLatency records booking workflow duration.
func (m *Metrics) ObserveBookingLatency(d time.Duration) {
	m.bookingLatency.Observe(d.Seconds())
}

// IncSagaStepFailure increments the failed step counter.
func (m *Metrics) IncSagaStepFailure(step string) {
	m.sagaStepFailures.WithLabelValues(step).Inc()
}

// IncCompensation increments the compensation counter.
func (m *Metrics) IncCompensation(step string) {
	m.compensationRuns.WithLabelValues(step).Inc()
}

// IncCompensationFailure increments the failed compensation counter.
func (m *Metrics) IncCompensationFailure(step string) {
	m.compensationFailed.WithLabelValues(step).Inc()
}

// IncEventPublished increments the published event counter.
func (m *Metrics) IncEventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// IncNotification increments the notifier counter.
func (m *Metrics) IncNotification(eventType string) {
	m.notificationsTotal.WithLabelValues(eventType).Inc()
}

// SetOpenTransactions updates the open transaction gauge.
func (m *Metrics) SetOpenTransactions(n int) {
	m.openTransactions.Set(float64(n))
}
