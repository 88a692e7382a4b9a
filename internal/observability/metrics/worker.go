package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	eventTotal      *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	eventInFlight   prometheus.Gauge
	summariesTotal  *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "turn_events_total",
			Help:      "Total processed turn-completed events by status.",
		},
		[]string{"service", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "turn_event_duration_seconds",
			Help:      "Turn event processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	eventInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "turn_events_in_flight",
			Help:      "Number of in-flight turn-completed events.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	summariesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "summaries_total",
			Help:      "Total generated conversation summaries.",
		},
		[]string{"service"},
	)

	registry.MustRegister(eventTotal, eventDuration, eventInFlight, summariesTotal)

	return &WorkerMetrics{
		registry:       registry,
		eventTotal:     eventTotal,
		eventDuration:  eventDuration,
		eventInFlight:  eventInFlight,
		summariesTotal: summariesTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTurnEvent() {
	m.eventInFlight.Inc()
}

func (m *WorkerMetrics) FinishTurnEvent(service string, duration time.Duration, err error) {
	m.eventInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventTotal.WithLabelValues(service, status).Inc()
	m.eventDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordSummaryCreated(service string) {
	m.summariesTotal.WithLabelValues(service).Inc()
}
