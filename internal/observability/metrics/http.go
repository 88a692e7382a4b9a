package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	chatTurnsTotal         *prometheus.CounterVec
	chatTurnDuration       *prometheus.HistogramVec
	chatVerdictTotal       *prometheus.CounterVec
	retrievalRequestsTotal *prometheus.CounterVec
	retrievalHitTotal      *prometheus.CounterVec
	retrievalNoResultTotal *prometheus.CounterVec
	retrievedDocuments     *prometheus.HistogramVec
	streamChunksTotal      *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatTurnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total completed chat turns by route.",
		},
		[]string{"service", "endpoint", "route"},
	)
	chatTurnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Chat turn duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	chatVerdictTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "chat",
			Name:      "verdict_total",
			Help:      "Total post-generation verdicts by check and outcome.",
		},
		[]string{"service", "check", "outcome"},
	)
	retrievalRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests by strategy.",
		},
		[]string{"service", "strategy"},
	)
	retrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "retrieval",
			Name:      "hit_total",
			Help:      "Total retrieval requests returning at least one document.",
		},
		[]string{"service", "strategy"},
	)
	retrievalNoResultTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "retrieval",
			Name:      "no_result_total",
			Help:      "Total retrieval requests returning no documents.",
		},
		[]string{"service", "strategy"},
	)
	retrievedDocuments := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "retrieval",
			Name:      "documents",
			Help:      "Distribution of returned documents per retrieval request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "strategy"},
	)
	streamChunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Total chunks emitted on streaming responses.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatTurnsTotal,
		chatTurnDuration,
		chatVerdictTotal,
		retrievalRequestsTotal,
		retrievalHitTotal,
		retrievalNoResultTotal,
		retrievedDocuments,
		streamChunksTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		chatTurnsTotal:         chatTurnsTotal,
		chatTurnDuration:       chatTurnDuration,
		chatVerdictTotal:       chatVerdictTotal,
		retrievalRequestsTotal: retrievalRequestsTotal,
		retrievalHitTotal:      retrievalHitTotal,
		retrievalNoResultTotal: retrievalNoResultTotal,
		retrievedDocuments:     retrievedDocuments,
		streamChunksTotal:      streamChunksTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordChatTurn(service, endpoint, route string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	m.chatTurnsTotal.WithLabelValues(service, endpoint, route).Inc()
	m.chatTurnDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordVerdict(service string, grounded, answersQuestion string) {
	if grounded != "" {
		m.chatVerdictTotal.WithLabelValues(service, "grounded", grounded).Inc()
	}
	if answersQuestion != "" {
		m.chatVerdictTotal.WithLabelValues(service, "answers_question", answersQuestion).Inc()
	}
}

func (m *HTTPServerMetrics) RecordRetrieval(service, strategy string, documentCount int) {
	if strategy == "" {
		strategy = "unknown"
	}
	m.retrievalRequestsTotal.WithLabelValues(service, strategy).Inc()
	m.retrievedDocuments.WithLabelValues(service, strategy).Observe(float64(documentCount))

	if documentCount > 0 {
		m.retrievalHitTotal.WithLabelValues(service, strategy).Inc()
		return
	}
	m.retrievalNoResultTotal.WithLabelValues(service, strategy).Inc()
}

func (m *HTTPServerMetrics) RecordStreamChunks(service string, chunks int) {
	if chunks <= 0 {
		return
	}
	m.streamChunksTotal.WithLabelValues(service).Add(float64(chunks))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
