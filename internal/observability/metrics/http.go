package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	routingOutcomesTotal *prometheus.CounterVec
	decisionsTotal       *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	claimsExpiredTotal   prometheus.Counter
	reviewLatency        *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dre",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dre",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dre",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	routingOutcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dre",
			Subsystem: "routing",
			Name:      "outcomes_total",
			Help:      "Total routed analysis results by outcome.",
		},
		[]string{"service", "outcome"},
	)
	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dre",
			Subsystem: "review",
			Name:      "decisions_total",
			Help:      "Total recorded decisions by action and actor kind.",
		},
		[]string{"service", "action", "actor"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dre",
			Subsystem: "review",
			Name:      "queue_depth",
			Help:      "Documents currently awaiting manual review.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	claimsExpiredTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dre",
			Subsystem: "review",
			Name:      "claims_expired_total",
			Help:      "Total review claims released by lease expiry.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	reviewLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dre",
			Subsystem: "review",
			Name:      "latency_seconds",
			Help:      "Time from document upload to final decision.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
		},
		[]string{"service", "actor"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		routingOutcomesTotal,
		decisionsTotal,
		queueDepth,
		claimsExpiredTotal,
		reviewLatency,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		routingOutcomesTotal: routingOutcomesTotal,
		decisionsTotal:       decisionsTotal,
		queueDepth:           queueDepth,
		claimsExpiredTotal:   claimsExpiredTotal,
		reviewLatency:        reviewLatency,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
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
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/review/documents/"):
		rest := strings.TrimPrefix(path, "/v1/review/documents/")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			return "/v1/review/documents/{document_id}" + rest[idx:]
		}
		return "/v1/review/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/documents/"):
		if strings.HasSuffix(path, "/history") {
			return "/v1/documents/{document_id}/history"
		}
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRoutingOutcome(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.routingOutcomesTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordDecision(service, action, actor string) {
	if action == "" {
		action = "unknown"
	}
	if actor == "" {
		actor = "unknown"
	}
	m.decisionsTotal.WithLabelValues(service, action, actor).Inc()
}

func (m *HTTPServerMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *HTTPServerMetrics) RecordClaimsExpired(count int) {
	if count <= 0 {
		return
	}
	m.claimsExpiredTotal.Add(float64(count))
}

func (m *HTTPServerMetrics) ObserveReviewLatency(service, actor string, latency time.Duration) {
	if latency < 0 {
		return
	}
	if actor == "" {
		actor = "unknown"
	}
	m.reviewLatency.WithLabelValues(service, actor).Observe(latency.Seconds())
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
