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

	uploadsTotal      *prometheus.CounterVec
	uploadBytes       *prometheus.HistogramVec
	findingsReturned  *prometheus.HistogramVec
	chatRequestsTotal *prometheus.CounterVec
	chatPassages      *prometheus.HistogramVec
	chatDuration      *prometheus.HistogramVec
	rejectedTotal     *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Total document uploads by outcome.",
		},
		[]string{"service", "outcome"},
	)
	uploadBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "ingest",
			Name:      "upload_bytes",
			Help:      "Size of accepted uploads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10),
		},
		[]string{"service"},
	)
	findingsReturned := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "analysis",
			Name:      "findings_returned",
			Help:      "Distribution of findings returned per findings request.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"service", "endpoint"},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total finding chat requests by status.",
		},
		[]string{"service", "status"},
	)
	chatPassages := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "chat",
			Name:      "related_passages",
			Help:      "Distribution of related document passages per chat answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"service"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Finding chat duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by rate limiting or backpressure.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		uploadBytes,
		findingsReturned,
		chatRequestsTotal,
		chatPassages,
		chatDuration,
		rejectedTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		uploadsTotal:      uploadsTotal,
		uploadBytes:       uploadBytes,
		findingsReturned:  findingsReturned,
		chatRequestsTotal: chatRequestsTotal,
		chatPassages:      chatPassages,
		chatDuration:      chatDuration,
		rejectedTotal:     rejectedTotal,
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

// normalizePath folds ids out of the path to keep label cardinality bounded.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && (parts[0] == "analysis" || parts[0] == "progress"):
		return "/" + parts[0] + "/{document_id}"
	case len(parts) == 2 && parts[0] == "findings":
		return "/findings/{document_id}"
	case len(parts) == 3 && parts[0] == "findings" && parts[2] == "chat":
		return "/findings/{finding_id}/chat"
	case len(parts) == 4 && parts[0] == "findings" && parts[2] == "category":
		return "/findings/{document_id}/category/{category}"
	case len(parts) == 3 && parts[0] == "documents" && parts[2] == "pdf":
		return "/documents/{document_id}/pdf"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordUpload(service, outcome string, size int64) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.uploadsTotal.WithLabelValues(service, outcome).Inc()
	if outcome == "accepted" && size > 0 {
		m.uploadBytes.WithLabelValues(service).Observe(float64(size))
	}
}

func (m *HTTPServerMetrics) RecordFindingsReturned(service, endpoint string, count int) {
	m.findingsReturned.WithLabelValues(service, endpoint).Observe(float64(count))
}

func (m *HTTPServerMetrics) RecordChat(service, status string, passages int, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, status).Inc()
	m.chatDuration.WithLabelValues(service).Observe(duration.Seconds())
	if status == "ok" {
		m.chatPassages.WithLabelValues(service).Observe(float64(passages))
	}
}

func (m *HTTPServerMetrics) RecordRejected(service, reason string) {
	m.rejectedTotal.WithLabelValues(service, reason).Inc()
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
