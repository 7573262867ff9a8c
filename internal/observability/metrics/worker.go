package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	chunksTotal     *prometheus.CounterVec
	findingsPerDoc  *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "chunks_total",
			Help:      "Analyzed chunks by outcome (concern, clear, cached, error).",
		},
		[]string{"service", "outcome"},
	)
	findingsPerDoc := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "findings_per_document",
			Help:      "Number of findings saved per analyzed document.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"service"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, chunksTotal, findingsPerDoc)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		chunksTotal:     chunksTotal,
		findingsPerDoc:  findingsPerDoc,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordChunk(service, outcome string) {
	m.chunksTotal.WithLabelValues(service, outcome).Inc()
}

func (m *WorkerMetrics) RecordFindings(service string, count int) {
	m.findingsPerDoc.WithLabelValues(service).Observe(float64(count))
}

// AnalysisObserver binds the chunk and findings series to one service label.
func (m *WorkerMetrics) AnalysisObserver(service string) *AnalysisObserver {
	return &AnalysisObserver{metrics: m, service: service}
}

type AnalysisObserver struct {
	metrics *WorkerMetrics
	service string
}

func (o *AnalysisObserver) ChunkAnalyzed(outcome string) {
	o.metrics.RecordChunk(o.service, outcome)
}

func (o *AnalysisObserver) DocumentAnalyzed(findings int) {
	o.metrics.RecordFindings(o.service, findings)
}
