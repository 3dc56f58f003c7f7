package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// Worker outcomes. A deferred document hit a temporary fault and will be
// redelivered; it is not counted as failed.
const (
	OutcomeClassified = "classified"
	OutcomeUnknown    = "unknown"
	OutcomeDeferred   = "deferred"
	OutcomeFailed     = "failed"
)

// WorkerMetrics covers the asynchronous classification path. Every series
// carries the service as a constant label.
type WorkerMetrics struct {
	registry *prometheus.Registry

	documents  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	confidence *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	queueLag   prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &WorkerMetrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "documents_total",
			Help:        "Submitted documents by outcome and detected type.",
			ConstLabels: labels,
		}, []string{"outcome", "document_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "document_duration_seconds",
			Help:        "Load, classify and resolve time per document.",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "extraction_confidence",
			Help:        "Confidence of recognised extractions.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"document_type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "documents_in_flight",
			Help:        "Documents currently being classified.",
			ConstLabels: labels,
		}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between upload and the start of classification.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
	m.registry.MustRegister(m.documents, m.duration, m.confidence, m.inFlight, m.queueLag)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.inFlight.Inc()
}

// FinishDocument records one processed submission. result is the stored
// extraction and may be nil when processing failed.
func (m *WorkerMetrics) FinishDocument(result *domain.ExtractionResult, duration time.Duration, err error) string {
	m.inFlight.Dec()

	outcome := WorkerOutcome(result, err)
	docType := string(domain.DocumentUnknown)
	if result != nil && result.DocumentType != "" {
		docType = string(result.DocumentType)
	}
	m.documents.WithLabelValues(outcome, docType).Inc()
	m.duration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == OutcomeClassified {
		m.confidence.WithLabelValues(docType).Observe(result.Confidence)
	}
	return outcome
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag >= 0 {
		m.queueLag.Observe(lag.Seconds())
	}
}

func WorkerOutcome(result *domain.ExtractionResult, err error) string {
	switch {
	case err != nil && domain.IsKind(err, domain.ErrTemporary):
		return OutcomeDeferred
	case err != nil:
		return OutcomeFailed
	case result == nil || result.IsUnknown():
		return OutcomeUnknown
	}
	return OutcomeClassified
}
