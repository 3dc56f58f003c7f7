package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docimport"

// routes are the path labels the API may produce. Anything else collapses
// to "other" so scanners cannot blow up label cardinality.
var routes = map[string]struct{}{
	"/healthz":               {},
	"/metrics":               {},
	"/v1/documents":          {},
	"/v1/documents/classify": {},
	"/v1/imports":            {},
	"/v1/imports/history":    {},
	"/v1/batches":            {},
}

// HTTPServerMetrics serves the API registry: request traffic plus the
// classify, import and batch counters recorded by the handlers.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	classified       *prometheus.CounterVec
	classifyDuration prometheus.Histogram
	commits          *prometheus.CounterVec
	recordsCreated   *prometheus.CounterVec

	batch *BatchMetrics
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &HTTPServerMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration by route.",
			ConstLabels: labels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180},
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "HTTP requests being served.",
			ConstLabels: labels,
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "classify",
			Name:        "documents_total",
			Help:        "Synchronously classified documents by detected type.",
			ConstLabels: labels,
		}, []string{"document_type"}),
		classifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "classify",
			Name:        "duration_seconds",
			Help:        "Classification plus entity resolution time.",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "import",
			Name:        "commits_total",
			Help:        "Import commits by document type and outcome.",
			ConstLabels: labels,
		}, []string{"document_type", "outcome"}),
		recordsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "import",
			Name:        "records_created_total",
			Help:        "Business records created by committed imports.",
			ConstLabels: labels,
		}, []string{"document_type"}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.inFlight,
		m.classified, m.classifyDuration,
		m.commits, m.recordsCreated,
	)
	m.batch = NewBatchMetrics(service, m.registry)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Batch returns the batch observer registered on the same registry.
func (m *HTTPServerMetrics) Batch() *BatchMetrics {
	return m.batch
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.inFlight.Inc()
		defer m.inFlight.Dec()
		next.ServeHTTP(recorder, r)

		path := normalizePath(r.URL.Path)
		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if _, ok := routes[path]; ok {
		return path
	}
	if id, ok := strings.CutPrefix(path, "/v1/documents/"); ok && id != "" && !strings.Contains(id, "/") {
		return "/v1/documents/{document_id}"
	}
	return "other"
}

func (m *HTTPServerMetrics) RecordClassification(documentType string, duration time.Duration) {
	m.classified.WithLabelValues(orUnknown(documentType)).Inc()
	m.classifyDuration.Observe(duration.Seconds())
}

// RecordImport counts one commit attempt. outcome is committed, duplicate
// or failed.
func (m *HTTPServerMetrics) RecordImport(documentType, outcome string, created int) {
	documentType = orUnknown(documentType)
	m.commits.WithLabelValues(documentType, outcome).Inc()
	if created > 0 {
		m.recordsCreated.WithLabelValues(documentType).Add(float64(created))
	}
}

func orUnknown(documentType string) string {
	if documentType == "" {
		return "unknown"
	}
	return documentType
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
