package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BatchMetrics observes batch items. It is safe for concurrent use.
type BatchMetrics struct {
	service string

	itemsTotal   *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

func NewBatchMetrics(service string, registerer prometheus.Registerer) *BatchMetrics {
	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Batch items by final status.",
		},
		[]string{"service", "status"},
	)
	itemDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "item_duration_seconds",
			Help:      "Per-item classification duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_in_flight",
			Help:      "Batch items currently being classified.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	if registerer != nil {
		registerer.MustRegister(itemsTotal, itemDuration, inFlight)
	}

	return &BatchMetrics{
		service:      service,
		itemsTotal:   itemsTotal,
		itemDuration: itemDuration,
		inFlight:     inFlight,
	}
}

func (m *BatchMetrics) StartItem() {
	m.inFlight.Inc()
}

func (m *BatchMetrics) FinishItem(status string, duration time.Duration) {
	m.inFlight.Dec()
	m.itemsTotal.WithLabelValues(m.service, status).Inc()
	m.itemDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *BatchMetrics) SkipItem(status string) {
	m.itemsTotal.WithLabelValues(m.service, status).Inc()
}
