package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

// IndexMetrics covers the background indexer: one observation per
// document pulled off the queue.
type IndexMetrics struct {
	registry *prometheus.Registry
	service  string

	indexed  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	queueLag prometheus.Histogram
}

func NewIndexMetrics(service string) *IndexMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &IndexMetrics{
		registry: registry,
		service:  service,
		indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pqe",
			Subsystem:   "index",
			Name:        "documents_total",
			Help:        "Documents taken off the index queue, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "pqe",
			Subsystem:   "index",
			Name:        "duration_seconds",
			Help:        "Time from fetch to last upserted vector.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pqe",
			Subsystem:   "index",
			Name:        "in_flight",
			Help:        "Documents currently being indexed.",
			ConstLabels: constLabels,
		}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pqe",
			Subsystem:   "index",
			Name:        "queue_lag_seconds",
			Help:        "Delay between registration and the start of indexing.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
			ConstLabels: constLabels,
		}),
	}
	registry.MustRegister(m.indexed, m.duration, m.inFlight, m.queueLag)
	return m
}

func (m *IndexMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Track marks a document as in flight and returns the func that records
// its outcome.
func (m *IndexMetrics) Track() func(err error) {
	m.inFlight.Inc()
	started := time.Now()
	return func(err error) {
		m.inFlight.Dec()
		outcome := indexOutcome(err)
		m.indexed.WithLabelValues(outcome).Inc()
		m.duration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	}
}

func (m *IndexMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func indexOutcome(err error) string {
	switch {
	case err == nil:
		return "indexed"
	case errors.Is(err, domain.ErrEmptyDocument):
		return "empty"
	case errors.Is(err, domain.ErrFetchFailed), errors.Is(err, domain.ErrDocumentTooLarge):
		return "fetch_failed"
	case errors.Is(err, domain.ErrTemporary):
		return "unavailable"
	default:
		return "error"
	}
}
