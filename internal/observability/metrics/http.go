package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

// APIMetrics is the registry behind the API's /metrics endpoint. Every
// series carries a constant service label.
type APIMetrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	questions      *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	chunksAnalyzed *prometheus.HistogramVec
	llmTokens      *prometheus.CounterVec
	documents      *prometheus.CounterVec
}

func NewAPIMetrics(service string) *APIMetrics {
	labels := prometheus.Labels{"service": service}
	counter := func(subsystem, name, help string, dims ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqe", Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		}, dims)
	}
	histogram := func(subsystem, name, help string, buckets []float64, dims ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pqe", Subsystem: subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: labels,
		}, dims)
	}

	m := &APIMetrics{
		registry:        prometheus.NewRegistry(),
		requests:        counter("http", "requests_total", "HTTP requests by route and status.", "method", "path", "status"),
		requestDuration: histogram("http", "request_duration_seconds", "HTTP request latency.", prometheus.DefBuckets, "method", "path"),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pqe", Subsystem: "http", Name: "in_flight_requests", Help: "Requests being served.", ConstLabels: labels,
		}),
		questions:      counter("query", "questions_total", "Questions by outcome.", "endpoint", "outcome"),
		queryDuration:  histogram("query", "duration_seconds", "Wall time of a whole question batch.", []float64{1, 2, 5, 10, 20, 30, 60, 120, 300}, "endpoint"),
		chunksAnalyzed: histogram("query", "chunks_analyzed", "Clauses analyzed per answered question.", []float64{0, 1, 2, 3, 5, 8, 13}, "endpoint"),
		llmTokens:      counter("llm", "tokens_total", "Prompt and response tokens of answered questions.", "endpoint", "model"),
		documents:      counter("documents", "processed_total", "Documents fetched for a query, by result.", "status"),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.inFlight,
		m.questions, m.queryDuration, m.chunksAnalyzed, m.llmTokens, m.documents,
	)
	return m
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := routeLabel(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.inFlight.Inc()
		defer m.inFlight.Dec()
		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses document ids so the path label stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/v1/documents/") {
		return "/v1/documents/{document_id}"
	}
	return path
}

// RecordQuery observes one question batch. When err is set the document
// never got to the question stage.
func (m *APIMetrics) RecordQuery(endpoint string, resp *domain.QueryResponse, err error, duration time.Duration) {
	m.queryDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

	switch {
	case err == nil && resp != nil:
		m.documents.WithLabelValues("success").Inc()
	case domain.IsKind(err, domain.ErrEmptyDocument):
		m.documents.WithLabelValues("empty").Inc()
		return
	default:
		m.documents.WithLabelValues("error").Inc()
		return
	}

	for _, answer := range resp.Answers {
		meta := answer.ProcessingMetadata
		switch {
		case answer.Failed:
			m.questions.WithLabelValues(endpoint, "failed").Inc()
			continue
		case meta.Cached:
			m.questions.WithLabelValues(endpoint, "cached").Inc()
		default:
			m.questions.WithLabelValues(endpoint, "answered").Inc()
		}
		m.chunksAnalyzed.WithLabelValues(endpoint).Observe(float64(meta.ChunksAnalyzed))
		if meta.TotalTokens > 0 {
			model := meta.ModelUsed
			if model == "" {
				model = "unknown"
			}
			m.llmTokens.WithLabelValues(endpoint, model).Add(float64(meta.TotalTokens))
		}
	}
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
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
