package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the HTTP surface and the
// analysis pipeline. It registers itself as a single collector.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInProgress prometheus.Gauge

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	tiffConversions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.requestsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_progress",
		Help: "Number of HTTP requests currently being served",
	})

	m.pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fish_pipeline_runs_total",
			Help: "Analysis and export runs by outcome",
		},
		[]string{"kind", "status", "error_kind"}, // kind: analyze, export
	)

	m.pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fish_pipeline_run_duration_seconds",
			Help:    "Time taken for analysis and export runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"kind"},
	)

	m.tiffConversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiff_conversions_total",
			Help: "TIFF to PNG conversions by result",
		},
		[]string{"result"}, // result: converted, cached, failed
	)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.requestsInProgress,
		m.pipelineRuns,
		m.pipelineDuration,
		m.tiffConversions,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ObserveRun records one pipeline pass.
func (m *Metrics) ObserveRun(kind, status, errorKind string, d time.Duration) {
	m.pipelineRuns.WithLabelValues(kind, status, errorKind).Inc()
	m.pipelineDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveConversion records one /convert-tiff outcome.
func (m *Metrics) ObserveConversion(result string) {
	m.tiffConversions.WithLabelValues(result).Inc()
}

// Middleware tracks request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInProgress.Inc()
		defer m.requestsInProgress.Dec()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// routePattern keeps label cardinality bounded by using the matched pattern
// instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
