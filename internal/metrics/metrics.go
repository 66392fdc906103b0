// Package metrics exposes Prometheus metrics for correlation runs and the
// query API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// Metrics holds all jitlens collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RecordsProcessed prometheus.Counter
	Events           *prometheus.CounterVec
	CodeCacheEvents  *prometheus.CounterVec
	Diagnostics      *prometheus.CounterVec
	NativeBytes      prometheus.Gauge
	LastRunClasses   prometheus.Gauge

	HTTPRequests       *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jitlens_runs_total",
			Help: "Correlation runs by outcome",
		}, []string{"outcome"}), // ok, fatal, stopped, failed

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jitlens_run_duration_seconds",
			Help:    "Wall time of a correlation run",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),

		RecordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "jitlens_records_processed_total",
			Help: "Log records dispatched by the correlation engine",
		}),

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jitlens_events_total",
			Help: "Correlated JIT events by kind",
		}, []string{"kind"}),

		CodeCacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jitlens_code_cache_events_total",
			Help: "Code cache events by kind",
		}, []string{"kind"}),

		Diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jitlens_diagnostics_total",
			Help: "Diagnostics by severity and category",
		}, []string{"severity", "category"}),

		NativeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "jitlens_last_run_native_bytes",
			Help: "Native code bytes accounted in the most recent run",
		}),

		LastRunClasses: f.NewGauge(prometheus.GaugeOpts{
			Name: "jitlens_last_run_classes",
			Help: "Classes modeled in the most recent run",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jitlens_http_requests_total",
			Help: "Query API requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPRequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jitlens_http_request_duration_seconds",
			Help:    "Query API latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRun records the outcome of a finished run.
func (m *Metrics) RecordRun(s *model.RunSummary, elapsed time.Duration) {
	outcome := "ok"
	switch {
	case s.Fatal:
		outcome = "fatal"
	case s.Stopped:
		outcome = "stopped"
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	m.RecordsProcessed.Add(float64(s.RecordsProcessed))
	m.NativeBytes.Set(float64(s.NativeBytes))
	m.LastRunClasses.Set(float64(s.Classes))
}

// RecordRunFailure counts a run that ended with an error before producing
// a summary.
func (m *Metrics) RecordRunFailure() {
	m.Runs.WithLabelValues("failed").Inc()
}

// GinMiddleware counts requests by their matched route pattern.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Listener returns an engine listener that counts events as they happen.
func (m *Metrics) Listener() model.Listener {
	return listener{m: m}
}

type listener struct {
	model.NopListener
	m *Metrics
}

func (l listener) HandleEvent(e model.Event) {
	l.m.Events.WithLabelValues(e.Type.String()).Inc()
}

func (l listener) HandleCodeCacheEvent(e model.CodeCacheEvent) {
	l.m.CodeCacheEvents.WithLabelValues(e.Type.String()).Inc()
}

func (l listener) HandleDiagnostic(d model.Diagnostic) {
	l.m.Diagnostics.WithLabelValues(d.Severity.String(), d.Category).Inc()
}
