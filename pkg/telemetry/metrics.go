package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for azmove. It implements the ARM
// client's request observer and the simulator's evaluation observer.
type Metrics struct {
	config MetricsConfig

	// ARM request metrics
	armRequests        *prometheus.CounterVec
	armRequestDuration *prometheus.HistogramVec

	// Evaluation metrics
	evaluations *prometheus.CounterVec

	// Run metrics
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	lastRunViolations prometheus.Gauge

	// Cache metrics
	cacheEvents *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled config yields a no-op instance whose record methods are safe
// to call.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		armRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arm_requests_total",
				Help:      "Total number of ARM API requests",
			},
			[]string{"operation", "status"},
		),
		armRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "arm_request_duration_seconds",
				Help:      "Duration of ARM API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of (resource, policy) pair evaluations",
			},
			[]string{"state"},
		),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of simulation runs completed",
			},
			[]string{"classification"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of simulation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"classification"},
		),
		lastRunViolations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_violations",
				Help:      "Number of violations found by the most recent run",
			},
		),

		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Run-scoped cache hits and misses",
			},
			[]string{"cache", "event"},
		),
	}

	registry.MustRegister(
		m.armRequests,
		m.armRequestDuration,
		m.evaluations,
		m.runsCompleted,
		m.runDuration,
		m.lastRunViolations,
		m.cacheEvents,
	)

	return m, nil
}

// ObserveRequest records one completed ARM request.
func (m *Metrics) ObserveRequest(operation string, status int, duration time.Duration) {
	if m.armRequests == nil {
		return
	}
	m.armRequests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.armRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveEvaluation records one (resource, policy) pair evaluation.
func (m *Metrics) ObserveEvaluation(state string) {
	if m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(state).Inc()
}

// RecordRunCompleted records a finished run with its classification,
// duration, and violation count.
func (m *Metrics) RecordRunCompleted(classification string, duration time.Duration, violations int) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(classification).Inc()
	m.runDuration.WithLabelValues(classification).Observe(duration.Seconds())
	m.lastRunViolations.Set(float64(violations))
}

// RecordCacheEvent records a hit or miss on a named run-scoped cache.
func (m *Metrics) RecordCacheEvent(cache, event string) {
	if m.cacheEvents == nil {
		return
	}
	m.cacheEvents.WithLabelValues(cache, event).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
