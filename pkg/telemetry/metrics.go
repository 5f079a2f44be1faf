package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for inventory runs. It implements
// engine.Recorder.
type Metrics struct {
	config MetricsConfig

	// Fetch metrics
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	// Instance metrics
	instancesDiscovered *prometheus.GaugeVec
	instancesIncluded   *prometheus.GaugeVec
	exclusions          *prometheus.CounterVec
	hostnameCollisions  *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Run metrics
	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	inventoryHosts prometheus.Gauge
	lastRun        prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of LXD API requests",
			},
			[]string{"endpoint", "operation", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of LXD API requests in seconds, including retries",
				Buckets:   buckets,
			},
			[]string{"endpoint", "operation"},
		),

		instancesDiscovered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_discovered",
				Help:      "Instances returned by the endpoint in the last run",
			},
			[]string{"endpoint"},
		),
		instancesIncluded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_included",
				Help:      "Instances that passed the filters in the last run",
			},
			[]string{"endpoint"},
		),
		exclusions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_excluded_total",
				Help:      "Total number of instances rejected by a filter",
			},
			[]string{"endpoint", "reason"},
		),
		hostnameCollisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hostname_collisions_total",
				Help:      "Total number of hostnames that needed a numeric suffix",
			},
			[]string{"endpoint"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of inventory runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of inventory runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		inventoryHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inventory_hosts",
				Help:      "Hosts in the last generated inventory",
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run",
			},
		),
	}

	registry.MustRegister(
		m.fetches,
		m.fetchDuration,
		m.instancesDiscovered,
		m.instancesIncluded,
		m.exclusions,
		m.hostnameCollisions,
		m.errorsByClass,
		m.errorsByCode,
		m.runsCompleted,
		m.runDuration,
		m.inventoryHosts,
		m.lastRun,
	)

	return m, nil
}

// RecordFetch records one LXD API request.
func (m *Metrics) RecordFetch(endpoint, operation, outcome string, seconds float64) {
	if m.fetches == nil {
		return
	}
	m.fetches.WithLabelValues(endpoint, operation, outcome).Inc()
	m.fetchDuration.WithLabelValues(endpoint, operation).Observe(seconds)
}

// RecordInstances sets the instance counts of an endpoint.
func (m *Metrics) RecordInstances(endpoint string, discovered, included int) {
	if m.instancesDiscovered == nil {
		return
	}
	m.instancesDiscovered.WithLabelValues(endpoint).Set(float64(discovered))
	m.instancesIncluded.WithLabelValues(endpoint).Set(float64(included))
}

// RecordExclusion records an instance rejected by a filter.
func (m *Metrics) RecordExclusion(endpoint, reason string) {
	if m.exclusions == nil {
		return
	}
	m.exclusions.WithLabelValues(endpoint, reason).Inc()
}

// RecordHostnameCollision records a hostname that needed a suffix.
func (m *Metrics) RecordHostnameCollision(endpoint string) {
	if m.hostnameCollisions == nil {
		return
	}
	m.hostnameCollisions.WithLabelValues(endpoint).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status string, hosts int, seconds float64) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(seconds)
	m.inventoryHosts.Set(float64(hosts))
	m.lastRun.SetToCurrentTime()
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// WriteTextfile writes the current metrics to path in the text exposition
// format, for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Serve exposes metrics on the configured address until ctx is done.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
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
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("address", m.config.ListenAddress).
		Str("path", m.config.Path).
		Msg("Serving metrics")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
