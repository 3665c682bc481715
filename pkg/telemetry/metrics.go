package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics provides Prometheus metrics for recipe application.
type Metrics struct {
	config MetricsConfig

	recipesApplied *prometheus.CounterVec
	applyDuration  *prometheus.HistogramVec
	batches        *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	ledgerFlushes  *prometheus.CounterVec
	pending        prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a collector whose methods do nothing.
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

		recipesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_applied_total",
				Help:      "Total number of recipes applied or reverted",
			},
			[]string{"job", "status"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recipe_apply_duration_seconds",
				Help:      "Duration of a single configurator call in seconds",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of non-empty batches processed",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of a batch in seconds",
				Buckets:   buckets,
			},
		),
		ledgerFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_flushes_total",
				Help:      "Total number of ledger writes",
			},
			[]string{"status"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_recipes",
				Help:      "Number of recipes queued for the current batch",
			},
		),
	}

	registry.MustRegister(
		m.recipesApplied,
		m.applyDuration,
		m.batches,
		m.batchDuration,
		m.ledgerFlushes,
		m.pending,
	)

	return m, nil
}

// RecordApply records one configurator call.
func (m *Metrics) RecordApply(job, status string, duration time.Duration) {
	if m == nil || m.recipesApplied == nil {
		return
	}
	m.recipesApplied.WithLabelValues(job, status).Inc()
	m.applyDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordBatch records a processed batch.
func (m *Metrics) RecordBatch(status string, duration time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
	m.batchDuration.Observe(duration.Seconds())
}

// RecordFlush records a ledger write.
func (m *Metrics) RecordFlush(status string) {
	if m == nil || m.ledgerFlushes == nil {
		return
	}
	m.ledgerFlushes.WithLabelValues(status).Inc()
}

// SetPending sets the current queue depth.
func (m *Metrics) SetPending(n int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

// Timer helps measure operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
