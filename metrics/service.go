package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"discovery-worker/domain"
	"discovery-worker/scheduler"
)

type PrometheusMetrics struct {
	// Scheduler
	TasksFinished *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec

	// Cache
	CacheLookups *prometheus.CounterVec

	// Pipeline
	ListingsFound  *prometheus.CounterVec
	RecordsEmitted *prometheus.CounterVec
	PipelineErrors *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
}

func NewMetrics() *PrometheusMetrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on reg instead of the default registry.
func NewMetricsWith(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_tasks_finished_total",
				Help: "Profile tasks finished, by provider and final state",
			},
			[]string{"provider", "state"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "discovery_task_duration_seconds",
				Help: "Time taken by one profile task including rate limiting",
			},
			[]string{"provider"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_cache_lookups_total",
				Help: "Artifact cache lookups by artifact type and result",
			},
			[]string{"artifact_type", "result"},
		), // result: "hit", "miss" or "refetch"
		ListingsFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_listings_found_total",
				Help: "Listing entries discovered per provider",
			},
			[]string{"provider"},
		),
		RecordsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_records_emitted_total",
				Help: "Normalized records in published envelopes",
			},
			[]string{"kind"},
		),
		PipelineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_pipeline_errors_total",
				Help: "Pipeline errors by provider and code",
			},
			[]string{"provider", "code"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_run_duration_seconds",
				Help:    "Wall time of a discovery run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"status"},
		),
	}
}

func (m *PrometheusMetrics) CacheHit(artifactType string) {
	m.CacheLookups.WithLabelValues(artifactType, "hit").Inc()
}

func (m *PrometheusMetrics) CacheMiss(artifactType string) {
	m.CacheLookups.WithLabelValues(artifactType, "miss").Inc()
}

func (m *PrometheusMetrics) CacheRefetch(artifactType string) {
	m.CacheLookups.WithLabelValues(artifactType, "refetch").Inc()
}

func (m *PrometheusMetrics) TaskFinished(provider string, state scheduler.State, elapsed time.Duration) {
	m.TasksFinished.WithLabelValues(provider, string(state)).Inc()
	m.TaskDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func StartNewMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Msgf("Metrics server starting on %s", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

func (m *PrometheusMetrics) ListingsDiscovered(provider string, n int) {
	m.ListingsFound.WithLabelValues(provider).Add(float64(n))
}

func (m *PrometheusMetrics) PipelineError(provider string, code domain.ErrorCode) {
	m.PipelineErrors.WithLabelValues(provider, string(code)).Inc()
}

func (m *PrometheusMetrics) RecordsPublished(kind string, n int) {
	m.RecordsEmitted.WithLabelValues(kind).Add(float64(n))
}

func (m *PrometheusMetrics) RunFinished(status string, elapsed time.Duration) {
	m.RunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}
