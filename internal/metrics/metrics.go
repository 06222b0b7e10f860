// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the pipeline emits. One instance is
// constructed at startup and handed to workers and the queue runtime.
type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	DeadLetterDepth   prometheus.Gauge
	LLMCalls          *prometheus.CounterVec
	RateLimitHits     *prometheus.CounterVec
	BreakerTransition *prometheus.CounterVec
}

// New registers all pipeline collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regstream",
			Name:      "jobs_total",
			Help:      "Processed jobs by worker, queue and outcome.",
		}, []string{"worker", "queue", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "regstream",
			Name:      "job_duration_seconds",
			Help:      "Job handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"worker", "queue"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "regstream",
			Name:      "queue_depth",
			Help:      "Waiting, active and failed tasks per queue.",
		}, []string{"queue", "state"}),
		DeadLetterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "regstream",
			Name:      "dead_letter_depth",
			Help:      "Jobs parked in the dead-letter queue.",
		}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regstream",
			Name:      "llm_calls_total",
			Help:      "LLM port calls by task and outcome.",
		}, []string{"task", "status"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regstream",
			Name:      "rate_limit_hits_total",
			Help:      "Times a caller had to wait on a limiter.",
		}, []string{"limiter"}),
		BreakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regstream",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"breaker", "to"}),
	}

	m.Registry.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.QueueDepth,
		m.DeadLetterDepth,
		m.LLMCalls,
		m.RateLimitHits,
		m.BreakerTransition,
	)
	return m
}
