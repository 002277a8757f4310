// Package metrics provides Prometheus instrumentation for the rate limiter.
//
// Wrap a ratelimit.Limiter to automatically record decisions and latency:
//
//	collector := metrics.NewCollector()
//	limiter, _ := ratelimit.NewSlidingWindow(st)
//	instrumented := metrics.Wrap(limiter, collector)
//
// Decisions carry a "decision" label (allowed / denied / fail_open), so a
// store outage is visible as a fail_open rate even though the limiter
// never surfaces an error.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ratelimit "github.com/expenseflow/ratelimit"
)

// Collector holds Prometheus metric vectors for rate limiter instrumentation.
type Collector struct {
	checks   *prometheus.CounterVec
	duration prometheus.Histogram
}

type collectorConfig struct {
	namespace string
	subsystem string
	registry  prometheus.Registerer
	buckets   []float64
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

// WithNamespace sets the Prometheus metric namespace (prefix).
func WithNamespace(ns string) CollectorOption {
	return func(c *collectorConfig) { c.namespace = ns }
}

// WithSubsystem sets the Prometheus metric subsystem.
func WithSubsystem(sub string) CollectorOption {
	return func(c *collectorConfig) { c.subsystem = sub }
}

// WithRegistry registers metrics with the given Registerer instead of
// prometheus.DefaultRegisterer.
func WithRegistry(r prometheus.Registerer) CollectorOption {
	return func(c *collectorConfig) { c.registry = r }
}

// WithBuckets sets custom histogram buckets for evaluation duration.
func WithBuckets(b []float64) CollectorOption {
	return func(c *collectorConfig) { c.buckets = b }
}

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// NewCollector creates a Collector and registers its metrics.
//
// Metrics registered:
//   - {namespace}_checks_total             counter   (decision)
//   - {namespace}_check_duration_seconds   histogram
//
// Default namespace is "ratelimit".
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := &collectorConfig{
		namespace: "ratelimit",
		registry:  prometheus.DefaultRegisterer,
		buckets:   defaultBuckets,
	}
	for _, o := range opts {
		o(cfg)
	}

	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "checks_total",
		Help:      "Total rate limit checks partitioned by decision.",
	}, []string{"decision"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "check_duration_seconds",
		Help:      "Latency of rate limit Check calls in seconds.",
		Buckets:   cfg.buckets,
	})

	cfg.registry.MustRegister(checks, duration)

	return &Collector{
		checks:   checks,
		duration: duration,
	}
}

// Wrap returns a Limiter that transparently records Prometheus metrics
// for every Check call delegated to inner.
func Wrap(inner ratelimit.Limiter, c *Collector) ratelimit.Limiter {
	return &instrumentedLimiter{
		inner:     inner,
		collector: c,
	}
}

type instrumentedLimiter struct {
	inner     ratelimit.Limiter
	collector *Collector
}

func (l *instrumentedLimiter) Check(ctx context.Context, key string, pol ratelimit.Policy) *ratelimit.Result {
	start := time.Now()
	result := l.inner.Check(ctx, key, pol)
	l.collector.duration.Observe(time.Since(start).Seconds())
	l.collector.checks.WithLabelValues(decision(result)).Inc()
	return result
}

func decision(result *ratelimit.Result) string {
	switch {
	case result.FailedOpen:
		return "fail_open"
	case result.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}
