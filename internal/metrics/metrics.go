// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the link cache.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shorturl"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

// New builds the collectors. version is attached to every series.
func New(version string) *Metrics {
	labels := prometheus.Labels{"version": version}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Number of HTTP requests served.",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: labels,
			Buckets:     []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Link cache lookups by keyspace and result.",
			ConstLabels: labels,
		}, []string{"keyspace", "result"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Hit records a cache hit in keyspace.
func (m *Metrics) Hit(keyspace string) {
	m.cacheLookups.WithLabelValues(keyspace, "hit").Inc()
}

// Miss records a cache miss in keyspace. Backend errors count as misses.
func (m *Metrics) Miss(keyspace string) {
	m.cacheLookups.WithLabelValues(keyspace, "miss").Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
