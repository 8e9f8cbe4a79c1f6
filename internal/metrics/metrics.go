// Package metrics exposes Prometheus collectors for upstream traffic, cache
// efficiency and rank verdicts.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rankme"

// Manager owns the collectors and the registry they are registered with.
// A nil *Manager is valid and records nothing.
type Manager struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamRetries  *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	cacheLookups     *prometheus.CounterVec
	verdicts         *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
}

// Option configures a Manager
type Option func(*Manager)

// WithRegistry uses reg instead of a fresh private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithProcessCollectors adds the Go runtime and process collectors.
func WithProcessCollectors() Option {
	return func(m *Manager) {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// NewManager creates and registers all collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{registry: prometheus.NewRegistry()}

	m.upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Outbound requests dispatched per upstream host and status code.",
	}, []string{"host", "status"})
	m.upstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Requests requeued after a 429 response.",
	}, []string{"host"})
	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "queue_depth",
		Help:      "Requests waiting in a host queue.",
	}, []string{"host"})
	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache backend and result (hit, miss).",
	}, []string{"cache", "result"})
	m.verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rank",
		Name:      "verdicts_total",
		Help:      "Computed rank verdicts by engine and label.",
	}, []string{"engine", "value"})
	m.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "venue",
		Name:      "resolutions_total",
		Help:      "Venue name resolutions by origin (cache, store, upstream, failed).",
	}, []string{"origin"})

	for _, opt := range opts {
		opt(m)
	}

	m.registry.MustRegister(
		m.upstreamRequests,
		m.upstreamRetries,
		m.queueDepth,
		m.cacheLookups,
		m.verdicts,
		m.resolutions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Manager) UpstreamRequest(host string, status int) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(host, strconv.Itoa(status)).Inc()
}

func (m *Manager) UpstreamRetry(host string) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(host).Inc()
}

func (m *Manager) QueueDepth(host string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(host).Set(float64(depth))
}

func (m *Manager) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Manager) Verdict(engine, value string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(engine, value).Inc()
}

func (m *Manager) Resolution(origin string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(origin).Inc()
}
