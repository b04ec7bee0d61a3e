// Package metrics exposes Prometheus collectors for quota, cache, upstream and HTTP activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultNamespace = "kormo"

	outcomeAllowed = "allowed"
	outcomeDenied  = "denied"
	outcomeHit     = "hit"
	outcomeMiss    = "miss"
	unmatchedRoute = "unmatched"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		m.namespace = namespace
	}
}

// WithRegistry registers collectors on the provided registry instead of a private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithEnabled toggles metric collection. A disabled manager records nothing.
func WithEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.enabled = enabled
	}
}

// WithHistogramBuckets overrides the request duration buckets.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// Manager owns the service collectors.
type Manager struct {
	namespace string
	buckets   []float64
	enabled   bool
	registry  *prometheus.Registry

	quotaDecisions      *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	upstreamCalls       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager builds the collectors and registers them.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: defaultNamespace,
		buckets:   prometheus.DefBuckets,
		enabled:   true,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initialize()
	return m
}

func (m *Manager) initialize() {
	auto := promauto.With(m.registry)
	m.quotaDecisions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "quota_decisions_total",
		Help:      "Quota decisions by operation, tier and outcome",
	}, []string{"operation", "tier", "outcome"})
	m.cacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "analysis_cache_lookups_total",
		Help:      "Analysis cache lookups by outcome",
	}, []string{"outcome"})
	m.upstreamCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "upstream_calls_total",
		Help:      "Language model calls by outcome",
	}, []string{"outcome"})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   m.buckets,
	}, []string{"route", "method"})
}

// Enabled reports whether the manager records observations.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// ObserveQuotaDecision counts an allowed or denied quota check.
func (m *Manager) ObserveQuotaDecision(operation, tier string, allowed bool) {
	if !m.Enabled() {
		return
	}
	outcome := outcomeDenied
	if allowed {
		outcome = outcomeAllowed
	}
	m.quotaDecisions.WithLabelValues(operation, tier, outcome).Inc()
}

// ObserveCacheLookup counts an analysis cache hit or miss.
func (m *Manager) ObserveCacheLookup(hit bool) {
	if !m.Enabled() {
		return
	}
	outcome := outcomeMiss
	if hit {
		outcome = outcomeHit
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveUpstreamCall counts one completer attempt.
func (m *Manager) ObserveUpstreamCall(outcome string) {
	if !m.Enabled() {
		return
	}
	m.upstreamCalls.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records a finished request.
func (m *Manager) ObserveHTTPRequest(route, method string, status int, elapsed time.Duration) {
	if !m.Enabled() {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Middleware records every request that passes through the gin engine.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.ObserveHTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(started))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
