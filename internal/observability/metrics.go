// Package observability exposes the prometheus registry and the
// counters tracked by the RBAC engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects prometheus metrics for the service. All record
// methods tolerate a nil receiver so callers never need to guard.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheEvents     *prometheus.CounterVec
	cacheEvictions  *prometheus.CounterVec
	decisions       *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	cacheEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_rbac_cache_events_total",
		Help: "Permission cache lookups by namespace and outcome.",
	}, []string{"namespace", "event"})
	cacheEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_rbac_cache_evictions_total",
		Help: "Permission cache evictions by namespace.",
	}, []string{"namespace"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_rbac_decisions_total",
		Help: "Authorization gate decisions.",
	}, []string{"decision"})
	registry.MustRegister(requests, duration, cacheEvents, cacheEvictions, decisions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		cacheEvents:     cacheEvents,
		cacheEvictions:  cacheEvictions,
		decisions:       decisions,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// CacheHit records a cache lookup that was served from redis.
func (m *Metrics) CacheHit(namespace string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(namespace, "hit").Inc()
}

// CacheMiss records a cache lookup that fell through to the resolver.
func (m *Metrics) CacheMiss(namespace string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(namespace, "miss").Inc()
}

// CacheEviction records an invalidation of a cached entry.
func (m *Metrics) CacheEviction(namespace string) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(namespace).Inc()
}

// Decision records an authorization gate outcome.
func (m *Metrics) Decision(allowed bool) {
	if m == nil {
		return
	}
	label := "deny"
	if allowed {
		label = "allow"
	}
	m.decisions.WithLabelValues(label).Inc()
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
