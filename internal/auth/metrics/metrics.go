// Package metrics holds the service's Prometheus collectors. Components take
// a *Metrics rather than touching the default registry so tests can assert
// on counters in isolation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authcore"

// Metrics is the set of collectors exported by the service.
type Metrics struct {
	RPCRequests *prometheus.CounterVec   // method, code
	RPCDuration *prometheus.HistogramVec // method
	RateLimited *prometheus.CounterVec   // method

	HTTPRequests *prometheus.CounterVec // path, status

	AuthAttempts *prometheus.CounterVec // outcome

	CacheErrors   *prometheus.CounterVec // op
	CacheFailOpen prometheus.Counter

	SessionsEvicted prometheus.Counter

	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsFailed    prometheus.Counter

	SigningKeyVersion prometheus.Gauge
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "gRPC request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"method"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of ops HTTP requests.",
		}, []string{"path", "status"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by outcome.",
		}, []string{"outcome"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Redis operations that failed or timed out.",
		}, []string{"op"}),
		CacheFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fail_open_total",
			Help:      "Validations that proceeded without a revocation check because the cache was unavailable.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions revoked to stay under the per-principal limit.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Auth events written to the sink.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Auth events dropped because the publish queue was full.",
		}),
		EventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Auth events that exhausted their delivery attempts.",
		}),
		SigningKeyVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signing_key_version",
			Help:      "Current key ring version.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RPCRequests, m.RPCDuration, m.RateLimited,
			m.HTTPRequests,
			m.AuthAttempts,
			m.CacheErrors, m.CacheFailOpen,
			m.SessionsEvicted,
			m.EventsPublished, m.EventsDropped, m.EventsFailed,
			m.SigningKeyVersion,
		)
	}
	return m
}

// ObserveRPC records one finished gRPC call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	m.RPCRequests.WithLabelValues(method, code).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument counts ops HTTP requests by path and status.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
