// Package metrics holds the Prometheus collectors of the session service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are registered on their own registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LoginAttempts   *prometheus.CounterVec
	Registrations   *prometheus.CounterVec
	TokenRefresh    *prometheus.CounterVec
	RateLimited     prometheus.Counter
	Panics          prometheus.Counter
	RefreshPurged   prometheus.Counter
}

// New registers all collectors plus the Go and process collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_auth_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lms_auth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"status"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_auth_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"status"}),
		TokenRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_auth_token_refresh_total",
			Help: "Refresh rotations by outcome.",
		}, []string{"status"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "lms_auth_rate_limited_total",
			Help: "Requests rejected by the per-client rate gate.",
		}),
		Panics: f.NewCounter(prometheus.CounterOpts{
			Name: "lms_auth_http_panics_total",
			Help: "Recovered handler panics.",
		}),
		RefreshPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "lms_auth_refresh_purged_total",
			Help: "Expired refresh credentials removed by the janitor.",
		}),
	}
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Outcome maps an error to a low-cardinality status label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

// GaugeFunc registers a gauge computed on scrape.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}
