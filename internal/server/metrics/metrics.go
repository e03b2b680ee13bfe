// Package metrics exposes Prometheus counters for the identity flows. All
// methods are safe on a nil *Metrics so callers may run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	codesIssued     *prometheus.CounterVec
	codesRedeemed   *prometheus.CounterVec
	merges          *prometheus.CounterVec
	emails          *prometheus.CounterVec
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_codes_issued_total",
			Help: "One-time codes issued, by kind.",
		}, []string{"kind"}),
		codesRedeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_codes_redeemed_total",
			Help: "Code redemption attempts, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_account_merges_total",
			Help: "Account merges, by outcome.",
		}, []string{"outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_emails_total",
			Help: "Outgoing emails, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.codesIssued, m.codesRedeemed, m.merges, m.emails, m.requestCount, m.requestDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CodeIssued(kind string) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) CodeRedeemed(kind string, ok bool) {
	if m == nil {
		return
	}
	m.codesRedeemed.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *Metrics) Merge(ok bool) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) Email(kind string, ok bool) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *Metrics) Request(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.requestCount.WithLabelValues(method, route, s).Inc()
	m.requestDuration.WithLabelValues(method, route, s).Observe(elapsed.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
