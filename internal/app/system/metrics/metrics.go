// Package metrics exposes the Prometheus instruments for the auth service.
//
// Instruments live on a Metrics value built against an explicit registry, so
// tests can use a private prometheus.Registry and nothing here is global.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	metricsstore "github.com/dalemusser/fieldauth/internal/app/store/metrics"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
)

// Outcomes recorded on fieldauth_auth_attempts_total besides an autherr kind.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
)

// Metrics groups the service instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg      *prometheus.Registry
	attempts *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New registers the service instruments on reg. Go runtime and process
// collectors are added as well.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldauth_auth_attempts_total",
			Help: "Authentication attempts by provider, action and outcome.",
		}, []string{"provider", "action", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldauth_tokens_issued_total",
			Help: "Bearer credentials issued, by grant.",
		}, []string{"grant"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldauth_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldauth_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{
		m.attempts, m.tokens, m.requests, m.latency,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AuthAttempt counts one authentication outcome. action is clamped to
// login, register or unknown so request input cannot mint new series.
func (m *Metrics) AuthAttempt(provider, action, outcome string) {
	if m == nil {
		return
	}
	switch action {
	case models.ActionLogin, models.ActionRegister:
	default:
		action = "unknown"
	}
	m.attempts.WithLabelValues(provider, action, outcome).Inc()
}

// TokenIssued counts one credential grant (login, register, refresh).
func (m *Metrics) TokenIssued(grant string) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(grant).Inc()
}

// WatchDirectory exports the directory totals as gauges, read on each scrape.
func (m *Metrics) WatchDirectory(db *mongo.Database, timeout time.Duration) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(&directoryCollector{
		db:      db,
		timeout: timeout,
		users:   prometheus.NewDesc("fieldauth_users", "Users in the directory.", nil, nil),
		invites: prometheus.NewDesc("fieldauth_invites", "Outstanding invites.", nil, nil),
		keys:    prometheus.NewDesc("fieldauth_active_signing_keys", "Active signing keys.", nil, nil),
		intents: prometheus.NewDesc("fieldauth_pending_intents", "Federated sign-ins awaiting a callback.", nil, nil),
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Instrument records request counts and latency labelled by chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

type directoryCollector struct {
	db      *mongo.Database
	timeout time.Duration

	users, invites, keys, intents *prometheus.Desc
}

func (c *directoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.users
	ch <- c.invites
	ch <- c.keys
	ch <- c.intents
}

func (c *directoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	counts := metricsstore.FetchCounts(ctx, c.db)
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(counts.Users))
	ch <- prometheus.MustNewConstMetric(c.invites, prometheus.GaugeValue, float64(counts.Invites))
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(counts.ActiveKeys))
	ch <- prometheus.MustNewConstMetric(c.intents, prometheus.GaugeValue, float64(counts.PendingIntents))
}
