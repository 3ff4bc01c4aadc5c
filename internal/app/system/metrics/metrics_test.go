package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetrics(t *testing.T) (*metrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	return m, reg
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestAuthAttempt(t *testing.T) {
	m, reg := newMetrics(t)

	m.AuthAttempt("google", "login", metrics.OutcomeSuccess)
	m.AuthAttempt("google", "login", metrics.OutcomeSuccess)
	m.AuthAttempt("local", "", "invalid_credentials")

	expected := `
# HELP fieldauth_auth_attempts_total Authentication attempts by provider, action and outcome.
# TYPE fieldauth_auth_attempts_total counter
fieldauth_auth_attempts_total{action="login",outcome="success",provider="google"} 2
fieldauth_auth_attempts_total{action="unknown",outcome="invalid_credentials",provider="local"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fieldauth_auth_attempts_total"))
}

func TestAuthAttempt_ClampsAction(t *testing.T) {
	m, reg := newMetrics(t)

	for _, action := range []string{"junk", "LOGIN", "delete", "register;drop", ""} {
		m.AuthAttempt("campus", action, "missing_action")
	}
	m.AuthAttempt("campus", "register", "missing_action")

	n, err := testutil.GatherAndCount(reg, "fieldauth_auth_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, scrape(t, m), `fieldauth_auth_attempts_total{action="unknown",outcome="missing_action",provider="campus"} 5`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.AuthAttempt("local", "login", metrics.OutcomeSuccess)
	m.TokenIssued("login")
	assert.NoError(t, m.WatchDirectory(nil, 0))

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m, _ := newMetrics(t)

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/auth/{provider}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})

	for _, p := range []string{"/auth/google", "/auth/campus"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	m.TokenIssued("refresh")

	body := scrape(t, m)
	assert.Contains(t, body, `fieldauth_http_requests_total{method="GET",route="/auth/{provider}",status="302"} 2`)
	assert.Contains(t, body, `fieldauth_tokens_issued_total{grant="refresh"} 1`)
	assert.NotContains(t, body, "/auth/google")
}

func TestNew_RejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	assert.Error(t, err)
}
