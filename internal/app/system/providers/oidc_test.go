package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeIssuer(t *testing.T, healthy *atomic.Bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"userinfo_endpoint":      srv.URL + "/userinfo",
			"jwks_uri":               srv.URL + "/keys",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDC_BeginDiscoversLazily(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int32
	srv := fakeIssuer(t, &healthy, &hits)

	cfg := loadTestConfig(t,
		"AUTH_CAMPUS_TYPE=oidc",
		"AUTH_CAMPUS_ISSUER="+srv.URL,
		"AUTH_CAMPUS_CLIENT_ID=cid",
		"AUTH_CAMPUS_CLIENT_SECRET=csecret",
	)
	a, err := providers.NewOIDC(context.Background(), cfg.Providers["campus"], providers.Env{
		BaseURL:    "https://auth.test/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), hits.Load(), "construction must not contact the issuer")

	// issuer down: Begin fails, nothing is cached
	_, err = a.Begin(context.Background(), "s1")
	require.Error(t, err)

	healthy.Store(true)
	b, err := a.Begin(context.Background(), "s2")
	require.NoError(t, err)

	u, err := url.Parse(b.RedirectURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.RedirectURL, srv.URL+"/authorize"))
	assert.Equal(t, "s2", u.Query().Get("state"))
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "https://auth.test/auth/campus/callback", u.Query().Get("redirect_uri"))
	assert.Contains(t, u.Query().Get("scope"), "openid")

	before := hits.Load()
	_, err = a.Begin(context.Background(), "s3")
	require.NoError(t, err)
	assert.Equal(t, before, hits.Load(), "discovery result should be reused")
}

func TestOIDC_VerifyRejectsProviderError(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int32
	srv := fakeIssuer(t, &healthy, &hits)
	cfg := loadTestConfig(t,
		"AUTH_CAMPUS_TYPE=oidc", "AUTH_CAMPUS_ISSUER="+srv.URL,
		"AUTH_CAMPUS_CLIENT_ID=cid", "AUTH_CAMPUS_CLIENT_SECRET=csecret",
	)
	a, err := providers.NewOIDC(context.Background(), cfg.Providers["campus"], providers.Env{BaseURL: "https://auth.test"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/auth/campus/callback?error=access_denied&state=s", nil)
	_, err = a.Verify(context.Background(), r, providers.Pending{State: "s"})
	assert.ErrorIs(t, err, providers.ErrProviderDenied)

	r = httptest.NewRequest(http.MethodGet, "/auth/campus/callback?state=s", nil)
	_, err = a.Verify(context.Background(), r, providers.Pending{State: "s"})
	assert.ErrorIs(t, err, providers.ErrMissingCode)
}
