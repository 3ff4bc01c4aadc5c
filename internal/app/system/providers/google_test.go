package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGoogle serves the token and userinfo endpoints.
func fakeGoogle(t *testing.T, verified bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             "g-123",
			"email":          "B@Y.com",
			"verified_email": verified,
			"name":           "Bee",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func buildGoogle(t *testing.T, srv *httptest.Server) providers.FederatedAdapter {
	t.Helper()
	cfg := loadTestConfig(t,
		"AUTH_GOOGLE_TYPE=google",
		"AUTH_GOOGLE_CLIENT_ID=gid",
		"AUTH_GOOGLE_CLIENT_SECRET=gsecret",
		"AUTH_GOOGLE_AUTH_URL="+srv.URL+"/authorize",
		"AUTH_GOOGLE_TOKEN_URL="+srv.URL+"/token",
		"AUTH_GOOGLE_USERINFO_URL="+srv.URL+"/userinfo",
	)
	a, err := providers.NewGoogle(context.Background(), cfg.Providers["google"], providers.Env{
		BaseURL:    "https://auth.test",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return a
}

func TestGoogle_Begin(t *testing.T) {
	srv := fakeGoogle(t, true)
	g := buildGoogle(t, srv)

	b, err := g.Begin(context.Background(), "state-xyz")
	require.NoError(t, err)

	u, err := url.Parse(b.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "gid", q.Get("client_id"))
	assert.Equal(t, "https://auth.test/auth/google/callback", q.Get("redirect_uri"))
	assert.Empty(t, b.RequestID)
}

func TestGoogle_Verify(t *testing.T) {
	tests := []struct {
		name     string
		verified bool
	}{
		{"verified email", true},
		{"unverified email keeps flag", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeGoogle(t, tt.verified)
			g := buildGoogle(t, srv)

			r := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=s&code=good-code", nil)
			a, err := g.Verify(context.Background(), r, providers.Pending{State: "s"})
			require.NoError(t, err)

			assert.Equal(t, "google", a.Provider)
			assert.Equal(t, providers.FamilyGoogle, a.Family)
			assert.Equal(t, "g-123", a.Subject)
			assert.Equal(t, "Bee", a.Name)
			require.Len(t, a.Emails, 1)
			assert.Equal(t, "B@Y.com", a.Emails[0].Address)
			assert.Equal(t, tt.verified, a.Emails[0].Verified)
		})
	}
}

func TestGoogle_VerifyErrors(t *testing.T) {
	srv := fakeGoogle(t, true)
	g := buildGoogle(t, srv)

	r := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied", nil)
	_, err := g.Verify(context.Background(), r, providers.Pending{})
	assert.ErrorIs(t, err, providers.ErrProviderDenied)

	r = httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=s", nil)
	_, err = g.Verify(context.Background(), r, providers.Pending{})
	assert.ErrorIs(t, err, providers.ErrMissingCode)

	r = httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=s&code=bad", nil)
	_, err = g.Verify(context.Background(), r, providers.Pending{})
	assert.Error(t, err)
}
