package providers_test

import (
	"errors"
	"testing"

	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPropertyName(t *testing.T) {
	tests := map[string]string{
		"CLIENT_ID":        "clientID",
		"CLIENT_SECRET":    "clientSecret",
		"IDP_METADATA_URL": "idpMetadataURL",
		"ENTITY_ID":        "entityID",
		"DISPLAY_NAME":     "displayName",
		"TYPE":             "type",
		"USERINFO_URL":     "userinfoURL",
		"INDEX":            "index",
		"callback_path":    "callbackPath",
		"EMAIL__ATTRIBUTE": "emailAttribute",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, providers.PropertyName(in))
		})
	}
}

func TestLoadFromEnvironment_Valid(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"AUTH_GOOGLE_TYPE=google",
		"AUTH_GOOGLE_CLIENT_ID=gid",
		"AUTH_GOOGLE_CLIENT_SECRET=gsecret",
		"AUTH_CAMPUS_TYPE=oidc",
		"AUTH_CAMPUS_ISSUER=https://idp.campus.edu",
		"AUTH_CAMPUS_CLIENT_ID=cid",
		"AUTH_CAMPUS_CLIENT_SECRET=csecret",
		"AUTH_CAMPUS_SCOPE=openid, email ,profile,groups",
		"AUTH_CAMPUS_DISPLAY_NAME=Campus Login",
		"AUTH_CAMPUS_INDEX=5",
	}

	cfg, err := providers.LoadFromEnvironment(env, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.True(t, cfg.LocalEnabled)
	require.Len(t, cfg.Providers, 2)

	g := cfg.Providers["google"]
	assert.Equal(t, providers.FamilyGoogle, g.Family)
	assert.Equal(t, "gid", g.String("clientID"))
	assert.Equal(t, "Google", g.DisplayName)
	assert.Equal(t, "/auth/google/callback", g.CallbackPath)
	assert.Equal(t, []string{"openid", "email", "profile"}, g.Strings("scope"))

	c := cfg.Providers["campus"]
	assert.Equal(t, providers.FamilyOIDC, c.Family)
	assert.Equal(t, "Campus Login", c.DisplayName)
	assert.Equal(t, 5, c.Index)
	assert.Equal(t, []string{"openid", "email", "profile", "groups"}, c.Strings("scope"))

	// unindexed providers follow the highest explicit index
	assert.Equal(t, 6, g.Index)

	sorted := cfg.Sorted()
	assert.Equal(t, "campus", sorted[0].ID)
	assert.Equal(t, "google", sorted[1].ID)
}

func TestLoadFromEnvironment_IndexAssignmentIsStable(t *testing.T) {
	env := []string{
		"AUTH_ZED_TYPE=google", "AUTH_ZED_CLIENT_ID=a", "AUTH_ZED_CLIENT_SECRET=b",
		"AUTH_ALPHA_TYPE=google", "AUTH_ALPHA_CLIENT_ID=a", "AUTH_ALPHA_CLIENT_SECRET=b", "AUTH_ALPHA_CALLBACK_PATH=/auth/alpha/cb",
		"AUTH_MID_TYPE=google", "AUTH_MID_CLIENT_ID=a", "AUTH_MID_CLIENT_SECRET=b", "AUTH_MID_CALLBACK_PATH=/auth/mid/cb",
	}
	for i := 0; i < 5; i++ {
		cfg, err := providers.LoadFromEnvironment(env, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.Providers["alpha"].Index)
		assert.Equal(t, 1, cfg.Providers["mid"].Index)
		assert.Equal(t, 2, cfg.Providers["zed"].Index)
	}
}

func TestLoadFromEnvironment_FailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		env    []string
		fields []string
	}{
		{
			name:   "missing required field",
			env:    []string{"AUTH_GOOGLE_TYPE=google", "AUTH_GOOGLE_CLIENT_ID=gid"},
			fields: []string{"clientSecret"},
		},
		{
			name:   "missing type",
			env:    []string{"AUTH_ACME_CLIENT_ID=x"},
			fields: []string{"type"},
		},
		{
			name:   "unknown type",
			env:    []string{"AUTH_ACME_TYPE=kerberos"},
			fields: []string{"type"},
		},
		{
			name: "bad integer",
			env: []string{
				"AUTH_GOOGLE_TYPE=google", "AUTH_GOOGLE_CLIENT_ID=a", "AUTH_GOOGLE_CLIENT_SECRET=b",
				"AUTH_GOOGLE_INDEX=first",
			},
			fields: []string{"index"},
		},
		{
			name:   "bad local boolean",
			env:    []string{"AUTH_LOCAL_ENABLED=maybe"},
			fields: []string{"enabled"},
		},
		{
			name: "saml needs exactly one metadata source",
			env: []string{
				"AUTH_UNI_TYPE=saml", "AUTH_UNI_ENTITY_ID=https://sp", "AUTH_UNI_CERT_FILE=c", "AUTH_UNI_KEY_FILE=k",
			},
			fields: []string{"idpMetadataURL"},
		},
		{
			name: "one broken provider blocks the others",
			env: []string{
				"AUTH_GOOGLE_TYPE=google", "AUTH_GOOGLE_CLIENT_ID=a", "AUTH_GOOGLE_CLIENT_SECRET=b",
				"AUTH_CAMPUS_TYPE=oidc", "AUTH_CAMPUS_CLIENT_ID=a", "AUTH_CAMPUS_CLIENT_SECRET=b",
			},
			fields: []string{"issuer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			cfg, err := providers.LoadFromEnvironment(tt.env, zap.New(core))
			require.Error(t, err)
			assert.Nil(t, cfg)

			var ve *providers.ValidationError
			require.True(t, errors.As(err, &ve))
			var got []string
			for _, p := range ve.Problems {
				got = append(got, p.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
			assert.Equal(t, len(tt.fields), logs.Len(), "each problem should be logged")
		})
	}
}

func TestLoadFromEnvironment_UnknownKeysIgnored(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	env := []string{
		"AUTH_GOOGLE_TYPE=google", "AUTH_GOOGLE_CLIENT_ID=a", "AUTH_GOOGLE_CLIENT_SECRET=b",
		"AUTH_GOOGLE_FAVORITE_COLOR=blue",
		"AUTH_LOCAL_COLOR=red",
		"AUTH_NOPROPERTY=x",
	}
	cfg, err := providers.LoadFromEnvironment(env, zap.New(core))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, 3, logs.Len())
}

func TestLoadFromEnvironment_LocalToggle(t *testing.T) {
	cfg, err := providers.LoadFromEnvironment([]string{"AUTH_LOCAL_ENABLED=false"}, nil)
	require.NoError(t, err)
	assert.False(t, cfg.LocalEnabled)
	assert.Empty(t, cfg.Providers)

	cfg, err = providers.LoadFromEnvironment(nil, nil)
	require.NoError(t, err)
	assert.True(t, cfg.LocalEnabled)
}
