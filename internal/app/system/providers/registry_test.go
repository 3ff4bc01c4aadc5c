package providers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	id       string
	index    int
	callback string
}

func (s stubAdapter) ID() string { return s.id }
func (s stubAdapter) Family() providers.Family { return providers.FamilyOIDC }
func (s stubAdapter) DisplayName() string { return s.id }
func (s stubAdapter) Index() int { return s.index }
func (s stubAdapter) CallbackPath() string { return s.callback }
func (s stubAdapter) Begin(context.Context, string) (providers.Begin, error) {
	return providers.Begin{RedirectURL: "https://idp.test/authorize"}, nil
}
func (s stubAdapter) Verify(context.Context, *http.Request, providers.Pending) (*providers.Assertion, error) {
	return &providers.Assertion{Provider: s.id}, nil
}

func stubFactory(_ context.Context, cfg providers.ProviderConfig, _ providers.Env) (providers.FederatedAdapter, error) {
	return stubAdapter{id: cfg.ID, index: cfg.Index, callback: cfg.CallbackPath}, nil
}

func loadTestConfig(t *testing.T, env ...string) *providers.Config {
	t.Helper()
	cfg, err := providers.LoadFromEnvironment(env, nil)
	require.NoError(t, err)
	return cfg
}

func TestBuild_GoogleFromConfig(t *testing.T) {
	cfg := loadTestConfig(t,
		"AUTH_GOOGLE_TYPE=google", "AUTH_GOOGLE_CLIENT_ID=a", "AUTH_GOOGLE_CLIENT_SECRET=b",
	)
	reg, err := providers.NewBuilder(cfg, providers.Env{BaseURL: "https://auth.test"}).Build(context.Background())
	require.NoError(t, err)

	a, ok := reg.FederatedAdapter("google")
	require.True(t, ok)
	assert.Equal(t, providers.FamilyGoogle, a.Family())
	assert.Equal(t, "/auth/google/callback", a.CallbackPath())

	local, ok := reg.Adapter("local")
	require.True(t, ok)
	assert.Equal(t, providers.FamilyLocal, local.Family())
	_, isFederated := reg.FederatedAdapter("local")
	assert.False(t, isFederated)
}

func TestBuild_RegisterOverridesAndOrders(t *testing.T) {
	cfg := loadTestConfig(t,
		"AUTH_CAMPUS_TYPE=oidc", "AUTH_CAMPUS_ISSUER=https://idp", "AUTH_CAMPUS_CLIENT_ID=a",
		"AUTH_CAMPUS_CLIENT_SECRET=b", "AUTH_CAMPUS_INDEX=3",
		"AUTH_ALPHA_TYPE=oidc", "AUTH_ALPHA_ISSUER=https://idp2", "AUTH_ALPHA_CLIENT_ID=a",
		"AUTH_ALPHA_CLIENT_SECRET=b", "AUTH_ALPHA_INDEX=1",
	)
	reg, err := providers.NewBuilder(cfg, providers.Env{BaseURL: "https://auth.test"}).
		Register("campus", stubFactory).
		Register("alpha", stubFactory).
		Register("extra", stubFactory).
		Build(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, a := range reg.Federated() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"alpha", "campus", "extra"}, ids)

	a, _ := reg.Adapter("campus")
	_, isStub := a.(stubAdapter)
	assert.True(t, isStub)
}

func TestBuild_LocalDisabled(t *testing.T) {
	cfg := loadTestConfig(t, "AUTH_LOCAL_ENABLED=false")
	reg, err := providers.NewBuilder(cfg, providers.Env{}).Build(context.Background())
	require.NoError(t, err)
	assert.False(t, reg.LocalEnabled())
	_, ok := reg.Adapter("local")
	assert.False(t, ok)
}

func TestBuild_FactoryFailureFailsWholeBuild(t *testing.T) {
	cfg := loadTestConfig(t,
		"AUTH_GOOGLE_TYPE=google", "AUTH_GOOGLE_CLIENT_ID=a", "AUTH_GOOGLE_CLIENT_SECRET=b",
	)
	boom := errors.New("boom")
	reg, err := providers.NewBuilder(cfg, providers.Env{BaseURL: "https://auth.test"}).
		Register("broken", func(context.Context, providers.ProviderConfig, providers.Env) (providers.FederatedAdapter, error) {
			return nil, boom
		}).
		Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, reg)
}

func TestBuild_DuplicateCallbackPath(t *testing.T) {
	cfg := loadTestConfig(t,
		"AUTH_ONE_TYPE=google", "AUTH_ONE_CLIENT_ID=a", "AUTH_ONE_CLIENT_SECRET=b", "AUTH_ONE_CALLBACK_PATH=/cb",
		"AUTH_TWO_TYPE=google", "AUTH_TWO_CLIENT_ID=a", "AUTH_TWO_CLIENT_SECRET=b", "AUTH_TWO_CALLBACK_PATH=/cb",
	)
	_, err := providers.NewBuilder(cfg, providers.Env{BaseURL: "https://auth.test"}).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share callback path")
}
