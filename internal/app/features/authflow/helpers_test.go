package authflow_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/features/authflow"
	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/store/intents"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/dalemusser/fieldauth/internal/app/system/ratelimit"
	"github.com/dalemusser/fieldauth/internal/app/system/reconcile"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/dalemusser/fieldauth/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Fakes                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

type fakeReconciler struct {
	mu            sync.Mutex
	users         map[string]*models.User
	passwords     map[string]string
	registrations []reconcile.LocalRegistration
	registerErr   error
	fedIntents    []models.SessionIntent
	fedResult     *reconcile.Result
	fedErr        error
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{users: map[string]*models.User{}, passwords: map[string]string{}}
}

func (f *fakeReconciler) addUser(id, email, password string) *models.User {
	u := &models.User{ID: id, Name: id, GlobalRoles: []string{}}
	u.AddEmail(email, true)
	f.users[id] = u
	f.users[strings.ToLower(email)] = u
	f.passwords[id] = password
	return u
}

func (f *fakeReconciler) AuthenticateLocal(_ context.Context, identifier, password string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[strings.ToLower(identifier)]
	if !ok || f.passwords[u.ID] != password {
		return nil, autherr.New(autherr.InvalidCredentials)
	}
	return u, nil
}

func (f *fakeReconciler) RegisterLocal(_ context.Context, reg reconcile.LocalRegistration) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, reg)
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	u := &models.User{ID: strings.ToLower(reg.Email), Name: reg.Name}
	u.AddEmail(reg.Email, false)
	return &reconcile.Result{User: u, Created: true, InviteID: reg.InviteID}, nil
}

func (f *fakeReconciler) ReconcileFederated(_ context.Context, in models.SessionIntent, _ *providers.Assertion) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fedIntents = append(f.fedIntents, in)
	return f.fedResult, f.fedErr
}

type fakeIntents struct {
	mu    sync.Mutex
	byID  map[string]models.SessionIntent
	saveE error
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{byID: map[string]models.SessionIntent{}}
}

func (f *fakeIntents) Save(_ context.Context, in *models.SessionIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveE != nil {
		return f.saveE
	}
	in.CreatedAt = time.Now().UTC()
	in.ExpiresAt = in.CreatedAt.Add(10 * time.Minute)
	f.byID[in.State] = *in
	return nil
}

func (f *fakeIntents) Consume(_ context.Context, state string) (*models.SessionIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.byID[state]
	if !ok {
		return nil, intents.ErrNotFound
	}
	delete(f.byID, state)
	return &in, nil
}

func (f *fakeIntents) only(t *testing.T) models.SessionIntent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.byID, 1)
	for _, in := range f.byID {
		return in
	}
	return models.SessionIntent{}
}

// stubIdP is a federated adapter whose callback outcome the test controls.
type stubIdP struct {
	id        string
	family    providers.Family
	index     int
	callback  string
	assertion *providers.Assertion
	verifyErr error
}

func (s *stubIdP) ID() string { return s.id }
func (s *stubIdP) Family() providers.Family { return s.family }
func (s *stubIdP) DisplayName() string { return strings.ToUpper(s.id) }
func (s *stubIdP) Index() int { return s.index }
func (s *stubIdP) CallbackPath() string { return s.callback }
func (s *stubIdP) MetadataPath() string { return "/auth/" + s.id + "/metadata" }

func (s *stubIdP) Begin(_ context.Context, state string) (providers.Begin, error) {
	b := providers.Begin{RedirectURL: "https://idp.test/" + s.id + "?state=" + state}
	if s.family == providers.FamilySAML {
		b.RequestID = "req-" + state
	}
	return b, nil
}

func (s *stubIdP) Verify(_ context.Context, _ *http.Request, _ providers.Pending) (*providers.Assertion, error) {
	return s.assertion, s.verifyErr
}

func (s *stubIdP) Metadata(context.Context) ([]byte, string, error) {
	return []byte("<EntityDescriptor/>"), "application/samlmetadata+xml", nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Harness                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

type rendered struct {
	name string
	data any
}

type harness struct {
	handler    *authflow.Handler
	router     chi.Router
	recon      *fakeReconciler
	intents    *fakeIntents
	issuer     *credentials.Issuer
	campus     *stubIdP
	uni        *stubIdP
	renders    []rendered
	errRenders []rendered
}

type option func(*authflow.Deps)

func withLimiter(l *ratelimit.LoginLimiter) option {
	return func(d *authflow.Deps) { d.Limiter = l }
}

func withMetrics(m *metrics.Metrics) option {
	return func(d *authflow.Deps) { d.Metrics = m }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{
		recon:   newFakeReconciler(),
		intents: newFakeIntents(),
		campus: &stubIdP{
			id: "campus", family: providers.FamilyOIDC, index: 1,
			callback: "/auth/campus/callback",
		},
		uni: &stubIdP{
			id: "uni", family: providers.FamilySAML, index: 2,
			callback: "/auth/uni/acs",
		},
	}

	reg, err := providers.NewBuilder(nil, providers.Env{BaseURL: "https://auth.test"}).
		Register("campus", func(context.Context, providers.ProviderConfig, providers.Env) (providers.FederatedAdapter, error) {
			return h.campus, nil
		}).
		Register("uni", func(context.Context, providers.ProviderConfig, providers.Env) (providers.FederatedAdapter, error) {
			return h.uni, nil
		}).
		Build(context.Background())
	require.NoError(t, err)

	key, err := credentials.GenerateKey()
	require.NoError(t, err)
	h.issuer = credentials.New(credentials.Config{
		Keys:   credentials.NewStaticKeys(key),
		Issuer: "https://auth.test",
		Server: "field-test",
	})

	sm, err := auth.NewSessionManager("test-session-key-must-be-32-chars-long", "test-session", "", time.Hour, false, zap.NewNop())
	require.NoError(t, err)

	errLog := uierrors.NewErrorLogger(zap.NewNop())
	errLog.Render = func(w http.ResponseWriter, _ *http.Request, name string, data any) {
		h.errRenders = append(h.errRenders, rendered{name, data})
	}

	deps := authflow.Deps{
		Registry:   reg,
		Reconciler: h.recon,
		Issuer:     h.issuer,
		Intents:    h.intents,
		SessionMgr: sm,
		Allow:      redirect.NewAllowlist([]string{"https://app.example.org", "fieldapp:"}, zap.NewNop()),
		ErrLog:     errLog,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.handler = authflow.NewHandler(deps, zap.NewNop())
	h.handler.Render = func(w http.ResponseWriter, _ *http.Request, name string, data any) {
		h.renders = append(h.renders, rendered{name, data})
		_, _ = w.Write([]byte(name))
	}

	h.router = chi.NewRouter()
	authflow.MountRoutes(h.router, h.handler)
	return h
}

func (h *harness) serve(req *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}
