// internal/app/features/authflow/handler.go
package authflow

import (
	"context"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/system/auditlog"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/dalemusser/fieldauth/internal/app/system/ratelimit"
	"github.com/dalemusser/fieldauth/internal/app/system/reconcile"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.uber.org/zap"
)

// Reconciler maps verified identities and local submissions onto users.
type Reconciler interface {
	ReconcileFederated(ctx context.Context, intent models.SessionIntent, a *providers.Assertion) (*reconcile.Result, error)
	AuthenticateLocal(ctx context.Context, identifier, password string) (*models.User, error)
	RegisterLocal(ctx context.Context, reg reconcile.LocalRegistration) (*reconcile.Result, error)
}

// Issuer mints bearer credentials.
type Issuer interface {
	Issue(ctx context.Context, u *models.User, includeRefresh bool) (credentials.Tokens, error)
}

// Intents stores SessionIntents across the federated round trip.
type Intents interface {
	Save(ctx context.Context, in *models.SessionIntent) error
	Consume(ctx context.Context, state string) (*models.SessionIntent, error)
}

// Handler serves the sign-in and registration flows.
type Handler struct {
	Registry   *providers.Registry
	Reconciler Reconciler
	Issuer     Issuer
	Intents    Intents
	SessionMgr *auth.SessionManager
	Allow      redirect.Allowlist
	Limiter    *ratelimit.LoginLimiter // nil disables rate limiting
	ErrLog     *uierrors.ErrorLogger
	AuditLog   *auditlog.Logger
	Metrics    *metrics.Metrics
	Log        *zap.Logger

	SiteName string
	// Render draws the login and register pages.
	Render uierrors.RenderFunc
}

// Deps are the collaborators a Handler needs. Limiter, AuditLog and
// Metrics may be nil.
type Deps struct {
	Registry   *providers.Registry
	Reconciler Reconciler
	Issuer     Issuer
	Intents    Intents
	SessionMgr *auth.SessionManager
	Allow      redirect.Allowlist
	Limiter    *ratelimit.LoginLimiter
	ErrLog     *uierrors.ErrorLogger
	AuditLog   *auditlog.Logger
	Metrics    *metrics.Metrics
	SiteName   string
}

func NewHandler(d Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog := d.ErrLog
	if errLog == nil {
		errLog = uierrors.NewErrorLogger(logger)
	}
	site := d.SiteName
	if site == "" {
		site = "Field Auth"
	}
	return &Handler{
		Registry:   d.Registry,
		Reconciler: d.Reconciler,
		Issuer:     d.Issuer,
		Intents:    d.Intents,
		SessionMgr: d.SessionMgr,
		Allow:      d.Allow,
		Limiter:    d.Limiter,
		ErrLog:     errLog,
		AuditLog:   d.AuditLog,
		Metrics:    d.Metrics,
		Log:        logger,
		SiteName:   site,
		Render:     uierrors.DefaultRender,
	}
}
