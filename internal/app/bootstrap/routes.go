// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	accountcodesfeature "github.com/dalemusser/fieldauth/internal/app/features/accountcodes"
	authflowfeature "github.com/dalemusser/fieldauth/internal/app/features/authflow"
	errorsfeature "github.com/dalemusser/fieldauth/internal/app/features/errors"
	healthfeature "github.com/dalemusser/fieldauth/internal/app/features/health"
	tokensfeature "github.com/dalemusser/fieldauth/internal/app/features/tokens"
	auditstore "github.com/dalemusser/fieldauth/internal/app/store/audit"
	"github.com/dalemusser/fieldauth/internal/app/store/intents"
	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	"github.com/dalemusser/fieldauth/internal/app/store/onetimecodes"
	userstore "github.com/dalemusser/fieldauth/internal/app/store/users"
	"github.com/dalemusser/fieldauth/internal/app/system/auditlog"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/mailer"
	"github.com/dalemusser/fieldauth/internal/app/system/reconcile"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/pantry/fileserver"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler for fieldauth.
//
// WAFFLE calls this after configuration, DB connections, schema setup and
// Startup have completed, so the provider registry and keyring in
// deps.Services are ready.
//
// Routes:
//   - /health, /metrics, /static/*
//   - /login, /register, /auth/local, /auth/{provider}, provider callbacks and SAML metadata (authflow)
//   - /verify-email, /auth/forgot-password, /auth/reset-password (accountcodes)
//   - /auth/refresh, /.well-known/jwks.json, /api/whoami (tokens)
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	svc := deps.Services
	db := deps.MongoDatabase

	// The cookie only carries the intent-state nonce and flash messages, so
	// it need not outlive a federated round trip.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.IntentTTL, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	// Dev mode enables template reloading for faster iteration.
	eng := templates.New(coreCfg.Env == "dev")
	if err := eng.Boot(logger); err != nil {
		logger.Error("template engine boot failed", zap.Error(err))
		return nil, err
	}
	templates.UseEngine(eng, logger)

	mail, err := mailer.New(mailer.Config{
		Host:     appCfg.MailSMTPHost,
		Port:     appCfg.MailSMTPPort,
		User:     appCfg.MailSMTPUser,
		Pass:     appCfg.MailSMTPPass,
		From:     appCfg.MailFrom,
		FromName: appCfg.MailFromName,
	}, logger)
	if err != nil {
		logger.Error("mailer init failed", zap.Error(err))
		return nil, err
	}

	errLog := errorsfeature.NewErrorLogger(logger)
	audit := auditlog.New(auditstore.New(db), logger, auditlog.Config{
		Auth:  appCfg.AuditLogAuth,
		Admin: appCfg.AuditLogAdmin,
	})
	allow := redirect.NewAllowlist(appCfg.RedirectAllowlist, logger)

	users := userstore.New(db)
	reconciler := reconcile.New(reconcile.Config{
		Users:   users,
		Invites: invites.New(db),
		Log:     logger,
	})
	issuer := credentials.New(credentials.Config{
		Keys:       svc.Keyring,
		Users:      users,
		Issuer:     appCfg.TokenIssuer,
		Server:     appCfg.TokenServer,
		AccessTTL:  appCfg.AccessTokenTTL,
		RefreshTTL: appCfg.RefreshTokenTTL,
		Log:        logger,
	})
	bearer := auth.RequireBearer(issuer, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if svc.Metrics != nil {
		r.Use(svc.Metrics.Instrument)
	}

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, svc.Keyring, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics.Handler())
	}

	// Static assets with pre-compressed file support (gzip/brotli)
	r.Handle("/static/*", fileserver.Handler("/static", "public"))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})

	// Sign-in and registration
	flowHandler := authflowfeature.NewHandler(authflowfeature.Deps{
		Registry:   svc.Registry,
		Reconciler: reconciler,
		Issuer:     issuer,
		Intents:    intents.New(db, appCfg.IntentTTL),
		SessionMgr: sessionMgr,
		Allow:      allow,
		Limiter:    svc.Limiter,
		ErrLog:     errLog,
		AuditLog:   audit,
		Metrics:    svc.Metrics,
		SiteName:   appCfg.MailFromName,
	}, logger)
	authflowfeature.MountRoutes(r, flowHandler)

	// Email verification and password reset
	codesHandler := accountcodesfeature.NewHandler(
		onetimecodes.New(db),
		users,
		reconciler,
		mail,
		sessionMgr,
		allow,
		errLog,
		audit,
		appCfg.BaseURL,
		appCfg.MailFromName,
		appCfg.VerifyEmailExpiry,
		appCfg.ResetPasswordExpiry,
		logger,
	)
	accountcodesfeature.MountRoutes(r, codesHandler, bearer)

	// Refresh, key publication and bearer introspection
	tokensHandler := tokensfeature.NewHandler(issuer, audit, svc.Metrics, logger)
	tokensfeature.MountRoutes(r, tokensHandler, bearer)

	errorsHandler := errorsfeature.NewHandler()
	r.NotFound(errorsHandler.NotFound)

	logger.Info("routes mounted",
		zap.Int("federated_providers", len(svc.Registry.Federated())),
		zap.Bool("local_enabled", svc.Registry.LocalEnabled()),
		zap.Int("redirect_allowlist", len(appCfg.RedirectAllowlist)))

	return r, nil
}
