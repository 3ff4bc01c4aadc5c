// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

const devSessionKey = "dev-only-change-me-please-0123456789ABCDEF"

// minSessionKeyLen is the shortest session key accepted outside dev.
const minSessionKeyLen = 32

// appConfigKeys defines the configuration keys for fieldauth.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: FIELDAUTH_MONGO_URI, FIELDAUTH_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "fieldauth", Desc: "MongoDB database name"},
	{Name: "session_key", Default: devSessionKey, Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "fieldauth-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},

	{Name: "base_url", Default: "http://localhost:3000", Desc: "Public origin for provider callbacks and email links"},

	// Credentials
	{Name: "token_issuer", Default: "", Desc: "iss claim on issued tokens (defaults to base_url)"},
	{Name: "token_server", Default: "fieldauth", Desc: "server claim on issued tokens"},
	{Name: "access_token_ttl", Default: "1h", Desc: "Access token lifetime"},
	{Name: "refresh_token_ttl", Default: "720h", Desc: "Refresh token lifetime"},
	{Name: "key_cache_ttl", Default: "5m", Desc: "How long verification keys are cached"},
	{Name: "key_retire_grace", Default: "24h", Desc: "How long a retired signing key still verifies"},

	{Name: "redirect_allowlist", Default: "", Desc: "Comma list of allowed return origins and custom schemes (e.g. https://app.example.org,fieldapp:)"},
	{Name: "intent_ttl", Default: "10m", Desc: "Lifetime of a federated sign-in round trip"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@fieldauth.local", Desc: "From email address"},
	{Name: "mail_from_name", Default: "Field Auth", Desc: "From display name"},

	{Name: "verify_email_expiry", Default: "24h", Desc: "Email verification link expiry (e.g., 10m, 1h)"},
	{Name: "reset_password_expiry", Default: "1h", Desc: "Password reset link expiry"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	{Name: "login_rate_max", Default: 10, Desc: "Sign-in attempts allowed per identifier per window"},
	{Name: "login_rate_window", Default: "15m", Desc: "Sign-in rate limit window"},
	{Name: "redis_url", Default: "", Desc: "Redis URL for shared rate limit counters (blank keeps them in memory)"},

	{Name: "metrics_enabled", Default: true, Desc: "Serve Prometheus metrics at /metrics"},
}

// LoadConfig loads WAFFLE core config and fieldauth's AppConfig.
//
// Precedence is flags > env > files > defaults, as handled by
// config.LoadWithAppConfig.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "FIELDAUTH", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:      appValues.String("mongo_uri"),
		MongoDatabase: appValues.String("mongo_database"),
		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),

		BaseURL: strings.TrimRight(appValues.String("base_url"), "/"),

		TokenIssuer:     appValues.String("token_issuer"),
		TokenServer:     appValues.String("token_server"),
		AccessTokenTTL:  appValues.Duration("access_token_ttl", time.Hour),
		RefreshTokenTTL: appValues.Duration("refresh_token_ttl", 30*24*time.Hour),
		KeyCacheTTL:     appValues.Duration("key_cache_ttl", 5*time.Minute),
		KeyRetireGrace:  appValues.Duration("key_retire_grace", 24*time.Hour),

		RedirectAllowlist: splitList(appValues.String("redirect_allowlist")),
		IntentTTL:         appValues.Duration("intent_ttl", 10*time.Minute),

		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		VerifyEmailExpiry:   appValues.Duration("verify_email_expiry", 24*time.Hour),
		ResetPasswordExpiry: appValues.Duration("reset_password_expiry", time.Hour),

		AuditLogAuth:  appValues.String("audit_log_auth"),
		AuditLogAdmin: appValues.String("audit_log_admin"),

		LoginRateMax:    appValues.Int("login_rate_max"),
		LoginRateWindow: appValues.Duration("login_rate_window", 15*time.Minute),
		RedisURL:        appValues.String("redis_url"),

		MetricsEnabled: appValues.Bool("metrics_enabled"),
	}

	if appCfg.TokenIssuer == "" {
		appCfg.TokenIssuer = appCfg.BaseURL
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig rejects configurations fieldauth cannot run safely with.
// All problems are reported together.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	var errs []error

	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		errs = append(errs, fmt.Errorf("invalid MongoDB URI: %w", err))
	}
	if strings.TrimSpace(appCfg.MongoDatabase) == "" {
		errs = append(errs, errors.New("mongo_database is required"))
	}

	if u, err := url.Parse(appCfg.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("base_url must be an absolute http(s) URL, got %q", appCfg.BaseURL))
	}

	if coreCfg != nil && coreCfg.Env == "prod" {
		if appCfg.SessionKey == devSessionKey || len(appCfg.SessionKey) < minSessionKeyLen {
			errs = append(errs, fmt.Errorf("session_key must be set to at least %d characters in prod", minSessionKeyLen))
		}
	}

	if appCfg.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("access_token_ttl must be positive"))
	}
	if appCfg.RefreshTokenTTL <= appCfg.AccessTokenTTL {
		errs = append(errs, errors.New("refresh_token_ttl must be longer than access_token_ttl"))
	}
	if appCfg.IntentTTL <= 0 {
		errs = append(errs, errors.New("intent_ttl must be positive"))
	}
	if appCfg.LoginRateMax <= 0 || appCfg.LoginRateWindow <= 0 {
		errs = append(errs, errors.New("login_rate_max and login_rate_window must be positive"))
	}

	for _, mode := range []string{appCfg.AuditLogAuth, appCfg.AuditLogAdmin} {
		switch mode {
		case "all", "db", "log", "off":
		default:
			errs = append(errs, fmt.Errorf("audit log mode %q is not one of all, db, log, off", mode))
		}
	}

	if len(appCfg.RedirectAllowlist) == 0 {
		logger.Warn("redirect_allowlist is empty; credentials can only be delivered to relative paths")
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	return nil
}

// splitList parses a comma separated config value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
