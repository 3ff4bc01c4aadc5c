// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for fieldauth.
//
// Values come from FIELDAUTH_* environment variables, a config file, or
// command-line flags (see LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings: ports, TLS, log level, CORS.
//
// Identity provider settings are not here. They are read from AUTH_*
// variables by the providers package so that each provider can carry its
// own block of keys.
type AppConfig struct {
	// MongoDB
	MongoURI      string
	MongoDatabase string

	// Cookie session (intent state nonce and flash messages only)
	SessionKey    string
	SessionName   string
	SessionDomain string

	// BaseURL is the public origin of this service. Provider callbacks and
	// links in mail are built on it.
	BaseURL string

	// Credentials
	TokenIssuer     string // iss claim
	TokenServer     string // server claim
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	KeyCacheTTL     time.Duration // how long verification keys are cached
	KeyRetireGrace  time.Duration // how long a retired key still verifies

	// RedirectAllowlist holds origins ("https://app.example.org") and custom
	// schemes ("fieldapp:") a credential may be delivered to.
	RedirectAllowlist []string

	// IntentTTL bounds a federated round trip.
	IntentTTL time.Duration

	// Email/SMTP
	MailSMTPHost string
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	VerifyEmailExpiry   time.Duration
	ResetPasswordExpiry time.Duration

	// Audit logging: "all", "db", "log" or "off"
	AuditLogAuth  string
	AuditLogAdmin string

	// Login rate limiting, per identifier. The per-IP budget is twice this.
	LoginRateMax    int
	LoginRateWindow time.Duration

	// RedisURL shares rate limit counters across nodes. Blank keeps them
	// in process memory.
	RedisURL string

	MetricsEnabled bool
}
