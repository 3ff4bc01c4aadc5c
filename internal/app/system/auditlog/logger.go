// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/fieldauth/internal/app/store/audit"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for authentication events (login, register,
	// refresh, verification, password reset).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Auth string
	// Admin controls logging for administrative events (invites, key rotation).
	Admin string
}

// Logger records audit events to MongoDB (via audit.Store) and zap.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger. store may be nil for log-only use.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// ClientIP extracts the client IP from the request, preferring the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.Provider != "" {
		fields = append(fields, zap.String("provider", event.Provider))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration. A nil Logger is a
// no-op so handlers and tests can run without auditing.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryAuth:
		setting = l.config.Auth
	case audit.CategoryAdmin:
		setting = l.config.Admin
	default:
		setting = "all"
	}

	if setting == "off" {
		return
	}
	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}
	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func authEvent(r *http.Request, eventType string, success bool) audit.Event {
	return audit.Event{
		Category:  audit.CategoryAuth,
		EventType: eventType,
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   success,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Authentication events                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// LoginSucceeded logs a completed login through provider.
func (l *Logger) LoginSucceeded(ctx context.Context, r *http.Request, userID, provider string) {
	e := authEvent(r, audit.EventLoginSuccess, true)
	e.UserID = userID
	e.Provider = provider
	l.Log(ctx, e)
}

// LoginFailed logs a failed login. reason is the failure kind, never the
// submitted password.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, provider, identifier, reason string) {
	e := authEvent(r, audit.EventLoginFailed, false)
	e.Provider = provider
	e.FailureReason = reason
	if identifier != "" {
		e.Details = map[string]string{"attempted_identifier": identifier}
	}
	l.Log(ctx, e)
}

// LoginRateLimited logs a local attempt refused by the rate limiter.
func (l *Logger) LoginRateLimited(ctx context.Context, r *http.Request, identifier string) {
	e := authEvent(r, audit.EventLoginFailedRateLimit, false)
	e.Provider = "local"
	e.FailureReason = "rate limit exceeded"
	e.Details = map[string]string{"attempted_identifier": identifier}
	l.Log(ctx, e)
}

// Registered logs an account created through provider with inviteID.
func (l *Logger) Registered(ctx context.Context, r *http.Request, userID, provider, inviteID string) {
	e := authEvent(r, audit.EventRegisterSuccess, true)
	e.UserID = userID
	e.Provider = provider
	e.Details = map[string]string{"invite_id": inviteID}
	l.Log(ctx, e)
}

// RegisterFailed logs a failed registration.
func (l *Logger) RegisterFailed(ctx context.Context, r *http.Request, provider, inviteID, reason string) {
	e := authEvent(r, audit.EventRegisterFailed, false)
	e.Provider = provider
	e.FailureReason = reason
	if inviteID != "" {
		e.Details = map[string]string{"invite_id": inviteID}
	}
	l.Log(ctx, e)
}

// TokenRefreshed logs a refresh token exchange.
func (l *Logger) TokenRefreshed(ctx context.Context, r *http.Request, userID string) {
	e := authEvent(r, audit.EventTokenRefreshed, true)
	e.UserID = userID
	l.Log(ctx, e)
}

// VerificationSent logs a verification link mailed to email.
func (l *Logger) VerificationSent(ctx context.Context, r *http.Request, userID, email string) {
	e := authEvent(r, audit.EventVerificationSent, true)
	e.UserID = userID
	e.Details = map[string]string{"email": email}
	l.Log(ctx, e)
}

// EmailVerified logs a completed email verification.
func (l *Logger) EmailVerified(ctx context.Context, r *http.Request, userID, email string) {
	e := authEvent(r, audit.EventEmailVerified, true)
	e.UserID = userID
	e.Details = map[string]string{"email": email}
	l.Log(ctx, e)
}

// PasswordResetRequested logs a reset link mailed to a user.
func (l *Logger) PasswordResetRequested(ctx context.Context, r *http.Request, userID string) {
	e := authEvent(r, audit.EventPasswordResetRequested, true)
	e.UserID = userID
	l.Log(ctx, e)
}

// PasswordChanged logs a password set through a reset code.
func (l *Logger) PasswordChanged(ctx context.Context, r *http.Request, userID string) {
	e := authEvent(r, audit.EventPasswordChanged, true)
	e.UserID = userID
	l.Log(ctx, e)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Admin events                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

// InviteCreated logs an invite issued by actor.
func (l *Logger) InviteCreated(ctx context.Context, actor, code, resourceID, role string, uses int) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventInviteCreated,
		UserID:    actor,
		Success:   true,
		Details: map[string]string{
			"invite_id":   code,
			"resource_id": resourceID,
			"role":        role,
			"uses":        strconv.Itoa(uses),
		},
	})
}

// InviteRevoked logs an invite deleted by actor.
func (l *Logger) InviteRevoked(ctx context.Context, actor, code string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventInviteRevoked,
		UserID:    actor,
		Success:   true,
		Details:   map[string]string{"invite_id": code},
	})
}

// KeyRotated logs a signing key rotation.
func (l *Logger) KeyRotated(ctx context.Context, actor, kid string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventKeyRotated,
		UserID:    actor,
		Success:   true,
		Details:   map[string]string{"kid": kid},
	})
}
