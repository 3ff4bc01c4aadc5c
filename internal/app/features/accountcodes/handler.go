// internal/app/features/accountcodes/handler.go
package accountcodes

// Account codes are single-use links mailed to a user: one confirms an
// email address, the other lets a local account choose a new password.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/store/onetimecodes"
	"github.com/dalemusser/fieldauth/internal/app/system/auditlog"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/mailer"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.uber.org/zap"
)

// Codes issues and redeems one-time codes.
type Codes interface {
	Create(ctx context.Context, purpose, userID, email, redirect string, ttl time.Duration) (string, error)
	Peek(ctx context.Context, purpose, raw string) (*onetimecodes.Code, error)
	Consume(ctx context.Context, purpose, raw string) (*onetimecodes.Code, error)
}

// Users looks up accounts.
type Users interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Accounts applies the changes a redeemed code authorizes.
type Accounts interface {
	MarkEmailVerified(ctx context.Context, userID, email string) (*models.User, error)
	SetPassword(ctx context.Context, userID, password string) (*models.User, error)
}

type Handler struct {
	Codes      Codes
	Users      Users
	Accounts   Accounts
	Mailer     mailer.Sender
	SessionMgr *auth.SessionManager
	Allow      redirect.Allowlist
	ErrLog     *uierrors.ErrorLogger
	AuditLog   *auditlog.Logger
	Log        *zap.Logger

	BaseURL      string // links in mail are built on this
	SiteName     string
	VerifyExpiry time.Duration
	ResetExpiry  time.Duration

	Render uierrors.RenderFunc

	// pending tracks mail sent after the response has been written.
	pending sync.WaitGroup
}

// Wait blocks until mail started by earlier requests has been handed off.
func (h *Handler) Wait() { h.pending.Wait() }

func NewHandler(
	codes Codes,
	users Users,
	accounts Accounts,
	mail mailer.Sender,
	sessionMgr *auth.SessionManager,
	allow redirect.Allowlist,
	errLog *uierrors.ErrorLogger,
	audit *auditlog.Logger,
	baseURL, siteName string,
	verifyExpiry, resetExpiry time.Duration,
	logger *zap.Logger,
) *Handler {
	if verifyExpiry <= 0 {
		verifyExpiry = onetimecodes.DefaultVerifyExpiry
	}
	if resetExpiry <= 0 {
		resetExpiry = onetimecodes.DefaultResetExpiry
	}
	if siteName == "" {
		siteName = "Field Auth"
	}
	return &Handler{
		Codes:        codes,
		Users:        users,
		Accounts:     accounts,
		Mailer:       mail,
		SessionMgr:   sessionMgr,
		Allow:        allow,
		ErrLog:       errLog,
		AuditLog:     audit,
		Log:          logger,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		SiteName:     siteName,
		VerifyExpiry: verifyExpiry,
		ResetExpiry:  resetExpiry,
		Render:       uierrors.DefaultRender,
	}
}

// formatExpiry renders d for the email body, e.g. "1 hour", "30 minutes".
func formatExpiry(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 60 {
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := minutes / 60
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

// keptRedirect returns the validated destination, or "" when it is the default.
func keptRedirect(raw string, allow redirect.Allowlist) string {
	if v := redirect.Validate(raw, allow); v != redirect.Default {
		return v
	}
	return ""
}
