// internal/app/features/accountcodes/verify.go
package accountcodes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/store/onetimecodes"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/mailer"
	"github.com/dalemusser/fieldauth/internal/app/system/normalize"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

const invalidVerifyLink = "This verification link is invalid or has expired. Please request a new one."

type sendRequest struct {
	Email    string `json:"email"`
	Redirect string `json:"redirect"`
}

type sendResponse struct {
	Status string `json:"status"`
	Email  string `json:"email"`
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /verify-email/send                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// HandleSendVerification mails a confirmation link for one of the caller's
// addresses. It runs behind the bearer middleware.
func (h *Handler) HandleSendVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentIdentity(r)
	if !ok {
		uierrors.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var in sendRequest
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			uierrors.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed request body."})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			uierrors.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid form data."})
			return
		}
		in = sendRequest{Email: r.PostForm.Get("email"), Redirect: r.PostForm.Get("redirect")}
	}
	email := normalize.Email(in.Email)
	if email == "" {
		uierrors.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Email is required."})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	u, err := h.Users.GetByID(ctx, id.Subject)
	if err != nil {
		h.Log.Error("accountcodes: load caller failed", zap.String("user", id.Subject), zap.Error(err))
		uierrors.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": autherr.Message(err)})
		return
	}
	if !u.HasEmail(email) {
		uierrors.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "That email address is not on your account."})
		return
	}
	for _, e := range u.Emails {
		if e.Email == email && e.Verified {
			uierrors.WriteJSON(w, http.StatusOK, sendResponse{Status: "already_verified", Email: email})
			return
		}
	}

	raw, err := h.Codes.Create(ctx, onetimecodes.PurposeVerifyEmail, u.ID, email,
		keptRedirect(in.Redirect, h.Allow), h.VerifyExpiry)
	if err != nil {
		h.Log.Error("accountcodes: create verification code failed", zap.String("user", u.ID), zap.Error(err))
		uierrors.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": autherr.Message(err)})
		return
	}

	msg := mailer.BuildVerificationEmail(email, mailer.LinkEmailData{
		SiteName:  h.SiteName,
		Link:      h.BaseURL + "/verify-email?code=" + url.QueryEscape(raw),
		ExpiresIn: formatExpiry(h.VerifyExpiry),
	})
	if err := h.Mailer.Send(ctx, msg); err != nil {
		h.Log.Error("accountcodes: send verification email failed", zap.String("email", email), zap.Error(err))
		uierrors.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "Failed to send verification email. Please try again."})
		return
	}

	h.AuditLog.VerificationSent(ctx, r, u.ID, email)
	h.Log.Info("accountcodes: verification email sent", zap.String("user", u.ID), zap.String("email", email))
	uierrors.WriteJSON(w, http.StatusAccepted, sendResponse{Status: "sent", Email: email})
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /verify-email?code=                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	c, err := h.Codes.Consume(ctx, onetimecodes.PurposeVerifyEmail, query.Get(r, "code"))
	if errors.Is(err, onetimecodes.ErrNotFound) {
		h.Log.Warn("accountcodes: invalid verification link")
		h.flashToLogin(w, r, invalidVerifyLink)
		return
	}
	if err != nil {
		h.ErrLog.LogServerError(w, r, "accountcodes: consume verification code failed", err, "", "/login")
		return
	}

	if _, err := h.Accounts.MarkEmailVerified(ctx, c.UserID, c.Email); err != nil {
		if autherr.UserFacing(err) {
			h.flashToLogin(w, r, autherr.Message(err))
			return
		}
		h.ErrLog.LogServerError(w, r, "accountcodes: mark email verified failed", err, "", "/login")
		return
	}

	h.AuditLog.EmailVerified(ctx, r, c.UserID, c.Email)
	h.Log.Info("accountcodes: email verified", zap.String("user", c.UserID), zap.String("email", c.Email))
	http.Redirect(w, r, redirect.Validate(c.Redirect, h.Allow), http.StatusSeeOther)
}

func (h *Handler) flashToLogin(w http.ResponseWriter, r *http.Request, msg string) {
	if err := h.SessionMgr.SetFlash(w, r, auth.Flash{Message: msg}); err != nil {
		h.Log.Warn("accountcodes: could not store flash", zap.Error(err))
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
