// internal/app/features/accountcodes/reset.go
package accountcodes

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dalemusser/fieldauth/internal/app/store/onetimecodes"
	userstore "github.com/dalemusser/fieldauth/internal/app/store/users"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/mailer"
	"github.com/dalemusser/fieldauth/internal/app/system/normalize"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

const invalidResetLink = "This reset link is invalid or has expired. Please request a new one."

/*─────────────────────────────────────────────────────────────────────────────*
| Template-data                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

type ForgotData struct {
	Title    string
	SiteName string
	Email    string
	Redirect string
	Sent     bool
	Error    string
}

type ResetData struct {
	Title    string
	SiteName string
	Code     string
	Invalid  bool
	Error    string
	Fields   map[string]string
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET|POST /auth/forgot-password                                              |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeForgot(w http.ResponseWriter, r *http.Request) {
	h.Render(w, r, "accountcodes_forgot", ForgotData{
		Title:    "Reset your password",
		SiteName: h.SiteName,
		Redirect: keptRedirect(query.Get(r, "redirect"), h.Allow),
	})
}

// HandleForgot mails a reset link when the address belongs to an account
// with a password. The page shown afterwards is identical whether or not
// that happened.
func (h *Handler) HandleForgot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "accountcodes: parse forgot form failed", err, "Invalid form data.", "/auth/forgot-password")
		return
	}
	email := normalize.Email(r.PostForm.Get("email"))
	dest := keptRedirect(r.PostForm.Get("redirect"), h.Allow)

	data := ForgotData{
		Title:    "Reset your password",
		SiteName: h.SiteName,
		Email:    email,
		Redirect: dest,
	}
	if email == "" {
		data.Error = "Email is required."
		h.Render(w, r, "accountcodes_forgot", data)
		return
	}

	data.Sent = true
	h.Render(w, r, "accountcodes_forgot", data)

	// The lookup and SMTP round trip only happen for known addresses, so
	// they run after the response to keep its timing address-independent.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeouts.Medium())
	req := r.Clone(ctx)
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		defer cancel()
		h.sendReset(ctx, req, email, dest)
	}()
}

// sendReset does the lookup and mailing for HandleForgot. Failures are
// logged only.
func (h *Handler) sendReset(ctx context.Context, r *http.Request, email, dest string) {
	u, err := h.Users.GetByEmail(ctx, email)
	if errors.Is(err, userstore.ErrNotFound) {
		h.Log.Info("accountcodes: reset requested for unknown email")
		return
	}
	if err != nil {
		h.Log.Error("accountcodes: reset lookup failed", zap.Error(err))
		return
	}
	if !u.HasProfile(models.LocalProvider) {
		h.Log.Info("accountcodes: reset requested for account without password", zap.String("user", u.ID))
		return
	}

	raw, err := h.Codes.Create(ctx, onetimecodes.PurposeResetPassword, u.ID, email, dest, h.ResetExpiry)
	if err != nil {
		h.Log.Error("accountcodes: create reset code failed", zap.String("user", u.ID), zap.Error(err))
		return
	}
	msg := mailer.BuildPasswordResetEmail(email, mailer.LinkEmailData{
		SiteName:  h.SiteName,
		Link:      h.BaseURL + "/auth/reset-password?code=" + url.QueryEscape(raw),
		ExpiresIn: formatExpiry(h.ResetExpiry),
	})
	if err := h.Mailer.Send(ctx, msg); err != nil {
		h.Log.Error("accountcodes: send reset email failed", zap.String("user", u.ID), zap.Error(err))
		return
	}
	h.AuditLog.PasswordResetRequested(ctx, r, u.ID)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET|POST /auth/reset-password                                               |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeReset shows the new-password form. The code is checked but not used up.
func (h *Handler) ServeReset(w http.ResponseWriter, r *http.Request) {
	code := query.Get(r, "code")
	data := ResetData{Title: "Choose a new password", SiteName: h.SiteName, Code: code}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	if _, err := h.Codes.Peek(ctx, onetimecodes.PurposeResetPassword, code); err != nil {
		if !errors.Is(err, onetimecodes.ErrNotFound) {
			h.ErrLog.LogServerError(w, r, "accountcodes: peek reset code failed", err, "", "/auth/forgot-password")
			return
		}
		data.Code = ""
		data.Invalid = true
		data.Error = invalidResetLink
	}
	h.Render(w, r, "accountcodes_reset", data)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "accountcodes: parse reset form failed", err, "Invalid form data.", "/auth/forgot-password")
		return
	}
	code := strings.TrimSpace(r.PostForm.Get("code"))
	password := r.PostForm.Get("password")
	repeat := r.PostForm.Get("repeat")

	data := ResetData{Title: "Choose a new password", SiteName: h.SiteName, Code: code}

	fields := map[string]string{}
	if password == "" {
		fields["password"] = "Password is required."
	}
	switch {
	case repeat == "":
		fields["repeat"] = "Repeat your password."
	case password != "" && repeat != password:
		fields["repeat"] = "Passwords do not match."
	}
	if len(fields) > 0 {
		data.Error = autherr.Message(autherr.Invalid(fields))
		data.Fields = fields
		h.Render(w, r, "accountcodes_reset", data)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	c, err := h.Codes.Consume(ctx, onetimecodes.PurposeResetPassword, code)
	if errors.Is(err, onetimecodes.ErrNotFound) {
		data.Code = ""
		data.Invalid = true
		data.Error = invalidResetLink
		h.Render(w, r, "accountcodes_reset", data)
		return
	}
	if err != nil {
		h.ErrLog.LogServerError(w, r, "accountcodes: consume reset code failed", err, "", "/auth/forgot-password")
		return
	}

	if _, err := h.Accounts.SetPassword(ctx, c.UserID, password); err != nil {
		if autherr.UserFacing(err) {
			data.Code = ""
			data.Invalid = true
			data.Error = autherr.Message(err)
			h.Render(w, r, "accountcodes_reset", data)
			return
		}
		h.ErrLog.LogServerError(w, r, "accountcodes: set password failed", err, "", "/auth/forgot-password")
		return
	}

	h.AuditLog.PasswordChanged(ctx, r, c.UserID)
	h.Log.Info("accountcodes: password reset", zap.String("user", c.UserID))

	target := "/login"
	if dest := keptRedirect(c.Redirect, h.Allow); dest != "" {
		target += "?" + url.Values{"redirect": {dest}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
