// internal/app/features/authflow/local.go
package authflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/reconcile"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.uber.org/zap"
)

const localProvider = models.LocalProvider

// maxLocalBody bounds a sign-in submission.
const maxLocalBody = 64 << 10

// localInput is a local login or register submission.
type localInput struct {
	Action   string `json:"action"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Repeat   string `json:"repeat"`
	Name     string `json:"name"`
	InviteID string `json:"inviteId"`
	Redirect string `json:"redirect"`
}

func decodeLocal(w http.ResponseWriter, r *http.Request) (localInput, error) {
	var in localInput
	r.Body = http.MaxBytesReader(w, r.Body, maxLocalBody)
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return in, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return in, err
		}
		in = localInput{
			Action:   r.PostForm.Get("action"),
			Email:    r.PostForm.Get("email"),
			Password: r.PostForm.Get("password"),
			Repeat:   r.PostForm.Get("repeat"),
			Name:     r.PostForm.Get("name"),
			InviteID: r.PostForm.Get("inviteId"),
			Redirect: r.PostForm.Get("redirect"),
		}
	}
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.InviteID = strings.TrimSpace(in.InviteID)
	in.Redirect = strings.TrimSpace(in.Redirect)
	return in, nil
}

// validateLocal applies the submission schema. The password repeat is
// checked here so a mismatch never reaches persistence.
func validateLocal(in localInput, action string) error {
	fields := map[string]string{}
	if action == "" {
		fields["action"] = "Choose whether to sign in or register."
	}
	if in.Email == "" {
		fields["email"] = "Email or username is required."
	}
	if in.Password == "" {
		fields["password"] = "Password is required."
	}
	if action == models.ActionRegister {
		if in.Email != "" && !validAddress(in.Email) {
			fields["email"] = "Enter a valid email address."
		}
		if in.Name == "" {
			fields["name"] = "Name is required."
		}
		switch {
		case in.Repeat == "":
			fields["repeat"] = "Repeat your password."
		case in.Password != "" && in.Repeat != in.Password:
			fields["repeat"] = "Passwords do not match."
		}
	}
	if len(fields) > 0 {
		return autherr.Invalid(fields)
	}
	return nil
}

// validAddress accepts a bare address, not a display-name form.
func validAddress(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s && a.Name == ""
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/local                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) HandleLocal(w http.ResponseWriter, r *http.Request) {
	if !h.Registry.LocalEnabled() {
		http.NotFound(w, r)
		return
	}

	in, err := decodeLocal(w, r)
	if err != nil {
		if uierrors.WantsJSON(r) {
			jsonFailure(w, autherr.Invalid(map[string]string{"body": "Malformed request body."}))
			return
		}
		h.ErrLog.LogBadRequest(w, r, "authflow: parse local form failed", err, "Invalid form data.", "/login")
		return
	}

	dest := redirect.Validate(in.Redirect, h.Allow)
	action := models.NormalizeAction(in.Action)

	if err := validateLocal(in, action); err != nil {
		h.localFailure(w, r, in, action, dest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if h.Limiter != nil {
		allowed, reason, lerr := h.Limiter.Check(ctx, r, in.Email)
		if lerr != nil {
			h.Log.Warn("authflow: login limiter unavailable", zap.Error(lerr))
		}
		if !allowed {
			h.Metrics.AuthAttempt(localProvider, action, metrics.OutcomeRateLimited)
			h.AuditLog.LoginRateLimited(ctx, r, in.Email)
			h.refuse(w, r, in, action, dest, autherr.Newf(autherr.InvalidCredentials, "%s", reason))
			return
		}
	}

	var (
		u        *models.User
		inviteID string
	)
	switch action {
	case models.ActionRegister:
		res, rerr := h.Reconciler.RegisterLocal(ctx, reconcile.LocalRegistration{
			Email:    in.Email,
			Name:     in.Name,
			Password: in.Password,
			InviteID: in.InviteID,
		})
		if rerr != nil {
			h.localFailure(w, r, in, action, dest, rerr)
			return
		}
		u, inviteID = res.User, res.InviteID
	default:
		u, err = h.Reconciler.AuthenticateLocal(ctx, in.Email, in.Password)
		if err != nil {
			h.localFailure(w, r, in, action, dest, err)
			return
		}
	}

	tokens, err := h.Issuer.Issue(ctx, u, true)
	if err != nil {
		h.Metrics.AuthAttempt(localProvider, action, string(autherr.Internal))
		h.ErrLog.LogServerError(w, r, "authflow: issue credentials failed", err, "", formPath(action))
		return
	}

	if h.Limiter != nil {
		if err := h.Limiter.ResetIdentity(ctx, in.Email); err != nil {
			h.Log.Warn("authflow: reset login limiter failed", zap.Error(err))
		}
	}
	h.Metrics.AuthAttempt(localProvider, action, metrics.OutcomeSuccess)
	h.Metrics.TokenIssued(action)
	if action == models.ActionRegister {
		h.AuditLog.Registered(ctx, r, u.ID, localProvider, inviteID)
	} else {
		h.AuditLog.LoginSucceeded(ctx, r, u.ID, localProvider)
	}

	h.Log.Info("authflow: local sign-in",
		zap.String("user", u.ID),
		zap.String("action", action))
	h.succeed(w, r, dest, tokens)
}

// localFailure records a refused or failed local attempt and answers it.
func (h *Handler) localFailure(w http.ResponseWriter, r *http.Request, in localInput, action, dest string, err error) {
	kind := autherr.KindOf(err)
	h.Metrics.AuthAttempt(localProvider, action, string(kind))
	if action == models.ActionRegister {
		h.AuditLog.RegisterFailed(r.Context(), r, localProvider, in.InviteID, string(kind))
	} else {
		h.AuditLog.LoginFailed(r.Context(), r, localProvider, in.Email, string(kind))
	}

	if kind == autherr.Internal {
		h.ErrLog.LogServerError(w, r, "authflow: local "+action+" failed", err, "", formPath(action))
		return
	}
	h.refuse(w, r, in, action, dest, err)
}

// refuse answers a user-facing failure, keeping the non-sensitive fields.
func (h *Handler) refuse(w http.ResponseWriter, r *http.Request, in localInput, action, dest string, err error) {
	if uierrors.WantsJSON(r) {
		jsonFailure(w, err)
		return
	}
	h.backToForm(w, r, action, dest, in.InviteID, auth.Flash{
		Message: autherr.Message(err),
		Fields:  fieldErrors(err),
		Values: map[string]string{
			"email":    in.Email,
			"name":     in.Name,
			"inviteId": in.InviteID,
			"redirect": in.Redirect,
		},
	})
}
