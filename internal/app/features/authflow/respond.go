// internal/app/features/authflow/respond.go
package authflow

import (
	"errors"
	"net/http"
	"net/url"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.uber.org/zap"
)

// tokenResponse is the JSON body of a successful local sign-in.
type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Redirect     string `json:"redirect"`
}

// failureResponse is the JSON body of a refused local sign-in.
type failureResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// AppendTokens adds the credentials to dest as query parameters. A
// destination that already carries a token is returned unchanged.
func AppendTokens(dest string, t credentials.Tokens) string {
	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}
	q := u.Query()
	if q.Has("token") {
		return dest
	}
	q.Set("token", t.Token)
	if t.RefreshToken != "" {
		q.Set("refreshToken", t.RefreshToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// formPath is the page a failed attempt returns to.
func formPath(action string) string {
	if action == models.ActionRegister {
		return "/register"
	}
	return "/login"
}

// formURL rebuilds the originating form URL with the redirect and invite
// re-attached.
func formURL(action, dest, inviteID string) string {
	q := url.Values{}
	if dest != "" && dest != redirect.Default {
		q.Set("redirect", dest)
	}
	if inviteID != "" {
		q.Set("inviteId", inviteID)
	}
	if len(q) == 0 {
		return formPath(action)
	}
	return formPath(action) + "?" + q.Encode()
}

// backToForm flashes f and sends the browser to the originating form.
func (h *Handler) backToForm(w http.ResponseWriter, r *http.Request, action, dest, inviteID string, f auth.Flash) {
	if err := h.SessionMgr.SetFlash(w, r, f); err != nil {
		h.Log.Warn("authflow: could not store flash", zap.Error(err))
	}
	http.Redirect(w, r, formURL(action, dest, inviteID), http.StatusSeeOther)
}

// succeed hands the credentials to the client: JSON callers get them in the
// body, browsers are redirected to dest with the tokens attached.
func (h *Handler) succeed(w http.ResponseWriter, r *http.Request, dest string, t credentials.Tokens) {
	if uierrors.WantsJSON(r) {
		uierrors.WriteJSON(w, http.StatusOK, tokenResponse{
			Token:        t.Token,
			RefreshToken: t.RefreshToken,
			Redirect:     dest,
		})
		return
	}
	http.Redirect(w, r, AppendTokens(dest, t), http.StatusSeeOther)
}

// jsonFailure answers a refused JSON sign-in.
func jsonFailure(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	resp := failureResponse{Error: autherr.Message(err), Kind: string(autherr.KindOf(err))}
	var ae *autherr.Error
	if errors.As(err, &ae) && ae.Kind == autherr.Validation {
		status = http.StatusBadRequest
		resp.Fields = ae.Fields
	}
	uierrors.WriteJSON(w, status, resp)
}

// fieldErrors returns the per-field messages of a Validation failure.
func fieldErrors(err error) map[string]string {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return ae.Fields
	}
	return nil
}

// actionMessage prefixes a failure with what the user was attempting.
func actionMessage(action string, err error) string {
	switch action {
	case models.ActionRegister:
		return "Registration failed. " + autherr.Message(err)
	case models.ActionLogin:
		return "Sign-in failed. " + autherr.Message(err)
	default:
		return autherr.Message(err)
	}
}
