// internal/app/features/authflow/federated.go
package authflow

import (
	"context"
	"errors"
	"net/http"

	"github.com/dalemusser/fieldauth/internal/app/store/intents"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// outcomeProviderError labels callbacks the provider itself refused.
const outcomeProviderError = "provider_error"

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/{provider}                                                        |
| Records a SessionIntent and sends the browser to the provider.              |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeBegin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider")
	a, ok := h.Registry.FederatedAdapter(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	dest := redirect.Validate(query.Get(r, "redirect"), h.Allow)
	inviteID := query.Get(r, "inviteId")
	raw := query.Get(r, "action")
	action := models.ActionLogin
	if raw != "" {
		action = models.NormalizeAction(raw)
	}
	if action == "" {
		h.Metrics.AuthAttempt(a.ID(), "", string(autherr.MissingAction))
		h.backToForm(w, r, models.ActionLogin, dest, inviteID, auth.Flash{
			Message: autherr.Message(autherr.New(autherr.MissingAction)),
		})
		return
	}

	state := uuid.NewString()

	pctx, pcancel := timeouts.WithTimeout(r.Context(), timeouts.Provider(), h.Log, "provider begin")
	defer pcancel()
	begin, err := a.Begin(pctx, state)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "authflow: provider begin failed", err,
			"We could not reach the sign-in provider. Please try again.", formPath(action))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	intent := &models.SessionIntent{
		State:     state,
		Provider:  a.ID(),
		Action:    action,
		InviteID:  inviteID,
		Redirect:  dest,
		RequestID: begin.RequestID,
	}
	if err := h.Intents.Save(ctx, intent); err != nil {
		h.ErrLog.LogServerError(w, r, "authflow: save session intent failed", err, "", formPath(action))
		return
	}
	if err := h.SessionMgr.SetFlowState(w, r, a.ID(), state); err != nil {
		h.ErrLog.LogServerError(w, r, "authflow: store flow state failed", err, "", formPath(action))
		return
	}

	h.Log.Debug("authflow: federated sign-in started",
		zap.String("provider", a.ID()),
		zap.String("action", action))
	http.Redirect(w, r, begin.RedirectURL, http.StatusFound)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET|POST <adapter callback>                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

// Callback returns the handler for a's callback path.
func (h *Handler) Callback(a providers.FederatedAdapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleCallback(w, r, a)
	}
}

// callbackState resolves which SessionIntent the callback belongs to.
// OAuth families echo the state in the query and it must equal the cookie.
// SAML carries it in RelayState; a cookie, when present, must agree.
func (h *Handler) callbackState(r *http.Request, a providers.FederatedAdapter) string {
	cookie := h.SessionMgr.FlowState(r, a.ID())
	if a.Family() == providers.FamilySAML {
		relay := r.FormValue("RelayState")
		if cookie != "" && cookie != relay {
			return ""
		}
		return relay
	}
	state := r.URL.Query().Get("state")
	if cookie == "" || state == "" || cookie != state {
		return ""
	}
	return state
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, a providers.FederatedAdapter) {
	state := h.callbackState(r, a)
	if err := h.SessionMgr.ClearFlowState(w, r); err != nil {
		h.Log.Debug("authflow: clear flow state failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	intent, err := h.Intents.Consume(ctx, state)
	switch {
	case errors.Is(err, intents.ErrNotFound):
		h.federatedFailure(w, r, a.ID(), nil, autherr.New(autherr.MissingAction))
		return
	case err != nil:
		h.federatedFailure(w, r, a.ID(), nil, autherr.Wrap(err, "consume session intent"))
		return
	case intent.Provider != a.ID():
		h.federatedFailure(w, r, a.ID(), nil, autherr.New(autherr.MissingAction))
		return
	}

	pctx, pcancel := timeouts.WithTimeout(r.Context(), timeouts.Provider(), h.Log, "provider verify")
	defer pcancel()
	assertion, err := a.Verify(pctx, r, providers.Pending{State: intent.State, RequestID: intent.RequestID})
	if err != nil {
		h.Log.Warn("authflow: provider callback rejected",
			zap.String("provider", a.ID()),
			zap.Error(err))
		h.Metrics.AuthAttempt(a.ID(), intent.Action, outcomeProviderError)
		h.auditFailure(r, a.ID(), intent, outcomeProviderError)
		h.backToForm(w, r, intent.Action, intent.Redirect, intent.InviteID, auth.Flash{
			Message: actionMessage(intent.Action, autherr.Newf(autherr.InvalidCredentials,
				"%s did not complete the sign-in. Please try again.", a.DisplayName())),
		})
		return
	}

	res, err := h.Reconciler.ReconcileFederated(ctx, *intent, assertion)
	if err != nil {
		h.federatedFailure(w, r, a.ID(), intent, err)
		return
	}

	tokens, err := h.Issuer.Issue(ctx, res.User, true)
	if err != nil {
		h.federatedFailure(w, r, a.ID(), intent, autherr.Wrap(err, "issue credentials"))
		return
	}

	h.Metrics.AuthAttempt(a.ID(), intent.Action, metrics.OutcomeSuccess)
	h.Metrics.TokenIssued(intent.Action)
	if res.Created {
		h.AuditLog.Registered(ctx, r, res.User.ID, a.ID(), res.InviteID)
	} else {
		h.AuditLog.LoginSucceeded(ctx, r, res.User.ID, a.ID())
	}
	h.Log.Info("authflow: federated sign-in",
		zap.String("provider", a.ID()),
		zap.String("user", res.User.ID),
		zap.String("action", intent.Action),
		zap.Bool("created", res.Created),
		zap.Bool("linked", res.Linked))

	dest := redirect.Validate(intent.Redirect, h.Allow)
	http.Redirect(w, r, AppendTokens(dest, tokens), http.StatusSeeOther)
}

// federatedFailure records the failure and returns the browser to the form
// matching the intent's action, or /login when there is no intent.
func (h *Handler) federatedFailure(w http.ResponseWriter, r *http.Request, provider string, intent *models.SessionIntent, err error) {
	kind := autherr.KindOf(err)
	action, dest, inviteID := models.ActionLogin, "", ""
	if intent != nil {
		action, dest, inviteID = intent.Action, intent.Redirect, intent.InviteID
	}
	h.Metrics.AuthAttempt(provider, action, string(kind))
	h.auditFailure(r, provider, intent, string(kind))

	if kind == autherr.Internal {
		h.ErrLog.LogServerError(w, r, "authflow: federated "+action+" failed", err, "", formURL(action, dest, inviteID))
		return
	}
	h.backToForm(w, r, action, dest, inviteID, auth.Flash{Message: actionMessage(action, err)})
}

func (h *Handler) auditFailure(r *http.Request, provider string, intent *models.SessionIntent, reason string) {
	if intent != nil && intent.Action == models.ActionRegister {
		h.AuditLog.RegisterFailed(r.Context(), r, provider, intent.InviteID, reason)
		return
	}
	h.AuditLog.LoginFailed(r.Context(), r, provider, "", reason)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET <saml metadata>                                                         |
*─────────────────────────────────────────────────────────────────────────────*/

// Metadata serves the service-provider metadata published by p.
func (h *Handler) Metadata(p providers.MetadataPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeouts.Provider())
		defer cancel()
		body, contentType, err := p.Metadata(ctx)
		if err != nil {
			h.ErrLog.LogServerError(w, r, "authflow: build provider metadata failed", err, "", "/login")
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}
}
