// internal/app/features/authflow/forms.go
package authflow

import (
	"net/http"
	"net/url"

	"github.com/dalemusser/fieldauth/internal/app/system/redirect"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Template-data                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

type ProviderButton struct {
	ID   string
	Name string
	URL  string
}

type FormData struct {
	Title        string
	SiteName     string
	Action       string
	Redirect     string
	InviteID     string
	Providers    []ProviderButton
	LocalEnabled bool
	Error        string
	Fields       map[string]string
	Values       map[string]string
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /login, GET /register                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	h.serveForm(w, r, models.ActionLogin)
}

func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	h.serveForm(w, r, models.ActionRegister)
}

func (h *Handler) serveForm(w http.ResponseWriter, r *http.Request, action string) {
	dest := ""
	if raw := query.Get(r, "redirect"); raw != "" {
		if v := redirect.Validate(raw, h.Allow); v != redirect.Default {
			dest = v
		}
	}
	inviteID := query.Get(r, "inviteId")

	data := FormData{
		Title:        "Sign in",
		SiteName:     h.SiteName,
		Action:       action,
		Redirect:     dest,
		InviteID:     inviteID,
		LocalEnabled: h.Registry.LocalEnabled(),
		Fields:       map[string]string{},
		Values:       map[string]string{},
	}
	if action == models.ActionRegister {
		data.Title = "Create your account"
	}

	for _, a := range h.Registry.Federated() {
		q := url.Values{"action": {action}}
		if dest != "" {
			q.Set("redirect", dest)
		}
		if inviteID != "" {
			q.Set("inviteId", inviteID)
		}
		data.Providers = append(data.Providers, ProviderButton{
			ID:   a.ID(),
			Name: a.DisplayName(),
			URL:  "/auth/" + url.PathEscape(a.ID()) + "?" + q.Encode(),
		})
	}

	if f := h.SessionMgr.PopFlash(w, r); f != nil {
		data.Error = f.Message
		if f.Fields != nil {
			data.Fields = f.Fields
		}
		if f.Values != nil {
			data.Values = f.Values
		}
	}

	h.Render(w, r, "authflow_"+action, data)
}
