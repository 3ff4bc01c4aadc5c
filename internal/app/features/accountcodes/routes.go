// internal/app/features/accountcodes/routes.go
package accountcodes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the account code pages. bearer guards the send
// endpoint, which acts for the signed-in caller.
func MountRoutes(r chi.Router, h *Handler, bearer func(http.Handler) http.Handler) {
	r.With(bearer).Post("/verify-email/send", h.HandleSendVerification)
	r.Get("/verify-email", h.ServeVerifyEmail)

	r.Get("/auth/forgot-password", h.ServeForgot)
	r.Post("/auth/forgot-password", h.HandleForgot)
	r.Get("/auth/reset-password", h.ServeReset)
	r.Post("/auth/reset-password", h.HandleReset)
}
