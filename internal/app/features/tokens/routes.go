// internal/app/features/tokens/routes.go
package tokens

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the token endpoints. bearer guards /api/whoami.
func MountRoutes(r chi.Router, h *Handler, bearer func(http.Handler) http.Handler) {
	r.Post("/auth/refresh", h.HandleRefresh)
	r.Get("/.well-known/jwks.json", h.ServeJWKS)
	r.With(bearer).Get("/api/whoami", h.ServeWhoAmI)
}
