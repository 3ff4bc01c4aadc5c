// internal/app/features/authflow/routes.go
package authflow

import (
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the sign-in pages, the local endpoint, the
// federated start route and one callback per registered provider.
func MountRoutes(r chi.Router, h *Handler) {
	r.Get("/login", h.ServeLogin)
	r.Get("/register", h.ServeRegister)
	r.Post("/auth/local", h.HandleLocal)
	r.Get("/auth/{provider}", h.ServeBegin)

	for _, a := range h.Registry.Federated() {
		cb := h.Callback(a)
		r.Get(a.CallbackPath(), cb)
		r.Post(a.CallbackPath(), cb)

		if mp, ok := a.(interface {
			providers.MetadataPublisher
			MetadataPath() string
		}); ok {
			r.Get(mp.MetadataPath(), h.Metadata(mp))
		}
	}
}
