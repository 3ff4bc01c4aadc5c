// internal/app/features/errors/render.go
package errors

import (
	"net/http"

	"github.com/dalemusser/waffle/pantry/templates"
)

// RenderFunc draws a named template.
type RenderFunc func(w http.ResponseWriter, r *http.Request, name string, data any)

// DefaultRender renders through the shared waffle template engine.
func DefaultRender(w http.ResponseWriter, r *http.Request, name string, data any) {
	templates.Render(w, r, name, data)
}

// Handler serves the standalone error routes.
type Handler struct {
	Render RenderFunc
}

// NewHandler constructs an errors Handler.
func NewHandler() *Handler {
	return &Handler{Render: DefaultRender}
}

// NotFound renders the 404 page, or a JSON body for API clients.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	if WantsJSON(r) {
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.WriteHeader(http.StatusNotFound)
	h.Render(w, r, "error_page", pageData{
		Title:   "Not found",
		Status:  http.StatusNotFound,
		Message: "The page you asked for does not exist.",
		BackURL: "/login",
	})
}
