// internal/app/features/errors/errors.go
package errors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dalemusser/fieldauth/internal/app/system/auditlog"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// pageData is the basic view model for error pages.
type pageData struct {
	Title   string
	Status  int
	Message string
	BackURL string
}

// ErrorLogger logs a failure with request context and answers the client
// with a page (or JSON) that never exposes the underlying error.
type ErrorLogger struct {
	Log *zap.Logger
	// Render draws the HTML page. Tests replace it to capture the view model.
	Render RenderFunc
}

// NewErrorLogger constructs an ErrorLogger.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorLogger{Log: logger, Render: DefaultRender}
}

// LogServerError logs err at error level and answers 500 with userMsg.
func (l *ErrorLogger) LogServerError(w http.ResponseWriter, r *http.Request, msg string, err error, userMsg, backURL string) {
	l.Log.Error(msg, l.fields(r, err)...)
	if userMsg == "" {
		userMsg = "A server error occurred."
	}
	l.respond(w, r, http.StatusInternalServerError, "Something went wrong", userMsg, backURL)
}

// LogBadRequest logs err at warn level and answers 400 with userMsg.
func (l *ErrorLogger) LogBadRequest(w http.ResponseWriter, r *http.Request, msg string, err error, userMsg, backURL string) {
	l.Log.Warn(msg, l.fields(r, err)...)
	if userMsg == "" {
		userMsg = "The request could not be understood."
	}
	l.respond(w, r, http.StatusBadRequest, "Bad request", userMsg, backURL)
}

// LogUnauthorized logs at info level and answers 401.
func (l *ErrorLogger) LogUnauthorized(w http.ResponseWriter, r *http.Request, msg string, userMsg, backURL string) {
	l.Log.Info(msg, l.fields(r, nil)...)
	if userMsg == "" {
		userMsg = "Please sign in to continue."
	}
	l.respond(w, r, http.StatusUnauthorized, "Sign in required", userMsg, backURL)
}

func (l *ErrorLogger) fields(r *http.Request, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("ip", auditlog.ClientIP(r)),
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

func (l *ErrorLogger) respond(w http.ResponseWriter, r *http.Request, status int, title, userMsg, backURL string) {
	if WantsJSON(r) {
		WriteJSON(w, status, map[string]string{"error": userMsg})
		return
	}
	if backURL == "" {
		backURL = "/login"
	}
	w.WriteHeader(status)
	render := l.Render
	if render == nil {
		render = DefaultRender
	}
	render(w, r, "error_page", pageData{
		Title:   title,
		Status:  status,
		Message: userMsg,
		BackURL: backURL,
	})
}

// WantsJSON reports whether the client sent or asked for JSON.
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "application/json")
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
