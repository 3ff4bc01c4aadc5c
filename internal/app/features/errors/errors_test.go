package errors_test

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captured struct {
	name string
	data any
}

func capture(c *captured) uierrors.RenderFunc {
	return func(w http.ResponseWriter, _ *http.Request, name string, data any) {
		c.name, c.data = name, data
		_, _ = w.Write([]byte("page:" + name))
	}
}

func TestLogServerError_RendersPageAndLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := uierrors.NewErrorLogger(zap.New(core))
	var c captured
	l.Render = capture(&c)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil)
	rec := httptest.NewRecorder()
	l.LogServerError(rec, req, "authflow: reconcile failed", stderrors.New("mongo down"), "", "/login")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	if c.name != "error_page" {
		t.Errorf("template: got %q, want error_page", c.name)
	}
	if rec.Body.String() == "" {
		t.Error("expected a rendered body")
	}
	entries := logs.FilterMessage("authflow: reconcile failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].Level != zap.ErrorLevel {
		t.Errorf("level: got %v, want error", entries[0].Level)
	}
	if entries[0].ContextMap()["path"] != "/auth/google/callback" {
		t.Errorf("path field: got %v", entries[0].ContextMap()["path"])
	}
}

func TestLogServerError_JSONClients(t *testing.T) {
	l := uierrors.NewErrorLogger(zap.NewNop())
	l.Render = func(http.ResponseWriter, *http.Request, string, any) {
		t.Error("JSON clients must not get an HTML page")
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	l.LogServerError(rec, req, "refresh failed", stderrors.New("secret detail"), "A server error occurred.", "")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "A server error occurred." {
		t.Errorf("error: got %q", body["error"])
	}
}

func TestLogBadRequest(t *testing.T) {
	l := uierrors.NewErrorLogger(zap.NewNop())
	var c captured
	l.Render = capture(&c)

	rec := httptest.NewRecorder()
	l.LogBadRequest(rec, httptest.NewRequest(http.MethodPost, "/auth/local", nil), "parse form failed", nil, "Invalid form data.", "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
	if c.name != "error_page" {
		t.Errorf("template: got %q", c.name)
	}
}

func TestWantsJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		accept      string
		want        bool
	}{
		{"form post", "application/x-www-form-urlencoded", "", false},
		{"json body", "application/json; charset=utf-8", "", true},
		{"json accept", "", "application/json", true},
		{"browser", "", "text/html,application/xhtml+xml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if got := uierrors.WantsJSON(req); got != tt.want {
				t.Errorf("WantsJSON = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	h := uierrors.NewHandler()
	var c captured
	h.Render = capture(&c)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rec.Code)
	}
	if c.name != "error_page" {
		t.Errorf("template: got %q", c.name)
	}
}
