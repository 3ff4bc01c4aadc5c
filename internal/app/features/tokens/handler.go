// internal/app/features/tokens/handler.go
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	uierrors "github.com/dalemusser/fieldauth/internal/app/features/errors"
	"github.com/dalemusser/fieldauth/internal/app/system/auditlog"
	"github.com/dalemusser/fieldauth/internal/app/system/auth"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Issuer is the credential surface these endpoints expose.
type Issuer interface {
	Refresh(ctx context.Context, refreshToken string) (credentials.Tokens, error)
	JWKS(ctx context.Context) (credentials.JWKSet, error)
}

// Handler serves token refresh, the public key set and identity lookup.
type Handler struct {
	Issuer   Issuer
	AuditLog *auditlog.Logger
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// NewHandler creates a tokens handler.
func NewHandler(issuer Issuer, audit *auditlog.Logger, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{Issuer: issuer, AuditLog: audit, Metrics: m, Log: logger}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// HandleRefresh handles POST /auth/refresh.
//
// Request:  { "refreshToken": "…" }
// Response: 200 { "token": "…", "refreshToken": "…", "expiresAt": 1700000000 }
//
// Expired, forged or orphaned refresh tokens get 401.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			uierrors.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed request body."})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			uierrors.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid form data."})
			return
		}
		in.RefreshToken = r.PostForm.Get("refreshToken")
	}
	in.RefreshToken = strings.TrimSpace(in.RefreshToken)
	if in.RefreshToken == "" {
		uierrors.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	t, err := h.Issuer.Refresh(ctx, in.RefreshToken)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidToken) {
			h.Log.Debug("tokens: refresh rejected", zap.Error(err))
			uierrors.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		h.Log.Error("tokens: refresh failed", zap.Error(err))
		uierrors.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	h.Metrics.TokenIssued("refresh")
	h.AuditLog.TokenRefreshed(ctx, r, t.Subject)
	uierrors.WriteJSON(w, http.StatusOK, refreshResponse{
		Token:        t.Token,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt.Unix(),
	})
}

// ServeJWKS handles GET /.well-known/jwks.json.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	set, err := h.Issuer.JWKS(ctx)
	if err != nil {
		h.Log.Error("tokens: load verification keys failed", zap.Error(err))
		uierrors.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "keys unavailable"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(set)
}

// ServeWhoAmI handles GET /api/whoami. It runs behind the bearer
// middleware, so an identity is always present.
//
//	{ "sub": "…", "globalRoles": [...], "resourceRoles": [...], "iat": …, "exp": … }
func (h *Handler) ServeWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentIdentity(r)
	if !ok {
		uierrors.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, id)
}
