package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger is satisfied by *mongo.Client.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// SigningKeys reports whether tokens can currently be signed.
type SigningKeys interface {
	SigningKey(ctx context.Context) (credentials.SigningKey, error)
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client Pinger
	Keys   SigningKeys
	Log    *zap.Logger
}

// NewHandler constructs a health Handler. keys may be nil.
func NewHandler(client Pinger, keys SigningKeys, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Keys:   keys,
		Log:    logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Signing  string `json:"signing,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "signing":"ready" }
//
// On DB failure or with no usable signing key: 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	if h.Keys != nil {
		if _, err := h.Keys.SigningKey(ctx); err != nil {
			h.Log.Error("health-check: no signing key", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			resp.Status = "error"
			resp.Signing = "unavailable"
			resp.Message = "No active signing key"
			resp.Error = err.Error()
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		resp.Signing = "ready"
	}

	_ = json.NewEncoder(w).Encode(resp)
}
