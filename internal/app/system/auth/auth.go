// Package auth holds the browser session used across a sign-in round trip
// and the bearer-token middleware for API routes.
//
// The session cookie carries only two things: the state nonce of a federated
// sign-in in flight, and a one-shot flash with the last form error. Signed-in
// identity is never kept in the cookie; clients hold bearer credentials.
package auth

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                           |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	DefaultSessionName = "fieldauth-session"

	flowStateKey    = "flow_state"
	flowProviderKey = "flow_provider"
	flashKey        = "flash"
)

// Flash is the form state carried to the next page view after a failed
// submission. Values holds only non-sensitive fields; passwords never go in.
type Flash struct {
	Message string
	Fields  map[string]string
	Values  map[string]string
}

func init() {
	gob.Register(&Flash{})
}

// SessionManager wraps the gorilla cookie store.
type SessionManager struct {
	store *sessions.CookieStore
	name  string
	log   *zap.Logger
}

// NewSessionManager builds the cookie store. The `secure` flag controls
// whether cookies are marked Secure and which SameSite mode is used.
//
// In production (secure=true), cookies are Secure + SameSite=None so the
// session survives a SAML POST back from the identity provider.
// In local dev over http://localhost, use secure=false so cookies are accepted.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}
	if name == "" {
		name = DefaultSessionName
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		store.Options.SameSite = http.SameSiteNoneMode
	}

	logger.Info("session store initialized",
		zap.Bool("secure", secure),
		zap.String("domain", domain))

	return &SessionManager{store: store, name: name, log: logger}, nil
}

// session loads the cookie session. A cookie that fails to decode (rotated
// key, tampering) is replaced with a fresh session instead of failing the
// request.
func (m *SessionManager) session(r *http.Request) (*sessions.Session, error) {
	sess, err := m.store.Get(r, m.name)
	if err == nil {
		return sess, nil
	}
	var scErr securecookie.Error
	if errors.As(err, &scErr) && scErr.IsDecode() {
		m.log.Debug("auth: discarding undecodable session cookie", zap.Error(err))
		return sess, nil
	}
	return nil, err
}

/*─────────────────────────────────────────────────────────────────────────────*
| Federated flow state                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// SetFlowState records the state nonce of a federated sign-in for provider.
// A newer sign-in replaces any earlier one.
func (m *SessionManager) SetFlowState(w http.ResponseWriter, r *http.Request, provider, state string) error {
	sess, err := m.session(r)
	if err != nil {
		return err
	}
	sess.Values[flowStateKey] = state
	sess.Values[flowProviderKey] = provider
	return sess.Save(r, w)
}

// FlowState returns the state nonce recorded for provider, or "".
func (m *SessionManager) FlowState(r *http.Request, provider string) string {
	sess, err := m.session(r)
	if err != nil {
		return ""
	}
	if p, _ := sess.Values[flowProviderKey].(string); p != provider {
		return ""
	}
	s, _ := sess.Values[flowStateKey].(string)
	return s
}

// ClearFlowState forgets the federated sign-in in flight.
func (m *SessionManager) ClearFlowState(w http.ResponseWriter, r *http.Request) error {
	sess, err := m.session(r)
	if err != nil {
		return err
	}
	if _, ok := sess.Values[flowStateKey]; !ok {
		return nil
	}
	delete(sess.Values, flowStateKey)
	delete(sess.Values, flowProviderKey)
	return sess.Save(r, w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Flash                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// SetFlash stores f for the next page view.
func (m *SessionManager) SetFlash(w http.ResponseWriter, r *http.Request, f Flash) error {
	sess, err := m.session(r)
	if err != nil {
		return err
	}
	sess.Values[flashKey] = &f
	return sess.Save(r, w)
}

// PopFlash returns and clears the pending flash. It returns nil when there
// is none.
func (m *SessionManager) PopFlash(w http.ResponseWriter, r *http.Request) *Flash {
	sess, err := m.session(r)
	if err != nil {
		return nil
	}
	f, ok := sess.Values[flashKey].(*Flash)
	if !ok {
		return nil
	}
	delete(sess.Values, flashKey)
	if err := sess.Save(r, w); err != nil {
		m.log.Warn("auth: could not clear flash", zap.Error(err))
	}
	return f
}

/*─────────────────────────────────────────────────────────────────────────────*
| Bearer tokens                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

// TokenVerifier checks a bearer access token. A nil identity with a nil
// error means the token is expired or its subject is gone.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*credentials.Identity, error)
}

type ctxKey string

const identityKey ctxKey = "identity"

// CurrentIdentity returns the identity verified by RequireBearer.
func CurrentIdentity(r *http.Request) (*credentials.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(*credentials.Identity)
	return id, ok
}

// WithIdentity returns a copy of r carrying id, as RequireBearer does.
func WithIdentity(r *http.Request, id *credentials.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, id))
}

// RequireBearer rejects requests without a live access token in the
// Authorization header. Absent, expired and invalid tokens all get a plain
// 401; verifier failures other than ErrInvalidToken get a 500.
func RequireBearer(v TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				unauthorized(w)
				return
			}
			id, err := v.Verify(r.Context(), raw)
			if err != nil && !errors.Is(err, credentials.ErrInvalidToken) {
				logger.Error("auth: bearer verification failed", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if id == nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, WithIdentity(r, id))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="fieldauth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
