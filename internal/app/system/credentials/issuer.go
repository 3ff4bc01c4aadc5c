// Package credentials mints and verifies the bearer credentials handed to
// clients after a successful login or registration.
//
// Tokens are EdDSA-signed JWTs carrying the subject, the installation issuer
// and server identity, and the role set granted at issuance. Key material
// comes from a KeyProvider; this package never decides which key is active.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	userstore "github.com/dalemusser/fieldauth/internal/app/store/users"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token uses.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// ErrInvalidToken is returned for any verification failure other than plain
// expiry.
var ErrInvalidToken = errors.New("credentials: invalid token")

// Claims is the JWT body.
type Claims struct {
	Server        string                `json:"server"`
	GlobalRoles   []string              `json:"globalRoles"`
	ResourceRoles []models.ResourceRole `json:"resourceRoles"`
	TokenUse      string                `json:"tokenUse"`
	jwt.RegisteredClaims
}

// Identity is what a verified access token asserts.
type Identity struct {
	Subject       string                `json:"sub"`
	GlobalRoles   []string              `json:"globalRoles"`
	ResourceRoles []models.ResourceRole `json:"resourceRoles"`
	IssuedAt      time.Time             `json:"iat"`
	ExpiresAt     time.Time             `json:"exp"`
}

// Tokens is the result of Issue.
type Tokens struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	// Subject is the user the tokens were minted for.
	Subject string `json:"-"`
}

// Directory is the user lookup the issuer needs.
type Directory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Config configures an Issuer.
type Config struct {
	Keys KeyProvider
	// Users confirms that a token's subject still exists. Optional.
	Users      Directory
	Issuer     string
	Server     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway tolerates clock skew on iat.
	Leeway time.Duration
	Log    *zap.Logger
	Now    func() time.Time
}

// Issuer signs and verifies credentials.
type Issuer struct {
	keys       KeyProvider
	users      Directory
	issuer     string
	server     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// New builds an Issuer.
func New(cfg Config) *Issuer {
	i := &Issuer{
		keys:       cfg.Keys,
		users:      cfg.Users,
		issuer:     cfg.Issuer,
		server:     cfg.Server,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		log:        cfg.Log,
		now:        cfg.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = time.Hour
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = 30 * 24 * time.Hour
	}
	if i.leeway <= 0 {
		i.leeway = 30 * time.Second
	}
	if i.log == nil {
		i.log = zap.NewNop()
	}
	if i.now == nil {
		i.now = func() time.Time { return time.Now().UTC() }
	}
	return i
}

/*─────────────────────────────────────────────────────────────────────────────*
| Issue                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// Issue mints an access token for u and, when includeRefresh is set, a
// companion refresh token.
func (i *Issuer) Issue(ctx context.Context, u *models.User, includeRefresh bool) (Tokens, error) {
	if u == nil || u.ID == "" {
		return Tokens{}, errors.New("credentials: issue for empty user")
	}
	key, err := i.keys.SigningKey(ctx)
	if err != nil {
		return Tokens{}, fmt.Errorf("credentials: signing key: %w", err)
	}

	now := i.now()
	access, exp, err := i.sign(key, u, UseAccess, now, i.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	out := Tokens{Token: access, ExpiresAt: exp, Subject: u.ID}

	if includeRefresh {
		refresh, _, err := i.sign(key, u, UseRefresh, now, i.refreshTTL)
		if err != nil {
			return Tokens{}, err
		}
		out.RefreshToken = refresh
	}
	return out, nil
}

func (i *Issuer) sign(key SigningKey, u *models.User, use string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Server:        i.server,
		GlobalRoles:   nonNil(u.GlobalRoles),
		ResourceRoles: u.ResourceRoles,
		TokenUse:      use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if claims.ResourceRoles == nil {
		claims.ResourceRoles = []models.ResourceRole{}
	}
	tk := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tk.Header["kid"] = key.KID
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(key.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("credentials: sign: %w", err)
	}
	return signed, exp, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Verify                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// Verify checks an access token. An otherwise valid token that has expired,
// or whose subject no longer exists, yields (nil, nil): callers treat it
// exactly like no token. A key provider or directory failure is returned
// wrapped; every other failure yields ErrInvalidToken.
func (i *Issuer) Verify(ctx context.Context, raw string) (*Identity, error) {
	claims, expired, err := i.parse(ctx, raw, UseAccess)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, nil
	}

	if i.users != nil {
		if _, err := i.users.GetByID(ctx, claims.Subject); err != nil {
			if errors.Is(err, userstore.ErrNotFound) {
				i.log.Info("credentials: token subject no longer exists", zap.String("sub", claims.Subject))
				return nil, nil
			}
			return nil, fmt.Errorf("credentials: confirm subject: %w", err)
		}
	}

	return &Identity{
		Subject:       claims.Subject,
		GlobalRoles:   claims.GlobalRoles,
		ResourceRoles: claims.ResourceRoles,
		IssuedAt:      claims.IssuedAt.Time.UTC(),
		ExpiresAt:     claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Refresh exchanges a live refresh token for a new token pair. Roles are
// re-read from the directory so grants made since the last login apply.
// Only ErrInvalidToken means the refresh token itself is bad.
func (i *Issuer) Refresh(ctx context.Context, raw string) (Tokens, error) {
	claims, expired, err := i.parse(ctx, raw, UseRefresh)
	if err != nil {
		return Tokens{}, err
	}
	if expired {
		return Tokens{}, ErrInvalidToken
	}
	if i.users == nil {
		return Tokens{}, errors.New("credentials: refresh needs a user directory")
	}
	u, err := i.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, fmt.Errorf("credentials: load subject: %w", err)
	}
	return i.Issue(ctx, u, true)
}

// parse verifies signature, issuer, server and use. expired is true when
// those all pass and only the expiry has lapsed.
func (i *Issuer) parse(ctx context.Context, raw, use string) (*Claims, bool, error) {
	if raw == "" {
		return nil, false, ErrInvalidToken
	}
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	// keyErr is set only when the key provider itself failed. An unknown
	// kid is a rejection of the token, not an outage.
	var keyErr error
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kid missing")
		}
		pub, err := i.keys.VerificationKey(ctx, kid)
		if err != nil && !errors.Is(err, ErrUnknownKey) {
			keyErr = err
		}
		return pub, err
	})
	if keyErr != nil && errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, false, fmt.Errorf("credentials: verification key: %w", keyErr)
	}
	if err != nil {
		i.log.Debug("credentials: token rejected", zap.Error(err))
		return nil, false, ErrInvalidToken
	}

	switch {
	case claims.Issuer != i.issuer,
		claims.Server != i.server,
		claims.TokenUse != use,
		claims.Subject == "",
		claims.ExpiresAt == nil,
		claims.IssuedAt == nil:
		return nil, false, ErrInvalidToken
	}

	now := i.now()
	if claims.IssuedAt.Time.After(now.Add(i.leeway)) {
		return nil, false, ErrInvalidToken
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return claims, true, nil
	}
	return claims, false, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
