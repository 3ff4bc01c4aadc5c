package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap"
)

// OIDC authenticates against a generic OpenID Connect issuer.
//
// Discovery runs on first use rather than at construction so a temporarily
// unreachable issuer does not keep the service from starting. A failed
// discovery is retried on the next request.
type OIDC struct {
	base
	issuer       string
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	client       *http.Client
	log          *zap.Logger

	mu    sync.Mutex
	party rp.RelyingParty
}

// NewOIDC constructs the oidc family adapter.
func NewOIDC(_ context.Context, cfg ProviderConfig, env Env) (FederatedAdapter, error) {
	if env.BaseURL == "" {
		return nil, fmt.Errorf("oidc: base URL is required to build the redirect URL")
	}
	scopes := cfg.Strings("scope")
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, oidc.ScopeEmail, oidc.ScopeProfile}
	}
	return &OIDC{
		base:         newBase(cfg),
		issuer:       strings.TrimRight(cfg.String("issuer"), "/"),
		clientID:     cfg.String("clientID"),
		clientSecret: cfg.String("clientSecret"),
		redirectURI:  strings.TrimRight(env.BaseURL, "/") + cfg.CallbackPath,
		scopes:       scopes,
		client:       env.httpClient(),
		log:          env.logger(),
	}, nil
}

func (o *OIDC) relyingParty(ctx context.Context) (rp.RelyingParty, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.party != nil {
		return o.party, nil
	}
	party, err := rp.NewRelyingPartyOIDC(ctx, o.issuer, o.clientID, o.clientSecret, o.redirectURI, o.scopes,
		rp.WithHTTPClient(o.client),
	)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery for %s: %w", o.issuer, err)
	}
	o.party = party
	o.log.Info("oidc: discovered issuer", zap.String("provider", o.id), zap.String("issuer", o.issuer))
	return party, nil
}

func (o *OIDC) Begin(ctx context.Context, state string) (Begin, error) {
	party, err := o.relyingParty(ctx)
	if err != nil {
		return Begin{}, err
	}
	return Begin{RedirectURL: rp.AuthURL(state, party)}, nil
}

func (o *OIDC) Verify(ctx context.Context, r *http.Request, _ Pending) (*Assertion, error) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		o.log.Warn("oidc: provider returned error",
			zap.String("provider", o.id),
			zap.String("error", errParam),
			zap.String("description", q.Get("error_description")))
		return nil, ErrProviderDenied
	}
	code := q.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	party, err := o.relyingParty(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, party)
	if err != nil {
		return nil, fmt.Errorf("oidc: code exchange: %w", err)
	}
	claims := tokens.IDTokenClaims

	subject := claims.GetSubject()
	email := claims.Email
	name := claims.Name

	// some issuers keep email and profile out of the ID token
	if email == "" {
		info, err := rp.Userinfo[*oidc.UserInfo](ctx, tokens.AccessToken, tokens.TokenType, subject, party)
		if err != nil {
			return nil, fmt.Errorf("oidc: userinfo: %w", err)
		}
		email = info.Email
		if name == "" {
			name = info.Name
		}
	}

	a := &Assertion{
		Provider: o.id,
		Family:   FamilyOIDC,
		Subject:  subject,
		Name:     name,
		Profile: map[string]any{
			"issuer": o.issuer,
			"sub":    subject,
			"email":  email,
			"name":   name,
		},
	}
	// the issuer is trusted by configuration, so its emails count as verified
	if email != "" {
		a.Emails = append(a.Emails, AssertedEmail{Address: email, Verified: true})
	}
	return a, nil
}
